package test

import (
	"testing"
	"time"

	"wirerpc/client"
	"wirerpc/codec"
	"wirerpc/server"
)

func startBenchServer(b *testing.B) string {
	b.Helper()
	svr := server.NewServer(server.Options{})
	if err := svr.Register(&Echo{}); err != nil {
		b.Fatal(err)
	}
	if _, err := svr.BindFirst("127.0.0.1", 0); err != nil {
		b.Fatal(err)
	}
	go svr.Serve()
	b.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr.Addr()
}

func benchCalls(b *testing.B, codecName string) {
	addr := startBenchServer(b)
	c, err := client.NewClient(client.Options{Codec: codecName})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	if err := c.Connect(addr); err != nil {
		b.Fatal(err)
	}

	args := &EchoArgs{S: "benchmark payload benchmark payload"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var reply string
		if err := c.Call("Echo", "Echo", args, &reply, 5*time.Second); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCallJSON(b *testing.B) {
	benchCalls(b, codec.NameJSON)
}

func BenchmarkCallGob(b *testing.B) {
	benchCalls(b, codec.NameGob)
}

func BenchmarkCallParallel(b *testing.B) {
	addr := startBenchServer(b)
	c, err := client.NewClient(client.Options{})
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	if err := c.Connect(addr); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := &EchoArgs{S: "parallel"}
		for pb.Next() {
			var reply string
			if err := c.Call("Echo", "Echo", args, &reply, 5*time.Second); err != nil {
				b.Fatal(err)
			}
		}
	})
}
