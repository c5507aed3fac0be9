package client

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"wirerpc/loadbalance"
	"wirerpc/pending"
	"wirerpc/server"
)

type EchoArgs struct {
	S string
}

type Echo struct{}

func (e *Echo) Echo(args *EchoArgs, reply *string) error {
	*reply = args.S
	return nil
}

func (e *Echo) Fail(args *EchoArgs, reply *string) error {
	return errors.New("bad input")
}

type SleepArgs struct {
	Millis int
}

type Sleeper struct{}

func (s *Sleeper) Sleep(args *SleepArgs, reply *bool) error {
	time.Sleep(time.Duration(args.Millis) * time.Millisecond)
	*reply = true
	return nil
}

// startServer binds a server with the given registrations to a random port.
func startServer(t *testing.T, rcvrs ...any) (addr string, stop func()) {
	t.Helper()
	svr := server.NewServer(server.Options{})
	for _, rcvr := range rcvrs {
		if err := svr.Register(rcvr); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svr.BindFirst("127.0.0.1", 0); err != nil {
		t.Fatal(err)
	}
	go svr.Serve()
	return svr.Addr(), func() { svr.Shutdown(time.Second) }
}

func newTestClient(t *testing.T, addrs ...string) *Client {
	t.Helper()
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, addr := range addrs {
		if err := c.Connect(addr); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCallEcho(t *testing.T) {
	addr, stop := startServer(t, &Echo{})
	defer stop()
	c := newTestClient(t, addr)

	var reply string
	if err := c.Call("Echo", "Echo", &EchoArgs{S: "hi"}, &reply, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if reply != "hi" {
		t.Fatalf(`expected "hi", got %q`, reply)
	}
}

func TestCallApplicationError(t *testing.T) {
	addr, stop := startServer(t, &Echo{})
	defer stop()
	c := newTestClient(t, addr)

	var reply string
	err := c.Call("Echo", "Fail", &EchoArgs{S: "x"}, &reply, 5*time.Second)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Kind != "application_error" || remote.Message != "bad input" {
		t.Fatalf("unexpected remote error: %+v", remote)
	}
}

func TestCallNotFound(t *testing.T) {
	addr, stop := startServer(t, &Echo{})
	defer stop()
	c := newTestClient(t, addr)

	var reply string
	var remote *RemoteError
	if err := c.Call("NoSuchService", "Echo", &EchoArgs{}, &reply, 5*time.Second); !errors.As(err, &remote) || remote.Kind != "not_found" {
		t.Fatalf("expected not_found RemoteError, got %v", err)
	}
	if err := c.Call("Echo", "NoSuchMethod", &EchoArgs{}, &reply, 5*time.Second); !errors.As(err, &remote) || remote.Kind != "not_found" {
		t.Fatalf("expected not_found RemoteError, got %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	// A listener that accepts and then goes silent: the call must fail
	// with ErrTimeout after ~1s, not before, not indefinitely.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	c := newTestClient(t, ln.Addr().String())

	var reply string
	start := time.Now()
	callErr := c.Call("Echo", "Echo", &EchoArgs{S: "hi"}, &reply, time.Second)
	elapsed := time.Since(start)

	if !errors.Is(callErr, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", callErr)
	}
	if elapsed < time.Second {
		t.Fatalf("timed out early: %s", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("timeout fired far past the deadline: %s", elapsed)
	}
}

func TestGoAsync(t *testing.T) {
	addr, stop := startServer(t, &Echo{})
	defer stop()
	c := newTestClient(t, addr)

	var replies [4]string
	calls := make([]*Call, 4)
	for i := range calls {
		calls[i] = c.Go("Echo", "Echo", &EchoArgs{S: fmt.Sprintf("msg-%d", i)}, &replies[i], 5*time.Second, nil)
	}
	for i, call := range calls {
		<-call.Done
		if call.Error != nil {
			t.Fatalf("call %d: %v", i, call.Error)
		}
		if replies[i] != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("call %d: reply %q delivered to wrong caller", i, replies[i])
		}
	}
}

func TestCancel(t *testing.T) {
	addr, stop := startServer(t, &Sleeper{})
	defer stop()
	c := newTestClient(t, addr)

	var reply bool
	call := c.Go("Sleeper", "Sleep", &SleepArgs{Millis: 500}, &reply, 0, nil)
	if !c.Cancel(call) {
		t.Fatal("cancel of in-flight call returned false")
	}
	<-call.Done
	if !errors.Is(call.Error, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", call.Error)
	}
	// Cancel is distinct from timeout.
	if errors.Is(call.Error, pending.ErrTimeout) {
		t.Fatal("cancellation reported as timeout")
	}
	if c.Cancel(call) {
		t.Fatal("second cancel should fail")
	}
}

func TestRoundRobinAcrossEndpoints(t *testing.T) {
	addrA, stopA := startServer(t, &Echo{})
	defer stopA()
	addrB, stopB := startServer(t, &Echo{})
	defer stopB()

	c := newTestClient(t, addrA, addrB)

	// Strict alternation for an unchanged 2-endpoint set. Both servers
	// answer identically, so distribution is observed via the balancer
	// cursor: 4 calls must succeed against A, B, A, B.
	for i := 0; i < 4; i++ {
		var reply string
		if err := c.Call("Echo", "Echo", &EchoArgs{S: "ping"}, &reply, 5*time.Second); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	// Make distribution observable: stop endpoint B. Every second call
	// now lands on the dead endpoint and fails; the others keep working.
	if err := c.Disconnect(addrB); err != nil {
		t.Fatal(err)
	}
	var reply string
	if err := c.Call("Echo", "Echo", &EchoArgs{S: "ping"}, &reply, 5*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestCloseFailsPending(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		select {}
	}()

	c, err := NewClient(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(ln.Addr().String()); err != nil {
		t.Fatal(err)
	}

	var reply string
	call := c.Go("Echo", "Echo", &EchoArgs{S: "hi"}, &reply, 0, nil)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	<-call.Done
	if !errors.Is(call.Error, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", call.Error)
	}

	// Calls after Close fail immediately.
	after := c.Go("Echo", "Echo", &EchoArgs{S: "hi"}, &reply, 0, nil)
	<-after.Done
	if !errors.Is(after.Error, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", after.Error)
	}
}

func TestNoEndpoints(t *testing.T) {
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var reply string
	if err := c.Call("Echo", "Echo", &EchoArgs{}, &reply, time.Second); !errors.Is(err, loadbalance.ErrNoEndpoints) {
		t.Fatalf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestConnectDisconnectErrors(t *testing.T) {
	addr, stop := startServer(t, &Echo{})
	defer stop()
	c := newTestClient(t, addr)

	if err := c.Connect(addr); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	if err := c.Disconnect("127.0.0.1:1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
