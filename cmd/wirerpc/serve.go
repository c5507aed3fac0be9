package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wirerpc/middleware"
	"wirerpc/server"
)

// Demo services, in the shape any user service takes.

type EchoArgs struct {
	S string `json:"s"`
}

type Echo struct{}

func (e *Echo) Echo(args *EchoArgs, reply *string) error {
	*reply = args.S
	return nil
}

type AddArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type Arith struct{}

func (a *Arith) Add(args *AddArgs, reply *float64) error {
	*reply = args.A + args.B
	return nil
}

func (a *Arith) Div(args *AddArgs, reply *float64) error {
	if args.B == 0 {
		return errors.New("division by zero")
	}
	*reply = args.A / args.B
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a demo service process (Echo and Arith services)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		svr := server.NewServer(server.Options{Logger: log})
		if err := svr.Register(&Echo{}); err != nil {
			return err
		}
		if err := svr.Register(&Arith{}); err != nil {
			return err
		}

		svr.Use(middleware.Logging(log))
		if rps := viper.GetFloat64("rate-limit"); rps > 0 {
			svr.Use(middleware.RateLimit(rate.Limit(rps), viper.GetInt("rate-burst")))
		}

		bind := viper.GetString("bind")
		host, _, found := strings.Cut(bind, ":")
		if !found {
			host = bind
		}
		if viper.GetBool("random-port") {
			port, err := svr.BindFirst(host, 0)
			if err != nil {
				return err
			}
			log.Info("bound to random port", zap.Int("port", port))
		} else if err := svr.Bind(bind); err != nil {
			return err
		}
		return svr.Serve()
	},
}

func init() {
	serveCmd.Flags().String("bind", "127.0.0.1:7320", "address to listen on")
	serveCmd.Flags().Bool("random-port", false, "bind to a random free port instead")
	serveCmd.Flags().Float64("rate-limit", 0, "max sustained requests per second (0 disables)")
	serveCmd.Flags().Int("rate-burst", 16, "burst allowance for the rate limit")
}
