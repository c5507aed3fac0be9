package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wirerpc/client"
)

var callCmd = &cobra.Command{
	Use:   "call SERVICE METHOD [ARGS_JSON]",
	Short: "invoke a remote method and print the JSON result",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		c, err := client.NewClient(client.Options{
			Logger: log,
			Codec:  viper.GetString("codec"),
		})
		if err != nil {
			return err
		}
		defer c.Close()

		for _, endpoint := range strings.Split(viper.GetString("endpoints"), ",") {
			if err := c.Connect(strings.TrimSpace(endpoint)); err != nil {
				return err
			}
		}

		callArgs := json.RawMessage("null")
		if len(args) == 3 {
			callArgs = json.RawMessage(args[2])
		}

		var reply json.RawMessage
		timeout := viper.GetDuration("timeout")
		if err := c.Call(args[0], args[1], callArgs, &reply, timeout); err != nil {
			return err
		}
		fmt.Println(string(reply))
		return nil
	},
}

func init() {
	callCmd.Flags().String("endpoints", "127.0.0.1:7320", "comma-separated endpoint addresses")
	callCmd.Flags().Duration("timeout", 10*time.Second, "per-call timeout (0 waits forever)")
}
