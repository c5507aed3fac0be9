// The wirerpc command exposes a demo service process and a one-shot caller
// for poking at it. Configuration comes from flags or WIRERPC_* environment
// variables (.env files are honored).
package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "wirerpc",
	Short:   "request/response RPC over framed TCP",
	Version: version,
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		initConfig(cmd)
	}
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("codec", "json", "payload codec: json, gob, raw")
	rootCmd.AddCommand(serveCmd, callCmd)
}

func initConfig(cmd *cobra.Command) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("wirerpc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(cmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, err
	}
	return cfg.Build()
}
