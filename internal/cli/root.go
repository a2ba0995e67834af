// Package cli is the chorus command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/user/chorus/internal/config"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:           "chorus",
		Short:         "Multi-model synthesis engine",
		Long:          "chorus answers as a single persona by fanning a message out to coding, creative and conversational model seats and synthesizing their notes into one reply.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ~/.config/chorus/config.toml)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("transport", "", "seat transport: http or command")
	flags.String("model-host", "", "model host base URL for the http transport")
	flags.String("bridge-command", "", "bridge command for the command transport")
	flags.String("seats-file", "", "seat to model mapping file")
	flags.String("constructs-dir", "", "construct identity directory")
	flags.String("db", "", "sqlite database path")
	flags.String("trace-exporter", "", "trace exporter: none or stdout")
	bindFlags(v, flags, map[string]string{
		config.KeyLogLevel:      "log-level",
		config.KeyTransport:     "transport",
		config.KeyModelHost:     "model-host",
		config.KeyBridgeCommand: "bridge-command",
		config.KeySeatsFile:     "seats-file",
		config.KeyConstructsDir: "constructs-dir",
		config.KeyDBPath:        "db",
		config.KeyTraceExporter: "trace-exporter",
	})

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(v),
		newAskCmd(v),
		newSeatsCmd(v),
	)

	return rootCmd
}

// bindFlags binds config keys to flags; a bound flag only wins when set.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", name, err))
		}
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}
