package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dan-strohschein/qpipe/client"
)

const (
	addrFlag        = "addr"
	timeoutFlag     = "timeout"
	logLevelFlag    = "log-level"
	tlsFlag         = "tls"
	tlsInsecureFlag = "tls-insecure"
	tlsCAFlag       = "tls-ca"
	debugFlag       = "debug"
)

// config is the viper instance shared by all commands.
var config = viper.New()

// newRootCommand reads settings from flags, QPIPE_* environment variables or
// qpipe.yaml (in that order).
func newRootCommand() *cobra.Command {
	config.SetConfigName("qpipe")
	config.SetConfigType("yaml")

	config.SetEnvPrefix("QPIPE")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	for _, path := range []string{"/etc/qpipe", "$HOME/.qpipe", "."} {
		config.AddConfigPath(path)
	}
	_ = config.ReadInConfig()

	defaults := client.DefaultOptions()

	cmd := &cobra.Command{
		Use:           "qpipe",
		Short:         "Queue commands and run them as a pipeline or a MULTI/EXEC transaction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			bindFlags(cmd.Flags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(addrFlag, defaults.Address, "server address (host:port)")
	flags.Duration(timeoutFlag, 10*time.Second, "overall deadline for the command")
	flags.String(logLevelFlag, "none", "log level (debug, info, warn, error, none)")
	flags.Bool(tlsFlag, false, "connect with TLS")
	flags.Bool(tlsInsecureFlag, false, "skip TLS certificate verification")
	flags.String(tlsCAFlag, "", "path to a CA certificate")
	flags.Bool(debugFlag, false, "print full error details")

	return cmd
}

// bindFlags binds every flag of the running command to its viper key.
func bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if err := config.BindPFlag(f.Name, f); err != nil {
			panic("failed to bind pflag: " + err.Error())
		}
	})
}

// clientOptions builds client options from the resolved configuration.
func clientOptions() *client.ClientOptions {
	opts := client.DefaultOptions()
	opts.Address = config.GetString(addrFlag)
	opts.LogLevel = config.GetString(logLevelFlag)
	opts.DebugMode = config.GetBool(debugFlag)
	opts.TLSEnabled = config.GetBool(tlsFlag)
	opts.TLSInsecureSkipVerify = config.GetBool(tlsInsecureFlag)
	opts.TLSCAFile = config.GetString(tlsCAFlag)
	return &opts
}
