// Command support-cli talks to a running support server.
//
// Customers chat from the terminal:
//
//	support-cli chat --server http://localhost:8080
//
// Agents work the queue with a dashboard token:
//
//	support-cli agent queue --token $TOKEN
//	support-cli agent claim <session-id> --token $TOKEN
//	support-cli agent open <session-id> --token $TOKEN
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	server    string
	token     string
	tokenFile string
	verbose   bool
}

func main() {
	cobra.EnableTraverseRunHooks = true
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "support-cli",
		Short:        "Terminal client for the PIXODE support chat",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("SUPPORT_SERVER", "http://localhost:8080"), "Support server base URL (or set SUPPORT_SERVER)")
	flags.StringVar(&opts.token, "token", os.Getenv("SUPPORT_TOKEN"), "Dashboard bearer token (or set SUPPORT_TOKEN)")
	flags.StringVar(&opts.tokenFile, "session-file", "", "Where the customer session is remembered (default: user config dir)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log client internals to stderr")

	rootCmd.AddCommand(
		buildChatCmd(opts),
		buildAgentCmd(opts),
		buildTokenCmd(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
