// Command machinehub runs the machine orchestration server and talks to it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"machinehub/internal/version"
)

const (
	envURL   = "MACHINEHUB_URL"
	envToken = "MACHINEHUB_TOKEN"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "machinehub: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "machinehub",
		Short: "Connect to and drive RepRapFirmware and Duet controllers",
		Long: `machinehub keeps sessions to several printer controllers, tracks which one
is selected and routes G-code to it. "serve" runs the hub; the other commands
talk to a running hub over its HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	remote := &remoteOptions{}
	root.PersistentFlags().StringVar(&remote.URL, "url", envOr(envURL, defaultURL), "machinehub server URL")
	root.PersistentFlags().StringVar(&remote.Token, "token", os.Getenv(envToken), "API token")
	root.PersistentFlags().DurationVar(&remote.Timeout, "timeout", defaultRequestTimeout, "request timeout")
	root.PersistentFlags().BoolVar(&remote.JSON, "json", false, "print raw JSON")

	root.AddCommand(newServeCmd(stderr))
	root.AddCommand(newStatusCmd(remote))
	root.AddCommand(newListCmd(remote))
	root.AddCommand(newConnectCmd(remote))
	root.AddCommand(newDisconnectCmd(remote))
	root.AddCommand(newSelectCmd(remote))
	root.AddCommand(newSendCmd(remote))
	root.AddCommand(newLogsCmd(remote))
	root.AddCommand(newVersionCmd())
	return root
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}
