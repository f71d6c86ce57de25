package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"machinehub/internal/client"
	"machinehub/internal/machine"
)

const (
	defaultURL            = client.DefaultURL
	defaultRequestTimeout = 30 * time.Second
)

type remoteOptions struct {
	URL     string
	Token   string
	Timeout time.Duration
	JSON    bool
}

func (o *remoteOptions) client() (*client.Client, error) {
	return client.New(o.URL, o.Token, &http.Client{Timeout: o.Timeout})
}

func (o *remoteOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

func newStatusCmd(remote *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show selection and transition state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := remote.client()
			if err != nil {
				return err
			}
			ctx, cancel := remote.context(cmd)
			defer cancel()
			status, err := hub.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if remote.JSON {
				return printJSON(out, status)
			}
			fmt.Fprintf(out, "selected:      %s\n", status.Selected)
			fmt.Fprintf(out, "machines:      %d\n", status.Machines)
			fmt.Fprintf(out, "connecting:    %s\n", gateText(status.Connecting, status.ConnectingEndpoint))
			fmt.Fprintf(out, "disconnecting: %s\n", gateText(status.Disconnecting, status.DisconnectingEndpoint))
			return nil
		},
	}
}

func newListCmd(remote *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := remote.client()
			if err != nil {
				return err
			}
			ctx, cancel := remote.context(cmd)
			defer cancel()
			sessions, err := hub.List(ctx)
			if err != nil {
				return err
			}
			if remote.JSON {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		},
	}
}

func newConnectCmd(remote *remoteOptions) *cobra.Command {
	var user, password string
	cmd := &cobra.Command{
		Use:   "connect <endpoint>",
		Short: "Connect to a controller and select it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := remote.client()
			if err != nil {
				return err
			}
			ctx, cancel := remote.context(cmd)
			defer cancel()
			info, err := hub.Connect(ctx, client.ConnectOptions{
				Endpoint: args[0],
				User:     user,
				Password: password,
			})
			if err != nil {
				return err
			}
			if remote.JSON {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s (%s)\n", info.Endpoint, boardText(info))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user name, when the controller wants one")
	cmd.Flags().StringVar(&password, "password", "", "controller password (server default when empty)")
	return cmd
}

func newDisconnectCmd(remote *remoteOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "disconnect [endpoint]",
		Short: "Disconnect a controller, the selected one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := remote.client()
			if err != nil {
				return err
			}
			endpoint := ""
			if len(args) == 1 {
				endpoint = args[0]
			}
			ctx, cancel := remote.context(cmd)
			defer cancel()
			if err := hub.Disconnect(ctx, endpoint, force); err != nil {
				return err
			}
			if endpoint == "" {
				endpoint = "selected machine"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s\n", endpoint)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "drop the session without telling the controller")
	return cmd
}

func newSelectCmd(remote *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select <endpoint>",
		Short: "Make a connected controller the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := remote.client()
			if err != nil {
				return err
			}
			ctx, cancel := remote.context(cmd)
			defer cancel()
			status, err := hub.Select(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected %s\n", status.Selected)
			return nil
		},
	}
}

func newSendCmd(remote *remoteOptions) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "send <code>...",
		Short: "Send G-code to the selected controller",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := remote.client()
			if err != nil {
				return err
			}
			ctx, cancel := remote.context(cmd)
			defer cancel()
			reply, err := hub.Send(ctx, target, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if remote.JSON {
				return printJSON(cmd.OutOrStdout(), reply)
			}
			response := strings.TrimRight(reply.Response, "\n")
			if response != "" {
				fmt.Fprintln(cmd.OutOrStdout(), response)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "machine", "", "endpoint to send to instead of the selected one")
	return cmd
}

func newLogsCmd(remote *remoteOptions) *cobra.Command {
	query := client.LogQuery{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show buffered log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := remote.client()
			if err != nil {
				return err
			}
			ctx, cancel := remote.context(cmd)
			defer cancel()
			entries, err := hub.Logs(ctx, query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if remote.JSON {
				return printJSON(out, entries)
			}
			for _, entry := range entries {
				fmt.Fprintf(out, "%s %-7s %s\n", entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&query.Level, "level", "", "minimum level (debug, info, warning, error)")
	cmd.Flags().StringVar(&query.Machine, "machine", "", "only entries for this endpoint")
	cmd.Flags().IntVar(&query.Limit, "limit", 50, "maximum number of entries")
	return cmd
}

func printSessions(out io.Writer, sessions []machine.SessionInfo) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "\tENDPOINT\tSTATUS\tBOARD\tFIRMWARE")
	for _, session := range sessions {
		marker := ""
		if session.Selected {
			marker = "*"
		}
		firmware := strings.TrimSpace(session.State.FirmwareName + " " + session.State.FirmwareVersion)
		if firmware == "" {
			firmware = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", marker, session.Endpoint, session.Status, boardText(session), firmware)
	}
	return writer.Flush()
}

func boardText(info machine.SessionInfo) string {
	if name := info.State.Board.Name; name != "" {
		return name
	}
	if boardType := info.State.Board.Type; boardType != "" {
		return boardType
	}
	return "-"
}

func gateText(active bool, endpoint string) string {
	if !active {
		return "idle"
	}
	return endpoint
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
