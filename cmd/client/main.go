package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr        string
		user        string
		to          string
		dialTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wirerelay-client",
		Short: "Interactive client for a wirerelay server",
		Long: `Logs in as --user and relays terminal lines.

  /to <name>   choose who plain lines go to
  @name text   send one line to name
  /quit        log out and exit

--addr accepts host:port for TCP or a ws:// URL for the WebSocket bridge.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			c, err := connect(ctx, addr, user, dialTimeout)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected to %s as %s\n", addr, user)

			term := client.NewTerminal(c, cmd.InOrStdin(), out)
			if to != "" {
				term.SetRecipient(to)
				fmt.Fprintf(out, "* talking to %s\n", to)
			}
			return term.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:8233", "relay address")
	flags.StringVarP(&user, "user", "u", "", "identity to log in as (required)")
	flags.StringVar(&to, "to", "", "initial recipient")
	flags.DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "connection timeout")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func connect(ctx context.Context, addr, user string, timeout time.Duration) (*client.Client, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		// The WebSocket stream is bound to ctx for its whole lifetime.
		return client.DialWebSocket(ctx, addr, user)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Dial(dialCtx, addr, user)
}
