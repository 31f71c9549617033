package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/vovakirdan/wirerelay/internal/client"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "127.0.0.1:8233", "relay address (host:port or ws:// URL)")
	sender := flag.String("from", "smoke-sender", "identity that sends")
	receiver := flag.String("to", "smoke-receiver", "identity that receives")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dial := client.Dial
	if strings.HasPrefix(*addr, "ws://") || strings.HasPrefix(*addr, "wss://") {
		dial = client.DialWebSocket
	}

	rx, err := dial(ctx, *addr, *receiver)
	if err != nil {
		return fmt.Errorf("dial receiver: %w", err)
	}
	defer rx.Close()

	tx, err := dial(ctx, *addr, *sender)
	if err != nil {
		return fmt.Errorf("dial sender: %w", err)
	}
	defer tx.Close()

	// Logins are not acknowledged, so resend until the relay has both ends.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := tx.Send(*receiver, *text); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("no delivery before timeout: %w", ctx.Err())
		case m, ok := <-rx.Incoming():
			if !ok {
				return fmt.Errorf("receiver disconnected: %v", rx.Err())
			}
			if m.Sender == proto.ServerIdentity {
				return fmt.Errorf("receiver rejected: %s", m.Text())
			}
			fmt.Printf("Received: from=%s to=%s text=%q\n", m.Sender, m.Recipient, m.Text())
			if err := tx.Logout(); err != nil {
				return fmt.Errorf("logout sender: %w", err)
			}
			return rx.Logout()
		case m, ok := <-tx.Incoming():
			if !ok {
				return fmt.Errorf("sender disconnected: %v", tx.Err())
			}
			fmt.Printf("Sender notice: %s\n", m.Text())
		case <-ticker.C:
		}
	}
}
