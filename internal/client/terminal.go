package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

// IntentKind classifies one line of terminal input.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentSend
	IntentSwitch
	IntentQuit
)

// Intent is a validated outbound action parsed from terminal input.
type Intent struct {
	Kind IntentKind
	To   string
	Text string
}

var (
	ErrNoRecipient  = errors.New("no recipient selected, use /to <name>")
	ErrUnknownInput = errors.New("unknown command")
)

// ParseLine turns a terminal line into an intent. current is the recipient
// selected by the last /to command.
//
//	/to <name>   select the recipient for following lines
//	/quit        log out and exit
//	@name text   send one line to name without switching
//	text         send to the current recipient
func ParseLine(line, current string) (Intent, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return Intent{Kind: IntentNone}, nil
	case line == "/quit":
		return Intent{Kind: IntentQuit}, nil
	case line == "/to" || strings.HasPrefix(line, "/to "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "/to"))
		if name == "" {
			return Intent{}, ErrNoRecipient
		}
		return Intent{Kind: IntentSwitch, To: name}, nil
	case strings.HasPrefix(line, "/"):
		return Intent{}, fmt.Errorf("%w: %s", ErrUnknownInput, strings.Fields(line)[0])
	case strings.HasPrefix(line, "@"):
		name, text, _ := strings.Cut(line[1:], " ")
		text = strings.TrimSpace(text)
		if name == "" || text == "" {
			return Intent{}, fmt.Errorf("%w: expected @name text", ErrUnknownInput)
		}
		return Intent{Kind: IntentSend, To: name, Text: text}, nil
	}

	if current == "" {
		return Intent{}, ErrNoRecipient
	}
	return Intent{Kind: IntentSend, To: current, Text: line}, nil
}

// Terminal relays lines from in to the client and prints deliveries to out.
type Terminal struct {
	client *Client
	in     io.Reader
	out    io.Writer
	to     string
}

// NewTerminal binds c to a line based input and an output stream.
func NewTerminal(c *Client, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{client: c, in: in, out: out}
}

// SetRecipient selects where plain lines go, as /to does.
func (t *Terminal) SetRecipient(to string) {
	t.to = to
}

// Run blocks until /quit, end of input, ctx cancellation or the server
// closing the connection.
//
// Input is read on a separate goroutine. When Run returns for any reason
// other than end of input, that goroutine stays blocked until the next line
// or EOF arrives. Close the reader given to NewTerminal to release it.
func (t *Terminal) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	incoming := t.client.Incoming()
	for {
		select {
		case <-ctx.Done():
			return t.quit()
		case msg, ok := <-incoming:
			if !ok {
				fmt.Fprintln(t.out, "* connection closed")
				return t.client.Err()
			}
			t.print(msg)
		case line, ok := <-lines:
			if !ok {
				return t.quit()
			}
			done, err := t.handle(line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (t *Terminal) handle(line string) (bool, error) {
	intent, err := ParseLine(line, t.to)
	if err != nil {
		fmt.Fprintf(t.out, "* %v\n", err)
		return false, nil
	}

	switch intent.Kind {
	case IntentSwitch:
		t.to = intent.To
		fmt.Fprintf(t.out, "* talking to %s\n", t.to)
	case IntentSend:
		if err := t.client.Send(intent.To, intent.Text); err != nil {
			return true, fmt.Errorf("send: %w", err)
		}
	case IntentQuit:
		return true, t.quit()
	}
	return false, nil
}

func (t *Terminal) quit() error {
	if err := t.client.Logout(); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (t *Terminal) print(msg proto.Message) {
	if msg.Sender == proto.ServerIdentity {
		fmt.Fprintf(t.out, "* server: %s\n", msg.Text())
		return
	}
	fmt.Fprintf(t.out, "[%s] %s\n", msg.Sender, msg.Text())
}
