// Command relayctl is an interactive client for a relay Controller.
//
// Lines read from stdin are sent as JSON frames (verbatim when they parse as JSON,
// as a JSON string otherwise). A few lines are commands instead:
//
//	:target <address>   switch the target (debounced while connected)
//	:close              clear the target
//	:state              print the connection state and queue length
//	:quit               exit
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	relay "github.com/TheAlpha16/relay-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"github.com/valkey-io/valkey-go"
)

const (
	Version = "0.3.0"
	AppName = "relayctl"
)

var errQuit = errors.New("quit")

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdin, os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newCommand(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "keep one connection to a changing address and exchange JSON frames",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "initial address (ws://, wss:// or a valkey channel)",
				Sources: cli.EnvVars("RELAY_TARGET"),
			},
			&cli.StringFlag{
				Name:    "transport",
				Value:   "websocket",
				Usage:   "websocket or valkey",
				Sources: cli.EnvVars("RELAY_TRANSPORT"),
			},
			&cli.StringFlag{
				Name:    "valkey-addr",
				Value:   "localhost:6379",
				Usage:   "valkey server used by the valkey transport",
				Sources: cli.EnvVars("VALKEY_ADDR"),
			},
			&cli.DurationFlag{
				Name:    "debounce",
				Value:   relay.DefaultDebounce,
				Usage:   "delay before acting on a target change",
				Sources: cli.EnvVars("RELAY_DEBOUNCE"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				Sources: cli.EnvVars("RELAY_DEBUG"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger := newLogger(cmd.Bool("debug"))

			dialer, cleanup, err := newDialer(cmd.String("transport"), cmd.String("valkey-addr"), logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctrl := relay.New(dialer,
				relay.WithLogger(logger),
				relay.WithDebounce(cmd.Duration("debounce")),
				relay.WithOnStateChange(func(s relay.State) {
					logger.Info().Str("state", s.String()).Msg("state changed")
				}),
				relay.WithOnError(func(raw []byte, err error) {
					logger.Warn().Err(err).Bytes("frame", raw).Msg("undecodable frame")
				}),
			)
			defer ctrl.Dispose()

			ctrl.OnMessage(func(payload any) {
				data, _ := json.Marshal(payload)
				fmt.Fprintf(out, "< %s\n", data)
			})

			if target := cmd.String("target"); target != "" {
				if err := ctrl.SetTarget(target); err != nil {
					return err
				}
			}

			return runLoop(ctx, ctrl, in, out)
		},
	}
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func newDialer(transport, valkeyAddr string, logger zerolog.Logger) (relay.Dialer, func(), error) {
	switch transport {
	case "websocket", "ws":
		return relay.NewWebSocketDialer(logger), func() {}, nil
	case "valkey":
		dialer, err := relay.NewValkeyDialerAddress(valkeyAddr, valkey.ClientOption{})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to valkey at %s: %w", valkeyAddr, err)
		}
		dialer.Logger = logger
		return dialer, dialer.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// runLoop feeds stdin lines to the controller until EOF, :quit or cancellation
func runLoop(ctx context.Context, ctrl relay.Controller, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctrl, line, out); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func handleLine(ctrl relay.Controller, line string, out io.Writer) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, ":") {
		name, arg, _ := strings.Cut(line[1:], " ")
		switch name {
		case "target":
			return ctrl.SetTarget(strings.TrimSpace(arg))
		case "close":
			return ctrl.SetTarget("")
		case "state":
			target, _ := ctrl.Target()
			fmt.Fprintf(out, "state=%s target=%q pending=%d\n", ctrl.State(), target, ctrl.Pending())
			return nil
		case "quit", "exit":
			return errQuit
		default:
			return fmt.Errorf("unknown command %q", name)
		}
	}

	return ctrl.Send(framePayload(line))
}

// framePayload keeps valid JSON as is and wraps anything else in a string
func framePayload(line string) any {
	if json.Valid([]byte(line)) {
		return json.RawMessage(line)
	}
	return line
}
