package relay

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the window used to collapse bursts of target changes.
const DefaultDebounce = time.Second

// ErrorHandler is a user-provided callback for inbound frames that could not be decoded
type ErrorHandler func(raw []byte, err error)

// StateListener is called with every committed state transition
type StateListener func(state State)

type Option func(*Options)

type Options struct {
	Debounce      time.Duration
	Logger        zerolog.Logger
	Clock         clock.Clock
	OnError       ErrorHandler
	OnStateChange StateListener
}

func defaultOptions() Options {
	return Options{
		Debounce: DefaultDebounce,
		Logger:   zerolog.Nop(),
		Clock:    clock.New(),
		OnError: func(raw []byte, err error) {
			// Default: no-op
		},
	}
}

func WithDebounce(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Debounce = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock replaces the clock used for the debounce timer. Tests pass a clock.Mock.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		if c != nil {
			o.Clock = c
		}
	}
}

func WithOnError(handler ErrorHandler) Option {
	return func(o *Options) {
		if handler != nil {
			o.OnError = handler
		}
	}
}

func WithOnStateChange(listener StateListener) Option {
	return func(o *Options) {
		o.OnStateChange = listener
	}
}
