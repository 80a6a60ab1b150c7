package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"
)

// Controller keeps one logical connection pointed at a target address that may change over time
type Controller interface {
	// SetTarget is called whenever the desired address changes. The empty string
	// means no connection is wanted.
	SetTarget(address string) error
	Target() (string, bool)
	State() State
	Send(message any) error
	OnMessage(handler Handler)
	// Pending returns the number of frames waiting for an open connection.
	Pending() int
	Dispose() error
}

// link is one physical connection together with the address it was created for
type link struct {
	address string
	conn    Conn
	state   State
}

type controllerImpl struct {
	dialer   Dialer
	options  Options
	log      zerolog.Logger
	queue    *outboundQueue
	dispatch *dispatcher

	target    string
	hasTarget bool
	active    *link

	// switchSeq invalidates timer callbacks that lost the race with Stop
	switchTimer *clock.Timer
	switchSeq   uint64

	disposed  bool
	lastState State
	notify    []State
	mu        sync.Mutex
}

// SetTarget applies the debounce policy to a change of the desired address
func (c *controllerImpl) SetTarget(address string) error {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.disposed {
		return ErrDisposed
	}

	if address == "" {
		c.target, c.hasTarget = "", false
		c.cancelSwitch()
		if c.active != nil {
			c.closeLink(c.active, "target cleared")
			c.active = nil
		}
		c.commitState()
		return nil
	}

	if c.hasTarget && c.target == address {
		return nil
	}
	c.target, c.hasTarget = address, true

	if !c.live() {
		c.cancelSwitch()
		err := c.connect(address)
		c.commitState()
		return err
	}

	if c.active.address == address {
		if c.cancelSwitch() {
			c.log.Debug().Str("address", address).Msg("pending switch cancelled, target is back to the active address")
		}
		// frames held back while the switch was pending belong to this link again
		c.flush()
		return nil
	}

	c.armSwitch()
	return nil
}

// Target returns the most recently requested address
func (c *controllerImpl) Target() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, c.hasTarget
}

// State returns the state of the active connection
func (c *controllerImpl) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState()
}

// Send encodes message as JSON and queues it; the queue is flushed right away when
// the active connection is open.
func (c *controllerImpl) Send(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.disposed {
		return ErrDisposed
	}

	c.queue.Enqueue(data)
	c.flush()
	return nil
}

// OnMessage registers the inbound handler, replacing any previous one
func (c *controllerImpl) OnMessage(handler Handler) {
	c.dispatch.Register(handler)
}

func (c *controllerImpl) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Dispose closes the active connection and cancels a pending switch. Safe to call
// in any state and more than once.
func (c *controllerImpl) Dispose() error {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.disposed {
		return nil
	}
	c.disposed = true

	c.cancelSwitch()
	if c.active != nil {
		c.closeLink(c.active, "disposed")
		c.active = nil
	}
	c.target, c.hasTarget = "", false
	c.dispatch.Register(nil)
	c.commitState()

	c.log.Debug().Int("pending", c.queue.Len()).Msg("controller disposed")
	return nil
}

func (c *controllerImpl) live() bool {
	return c.active != nil && c.active.state != StateClosed
}

func (c *controllerImpl) currentState() State {
	if c.active == nil {
		return StateUninitialized
	}
	return c.active.state
}

// connect makes a new link the active one. Callers close the previous link first.
func (c *controllerImpl) connect(address string) error {
	l := &link{address: address, state: StateConnecting}
	c.active = l

	conn, err := c.dialer.Dial(address, &linkEvents{c: c, link: l})
	if err != nil {
		l.state = StateClosed
		c.log.Warn().Err(err).Str("address", address).Msg("dial failed")
		return fmt.Errorf("dial %s: %w", address, err)
	}
	l.conn = conn

	c.log.Debug().Str("address", address).Msg("connecting")
	return nil
}

func (c *controllerImpl) closeLink(l *link, reason string) {
	if l.state == StateClosed {
		return
	}
	l.state = StateClosed
	if l.conn == nil {
		return
	}
	if err := l.conn.Close(); err != nil {
		c.log.Warn().Err(err).Str("address", l.address).Msg("close failed")
	}
	c.log.Debug().Str("address", l.address).Str("reason", reason).Msg("connection closed")
}

func (c *controllerImpl) armSwitch() {
	if c.switchTimer != nil {
		c.switchTimer.Stop()
	}
	c.switchSeq++
	seq := c.switchSeq
	c.switchTimer = c.options.Clock.AfterFunc(c.options.Debounce, func() {
		c.fireSwitch(seq)
	})

	c.log.Debug().
		Str("from", c.active.address).
		Str("to", c.target).
		Dur("debounce", c.options.Debounce).
		Msg("switch armed")
}

// cancelSwitch reports whether a switch was pending
func (c *controllerImpl) cancelSwitch() bool {
	if c.switchTimer == nil {
		return false
	}
	c.switchTimer.Stop()
	c.switchTimer = nil
	c.switchSeq++
	return true
}

func (c *controllerImpl) fireSwitch(seq uint64) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.disposed || c.switchTimer == nil || seq != c.switchSeq {
		return
	}
	c.switchTimer = nil

	if !c.hasTarget || (c.live() && c.active.address == c.target) {
		return
	}

	c.log.Debug().Str("address", c.target).Msg("switch fired")
	if c.active != nil {
		c.closeLink(c.active, "target changed")
		c.active = nil
	}
	// connect already logged a dial failure, and the state shows it
	_ = c.connect(c.target)
	c.commitState()
}

// flush drains the queue into the active connection if it is open and still the
// target. A link that is about to be replaced gets nothing; its frames wait for the
// next one.
func (c *controllerImpl) flush() {
	l := c.active
	if l == nil || l.state != StateOpen || c.queue.Len() == 0 {
		return
	}
	if !c.hasTarget || l.address != c.target {
		return
	}

	ready := func() bool { return c.active == l && l.state == StateOpen }
	sent, err := c.queue.Drain(ready, l.conn.Send)
	if err != nil {
		c.log.Warn().Err(err).Str("address", l.address).Int("remaining", c.queue.Len()).Msg("flush interrupted")
	}
	if sent > 0 {
		c.log.Debug().Str("address", l.address).Int("sent", sent).Msg("flushed outbound queue")
	}
}

func (c *controllerImpl) handleOpen(l *link) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.disposed || c.active != l || l.state != StateConnecting {
		return
	}
	l.state = StateOpen
	c.commitState()

	c.log.Debug().Str("address", l.address).Msg("connection open")
	c.flush()
}

func (c *controllerImpl) handleClose(l *link, err error) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.disposed || c.active != l || l.state == StateClosed {
		return
	}
	l.state = StateClosed
	c.commitState()

	if err != nil {
		c.log.Warn().Err(err).Str("address", l.address).Msg("connection lost")
		return
	}
	c.log.Debug().Str("address", l.address).Msg("connection closed by peer")
}

func (c *controllerImpl) handleMessage(l *link, data []byte) {
	c.mu.Lock()
	stale := c.disposed || c.active != l || l.state != StateOpen
	c.mu.Unlock()

	if stale {
		return
	}
	if err := c.dispatch.Dispatch(data); err != nil {
		c.log.Warn().Err(err).Str("address", l.address).Msg("dropping inbound frame")
	}
}

// commitState records a state transition for the listener
func (c *controllerImpl) commitState() {
	s := c.currentState()
	if s == c.lastState {
		return
	}
	c.lastState = s
	if c.options.OnStateChange != nil {
		c.notify = append(c.notify, s)
	}
}

// unlockAndNotify releases the lock and then runs the state listener, so the
// listener may call back into the controller.
func (c *controllerImpl) unlockAndNotify() {
	states := c.notify
	c.notify = nil
	c.mu.Unlock()

	for _, s := range states {
		c.options.OnStateChange(s)
	}
}

// linkEvents binds transport events to the link they belong to, so events from a
// replaced or disposed link are recognized as stale.
type linkEvents struct {
	c    *controllerImpl
	link *link
}

func (e *linkEvents) OnOpen()               { e.c.handleOpen(e.link) }
func (e *linkEvents) OnClose(err error)     { e.c.handleClose(e.link, err) }
func (e *linkEvents) OnMessage(data []byte) { e.c.handleMessage(e.link, data) }

// New creates a Controller that opens connections through dialer
func New(dialer Dialer, opts ...Option) Controller {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &controllerImpl{
		dialer:   dialer,
		options:  options,
		log:      options.Logger.With().Str("component", "relay").Logger(),
		queue:    newOutboundQueue(),
		dispatch: newDispatcher(options.OnError),
	}
}

// NewWithWebSocket creates a Controller backed by a WebSocketDialer with default settings
func NewWithWebSocket(opts ...Option) Controller {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return New(NewWebSocketDialer(options.Logger), opts...)
}

// NewWithValkey creates a Controller whose addresses are Valkey pub/sub channels
func NewWithValkey(client valkey.Client, opts ...Option) Controller {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dialer := NewValkeyDialer(client)
	dialer.Logger = options.Logger
	return New(dialer, opts...)
}
