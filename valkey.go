package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"
)

// ValkeyDialer treats an address as a Valkey pub/sub channel. A connection opens once
// the subscription is confirmed; Send publishes to the same channel.
type ValkeyDialer struct {
	client valkey.Client
	owned  bool
	Logger zerolog.Logger
}

// Dial subscribes to the channel named by address in the background
func (v *ValkeyDialer) Dial(address string, events Events) (Conn, error) {
	if v.client == nil {
		return nil, ErrTransportNotConnected
	}

	channel := strings.TrimPrefix(address, "valkey:")
	if channel == "" || strings.ContainsAny(channel, " \r\n") {
		return nil, fmt.Errorf("%w: bad channel %q", ErrInvalidAddress, address)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &valkeyConn{
		client:  v.client,
		channel: channel,
		events:  events,
		log:     v.Logger.With().Str("channel", channel).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		outbox:  newOutbox(),
	}
	go c.subscriptionLoop()
	go c.publishLoop()

	return c, nil
}

// Close releases the client if the dialer created it
func (v *ValkeyDialer) Close() {
	if v.owned && v.client != nil {
		v.client.Close()
	}
}

type valkeyConn struct {
	client  valkey.Client
	channel string
	events  Events
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	outbox *outbox

	openOnce   sync.Once
	finishOnce sync.Once
}

// Send hands data to the publish loop
func (v *valkeyConn) Send(data []byte) error {
	if v.ctx.Err() != nil {
		return ErrConnClosed
	}
	v.outbox.Push(data)
	return nil
}

// Close cancels the subscription; the close event follows once Receive returns
func (v *valkeyConn) Close() error {
	v.cancel()
	return nil
}

// subscriptionLoop runs a single subscription. There is no retry: when Receive
// returns the connection is closed for good.
func (v *valkeyConn) subscriptionLoop() {
	ctx := valkey.WithOnSubscriptionHook(v.ctx, func(s valkey.PubSubSubscription) {
		if s.Kind == "subscribe" && s.Channel == v.channel {
			v.openOnce.Do(v.events.OnOpen)
		}
	})

	subscriber := v.client.B().Subscribe().Channel(v.channel).Build()
	err := v.client.Receive(ctx, subscriber, v.deliver)

	// stop the publish loop too
	v.cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		v.log.Debug().Err(err).Msg("subscription ended")
		v.finish(err)
		return
	}
	v.finish(nil)
}

func (v *valkeyConn) deliver(msg valkey.PubSubMessage) {
	if msg.Channel == v.channel {
		v.events.OnMessage([]byte(msg.Message))
	}
}

// publishLoop publishes frames in Send order. On close it still publishes what Send
// accepted, so a replaced connection does not swallow frames.
func (v *valkeyConn) publishLoop() {
	for {
		select {
		case <-v.outbox.Ready():
			v.publishQueued()
		case <-v.ctx.Done():
			v.publishQueued()
			return
		}
	}
}

func (v *valkeyConn) publishQueued() {
	for {
		data, ok := v.outbox.Pop()
		if !ok {
			return
		}
		if err := v.publish(data); err != nil {
			v.log.Warn().Err(err).Int("unpublished", v.outbox.Len()).Msg("dropping frame")
		}
	}
}

// publish uses its own deadline rather than the connection context, which is
// already cancelled while closing.
func (v *valkeyConn) publish(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteWait)
	defer cancel()

	cmd := v.client.B().Publish().Channel(v.channel).Message(string(data)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

func (v *valkeyConn) finish(err error) {
	v.finishOnce.Do(func() {
		v.events.OnClose(err)
	})
}

// NewValkeyDialer creates a dialer over a client owned by the caller
func NewValkeyDialer(client valkey.Client) *ValkeyDialer {
	return &ValkeyDialer{client: client, Logger: zerolog.Nop()}
}

// NewValkeyDialerAddress creates a dialer with its own client; Close releases it.
// address is used when option carries no InitAddress.
func NewValkeyDialerAddress(address string, option valkey.ClientOption) (*ValkeyDialer, error) {
	if len(option.InitAddress) == 0 {
		option.InitAddress = []string{address}
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("valkey client for %s: %w", address, err)
	}
	return &ValkeyDialer{client: client, owned: true, Logger: zerolog.Nop()}, nil
}
