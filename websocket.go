package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	defaultPingPeriod = (defaultPongWait * 9) / 10

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 1 << 20
)

// WebSocketDialer opens ws:// and wss:// connections with gorilla/websocket.
// Zero values fall back to the package defaults.
type WebSocketDialer struct {
	Dialer         *websocket.Dialer
	Header         http.Header
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	Logger         zerolog.Logger
}

// NewWebSocketDialer returns a dialer with the default timeouts
func NewWebSocketDialer(logger zerolog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		Dialer:         websocket.DefaultDialer,
		WriteWait:      defaultWriteWait,
		PongWait:       defaultPongWait,
		PingPeriod:     defaultPingPeriod,
		MaxMessageSize: defaultMaxMessageSize,
		Logger:         logger,
	}
}

func (d *WebSocketDialer) withDefaults() WebSocketDialer {
	cfg := *d
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = (cfg.PongWait * 9) / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return cfg
}

// Dial validates address and starts the handshake in the background
func (d *WebSocketDialer) Dial(address string, events Events) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}

	cfg := d.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		cfg:      cfg,
		address:  address,
		events:   events,
		log:      cfg.Logger.With().Str("address", address).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		outbox:   newOutbox(),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.run()

	return c, nil
}

// wsConn is a single gorilla connection with one reader and one writer goroutine
type wsConn struct {
	cfg     WebSocketDialer
	address string
	events  Events
	log     zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	outbox   *outbox
	done     chan struct{}
	readDone chan struct{} // closed when readPump returns

	closeOnce  sync.Once
	finishOnce sync.Once
}

// Send hands data to the write pump. Frames accepted here are written before the
// close frame, even when Close follows immediately.
func (c *wsConn) Send(data []byte) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	c.outbox.Push(data)
	return nil
}

// Close stops the pumps. The write pump sends a close frame if the handshake finished.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
	return nil
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) finish(err error) {
	c.finishOnce.Do(func() {
		c.events.OnClose(err)
	})
}

func (c *wsConn) run() {
	ws, _, err := c.cfg.Dialer.DialContext(c.ctx, c.address, c.cfg.Header)
	if err != nil {
		if c.isClosed() {
			c.finish(nil)
			return
		}
		c.finish(err)
		return
	}

	if c.isClosed() {
		ws.Close()
		c.finish(nil)
		return
	}

	// the writer must be running before OnOpen flushes into it
	go c.writePump(ws)
	c.events.OnOpen()

	c.readPump(ws)
}

// readPump pumps frames from the connection to the events sink
func (c *wsConn) readPump(ws *websocket.Conn) {
	defer func() {
		close(c.readDone)
		c.Close()
		ws.Close()
	}()

	ws.SetReadLimit(c.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.finish(nil)
				return
			}
			c.log.Debug().Err(err).Msg("read failed")
			c.finish(err)
			return
		}
		c.events.OnMessage(data)
	}
}

// writePump pumps queued frames to the connection, one text frame per Send
func (c *wsConn) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case <-c.outbox.Ready():
			if err := c.writeQueued(ws); err != nil {
				c.log.Debug().Err(err).Int("unwritten", c.outbox.Len()).Msg("write failed")
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			if err := c.writeQueued(ws); err != nil {
				c.log.Debug().Err(err).Int("unwritten", c.outbox.Len()).Msg("write failed while closing")
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.log.Debug().Err(err).Msg("close handshake failed")
				return
			}

			// let the peer answer the close before the socket goes away, so
			// frames still in flight are not reset
			select {
			case <-c.readDone:
			case <-time.After(c.cfg.WriteWait):
			}
			return
		}
	}
}

// writeQueued writes everything in the outbox, each frame within WriteWait
func (c *wsConn) writeQueued(ws *websocket.Conn) error {
	for {
		data, ok := c.outbox.Pop()
		if !ok {
			return nil
		}
		ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
}
