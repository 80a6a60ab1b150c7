package relay

// Dialer creates physical connections. It is the only thing the Controller knows about
// the underlying transport.
type Dialer interface {
	// Dial starts connecting to address and returns without waiting for the
	// connection to open. Progress is reported through events, always from a
	// goroutine other than the caller of Dial, Send or Close.
	Dial(address string, events Events) (Conn, error)
}

// Conn is a handle to one physical connection
type Conn interface {
	// Send transmits a single text frame. It must not block on the network and must
	// not reject a frame while the connection is open. Frames accepted before Close
	// are still written.
	Send(data []byte) error

	// Close starts tearing the connection down. It is safe to call more than once.
	Close() error
}

// Events receives the lifecycle of a single Conn
type Events interface {
	OnOpen()

	// OnClose is delivered at most once. err is nil for a clean closure.
	OnClose(err error)

	OnMessage(data []byte)
}
