package relay

import (
	"sync"

	"github.com/eapache/queue"
)

// outbox is the write buffer between Conn.Send and a transport's writer goroutine.
// Push never blocks and never rejects, so a flush from the controller always goes
// through in full while the connection is open.
type outbox struct {
	mu     sync.Mutex
	frames *queue.Queue
	ready  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		frames: queue.New(),
		ready:  make(chan struct{}, 1),
	}
}

// Push appends a frame and wakes the writer
func (o *outbox) Push(frame []byte) {
	o.mu.Lock()
	o.frames.Add(frame)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// Pop removes the oldest frame
func (o *outbox) Pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.frames.Length() == 0 {
		return nil, false
	}
	return o.frames.Remove().([]byte), true
}

// Ready fires after a Push. One signal may stand for several frames.
func (o *outbox) Ready() <-chan struct{} {
	return o.ready
}

func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames.Length()
}
