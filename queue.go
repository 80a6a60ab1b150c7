package relay

import "github.com/eapache/queue"

// outboundQueue buffers encoded frames until a connection is ready for them.
// It is not safe for concurrent use; the controller serializes access.
type outboundQueue struct {
	frames *queue.Queue
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{frames: queue.New()}
}

// Enqueue appends a frame to the tail
func (q *outboundQueue) Enqueue(frame []byte) {
	q.frames.Add(frame)
}

func (q *outboundQueue) Len() int {
	return q.frames.Length()
}

// Drain sends frames head to tail while ready reports true. A frame is removed only
// after send accepted it, so a failing send leaves it at the head for the next drain.
func (q *outboundQueue) Drain(ready func() bool, send func([]byte) error) (int, error) {
	sent := 0
	for q.frames.Length() > 0 {
		if !ready() {
			return sent, nil
		}
		frame := q.frames.Peek().([]byte)
		if err := send(frame); err != nil {
			return sent, err
		}
		q.frames.Remove()
		sent++
	}
	return sent, nil
}
