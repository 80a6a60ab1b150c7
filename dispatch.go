package relay

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Handler receives the decoded payload of an inbound frame
type Handler func(payload any)

// dispatcher routes inbound frames to the single registered handler.
type dispatcher struct {
	handler Handler
	onError ErrorHandler
	mu      sync.RWMutex
}

func newDispatcher(onError ErrorHandler) *dispatcher {
	return &dispatcher{onError: onError}
}

// Register replaces the current handler. nil unregisters.
func (d *dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Dispatch decodes raw and forwards it. Frames arriving with no handler are dropped.
func (d *dispatcher) Dispatch(raw []byte) error {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()

	if h == nil {
		return nil
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		err = fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		if d.onError != nil {
			d.onError(raw, err)
		}
		return err
	}

	h(payload)
	return nil
}
