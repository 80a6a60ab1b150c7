package relay

import (
	"errors"
	"testing"
)

func TestDispatcherWithoutHandler(t *testing.T) {
	called := false
	d := newDispatcher(func([]byte, error) { called = true })

	// malformed frames are dropped silently too when nobody listens
	if err := d.Dispatch([]byte(`{bad`)); err != nil {
		t.Fatalf("Expected no error without a handler, got: %v", err)
	}
	if called {
		t.Fatal("Expected error handler not to run without a message handler")
	}
}

func TestDispatcherReplaceHandler(t *testing.T) {
	d := newDispatcher(nil)

	var got []string
	d.Register(func(payload any) { got = append(got, "old") })
	d.Register(func(payload any) { got = append(got, payload.(string)) })

	if err := d.Dispatch([]byte(`"new"`)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !equalStrings(got, []string{"new"}) {
		t.Fatalf("Expected only the latest handler to run, got: %v", got)
	}

	d.Register(nil)
	d.Dispatch([]byte(`"dropped"`))
	if len(got) != 1 {
		t.Fatalf("Expected no delivery after unregistering, got: %v", got)
	}
}

func TestDispatcherDecodeError(t *testing.T) {
	var raw []byte
	d := newDispatcher(func(b []byte, err error) { raw = b })
	d.Register(func(payload any) { t.Fatal("Handler must not run for a bad frame") })

	err := d.Dispatch([]byte(`{"a":`))
	if !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("Expected ErrDecodeFailed, got: %v", err)
	}
	if string(raw) != `{"a":` {
		t.Fatalf("Expected raw frame passed to the error handler, got: %q", raw)
	}
}
