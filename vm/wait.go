package vm

import (
	"sync"

	"sink/value"
)

// Wait is a one-shot async cell with two independent completion paths:
// a result being provided, and a then-handler being attached. The
// handler fires exactly once, whichever path completes second. Grounded
// on the teacher's vm/devices.go nonBlockingChan/HardwareDevice.TrySend
// pattern (a device interrupt is a "pending result that arrives later"),
// generalized here from "device interrupt" to "arbitrary pending host
// call" per spec.md §5.
type Wait struct {
	mu        sync.Mutex
	done      bool
	cancelled bool
	result    value.Value
	handler   func(value.Value)
}

// NewWait returns a fresh, unresolved Wait.
func NewWait() *Wait {
	return &Wait{}
}

// Fulfilled returns an already-resolved Wait, for host I/O calls that can
// answer synchronously (spec.md §6: "each may return a fulfilled wait or
// a pending wait").
func Fulfilled(v value.Value) *Wait {
	return &Wait{done: true, result: v}
}

// Provide supplies the result. If a handler is already attached, it
// fires immediately; otherwise it fires later when Then is called.
func (w *Wait) Provide(v value.Value) {
	w.mu.Lock()
	if w.done || w.cancelled {
		w.mu.Unlock()
		return
	}
	w.done = true
	w.result = v
	h := w.handler
	w.mu.Unlock()
	if h != nil {
		h(v)
	}
}

// Then attaches the completion handler. If the result is already
// present, it fires immediately; otherwise it fires later when Provide
// is called. Attaching a second handler is a no-op (a Wait fires at most
// once).
func (w *Wait) Then(handler func(value.Value)) {
	w.mu.Lock()
	if w.handler != nil {
		w.mu.Unlock()
		return
	}
	w.handler = handler
	if !w.done || w.cancelled {
		w.mu.Unlock()
		return
	}
	v := w.result
	w.mu.Unlock()
	handler(v)
}

// Cancel aborts a pending wait before fulfillment; Provide after Cancel
// is a no-op.
func (w *Wait) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.cancelled = true
	}
}

// Done reports whether the wait has already resolved.
func (w *Wait) Done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}
