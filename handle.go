package gpucmd

import (
	"fmt"
	"sync"
)

// handleState is the tagged state of a resource handle.
//
// State Machine:
//
//	Invalid (zero value) ── init ──► Valid ── take ──► Released
//
// Released is terminal. Invalid covers handles that were never created,
// such as a zero-value Buffer.
type handleState uint8

const (
	handleInvalid handleState = iota
	handleValid
	handleReleased
)

// String returns the state name.
func (s handleState) String() string {
	switch s {
	case handleInvalid:
		return "Invalid"
	case handleValid:
		return "Valid"
	case handleReleased:
		return "Released"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// handle owns one value of a native allocation and hands it out for
// release exactly once. Every alias of a resource shares the same handle,
// so releasing through any alias releases once.
//
// Thread Safety: all methods are safe for concurrent use and on a nil receiver.
type handle[T any] struct {
	mu     sync.Mutex
	state  handleState
	value  T
	device *Device
	name   string
}

func (h *handle[T]) init(d *Device, v T, name string) {
	h.mu.Lock()
	h.device = d
	h.value = v
	h.name = name
	h.state = handleValid
	h.mu.Unlock()
}

// load returns the value while the handle is valid.
func (h *handle[T]) load() (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleValid {
		return zero, false
	}
	return h.value, true
}

// swap replaces the value of a valid handle and returns the previous one.
func (h *handle[T]) swap(v T) (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleValid {
		return zero, false
	}
	old := h.value
	h.value = v
	return old, true
}

// take moves the handle to Released and returns the value. Only the first
// call on a valid handle succeeds.
func (h *handle[T]) take() (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleValid {
		return zero, false
	}
	v := h.value
	h.value = zero
	h.state = handleReleased
	return v, true
}

func (h *handle[T]) valid() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == handleValid
}

func (h *handle[T]) owner() *Device {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleValid {
		return nil
	}
	return h.device
}

func (h *handle[T]) setName(name string) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleValid {
		return false
	}
	h.name = name
	return true
}

func (h *handle[T]) label() string {
	if h == nil {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}
