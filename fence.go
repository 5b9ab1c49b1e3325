package gpucmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Fence signals when the work of one submission has completed.
//
// The signal is latched: once IsSignaled reports true it stays true.
// A released fence reports false and its waits fail immediately.
type Fence struct {
	device   *Device
	index    uint64
	signaled atomic.Bool
	released atomic.Bool
}

// newFence returns a fence for submission index.
func (d *Device) newFence(index uint64) (*Fence, error) {
	f := &Fence{device: d, index: index}
	if err := d.track(f); err != nil {
		return nil, err
	}
	return f, nil
}

// IsSignaled polls the fence without blocking.
func (f *Fence) IsSignaled() bool {
	if f == nil || f.released.Load() {
		return false
	}
	if f.signaled.Load() {
		return true
	}
	if !f.device.IsValid() {
		return false
	}
	if f.device.pollCompleted() < f.index {
		return false
	}
	f.signaled.Store(true)
	f.device.collect()
	return true
}

// Wait blocks until the fence signals or the device fence timeout passes.
// It reports whether the fence signaled.
func (f *Fence) Wait() bool {
	if f == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.device.opts.fenceTimeout)
	defer cancel()
	return f.WaitContext(ctx) == nil
}

// WaitContext blocks until the fence signals or ctx is done. It returns
// ErrFenceReleased for released fences and wraps ErrFenceTimeout when ctx
// ends first.
func (f *Fence) WaitContext(ctx context.Context) error {
	if f == nil || f.released.Load() {
		return ErrFenceReleased
	}
	if f.signaled.Load() {
		return nil
	}
	if err := f.device.waitSubmission(ctx, f.index); err != nil {
		return err
	}
	f.signaled.Store(true)
	return nil
}

// Release releases the fence. Release is idempotent.
func (f *Fence) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	f.device.untrack(f)
}

func (f *Fence) kindName() string { return "Fence" }
func (f *Fence) label() string    { return fmt.Sprintf("submission %d", f.index) }

// WaitForFences blocks until every fence (waitAll) or any fence has
// signaled, bounded by the device fence timeout. It reports false on
// timeout or when a fence is nil or released.
func (d *Device) WaitForFences(waitAll bool, fences ...*Fence) bool {
	if !d.IsValid() || len(fences) == 0 {
		return false
	}
	for _, f := range fences {
		if f == nil || f.released.Load() || f.device != d {
			logMisuse("Device.WaitForFences", "fence is invalid")
			return false
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.fenceTimeout)
	defer cancel()

	if waitAll {
		for _, f := range fences {
			if f.WaitContext(ctx) != nil {
				return false
			}
		}
		return true
	}
	err := d.pollUntil(ctx, func(completed uint64) bool {
		for _, f := range fences {
			if f.index <= completed {
				f.signaled.Store(true)
				return true
			}
		}
		return false
	})
	return err == nil
}

// Polling interval bounds for submission waits.
const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

// waitSubmission blocks until submission index has completed.
func (d *Device) waitSubmission(ctx context.Context, index uint64) error {
	return d.pollUntil(ctx, func(completed uint64) bool { return completed >= index })
}

// pollUntil polls the queue with a growing interval until done reports
// true for the completed submission index. Retired allocations are
// collected once it does.
func (d *Device) pollUntil(ctx context.Context, done func(completed uint64) bool) error {
	interval := minPollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		if !d.IsValid() {
			return ErrDeviceInvalid
		}
		if done(d.pollCompleted()) {
			d.collect()
			return nil
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrFenceTimeout, ctx.Err())
			}
			return ctx.Err()
		case <-timer.C:
		}
		interval = min(interval*2, maxPollInterval)
	}
}
