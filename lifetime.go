package gpucmd

import (
	"sync/atomic"

	"github.com/gogpu/gpucmd/internal/memory"
)

// allocation is the lifetime record of one native object (or one group of
// native objects destroyed together).
//
// An allocation is busy while an unsubmitted command buffer references it
// or while a submission that used it has not completed. Released and cycled
// allocations are retired to the device and destroyed once they are idle.
type allocation struct {
	device *Device

	// lastUse is the queue submission index of the newest submission that
	// referenced the allocation.
	lastUse atomic.Uint64
	// pending counts recording command buffers that reference the allocation.
	pending atomic.Int32

	memKind memory.Kind
	bytes   uint64
	tracked bool

	destroyFn func()
	destroyed atomic.Bool
}

func (a *allocation) busy(completed uint64) bool {
	return a.pending.Load() > 0 || a.lastUse.Load() > completed
}

// markUsed raises lastUse to index.
func (a *allocation) markUsed(index uint64) {
	for {
		cur := a.lastUse.Load()
		if index <= cur || a.lastUse.CompareAndSwap(cur, index) {
			return
		}
	}
}

// destroy runs the destructor once and returns the reserved memory.
func (a *allocation) destroy() {
	if !a.destroyed.CompareAndSwap(false, true) {
		return
	}
	if a.destroyFn != nil {
		a.destroyFn()
	}
	if a.tracked && a.device != nil {
		a.device.mem.Release(a.memKind, a.bytes)
	}
}

// reserve accounts bytes of kind against the device memory budget.
func (a *allocation) reserve(d *Device, kind memory.Kind, bytes uint64) error {
	pressured, err := d.mem.Reserve(kind, bytes)
	if err != nil {
		return err
	}
	if pressured {
		Logger().Debug("gpucmd: memory pressure", "kind", kind, "bytes", bytes, "stats", d.mem.Stats())
	}
	a.device = d
	a.memKind = kind
	a.bytes = bytes
	a.tracked = true
	return nil
}

// retire hands an allocation to the device for deferred destruction.
func (d *Device) retire(a *allocation) {
	if a == nil {
		return
	}
	d.retiredMu.Lock()
	d.retired = append(d.retired, a)
	d.retiredMu.Unlock()
	d.collect()
}

// collect destroys retired allocations the GPU no longer uses.
func (d *Device) collect() {
	completed := d.pollCompleted()

	d.retiredMu.Lock()
	var idle []*allocation
	kept := d.retired[:0]
	for _, a := range d.retired {
		if a.busy(completed) {
			kept = append(kept, a)
			continue
		}
		idle = append(idle, a)
	}
	for i := len(kept); i < len(d.retired); i++ {
		d.retired[i] = nil
	}
	d.retired = kept
	d.retiredMu.Unlock()

	for _, a := range idle {
		a.destroy()
	}
}

// destroyRetired destroys every retired allocation regardless of use.
// Called at device teardown after the queue is idle.
func (d *Device) destroyRetired() {
	d.retiredMu.Lock()
	all := d.retired
	d.retired = nil
	d.retiredMu.Unlock()

	for _, a := range all {
		a.destroy()
	}
}
