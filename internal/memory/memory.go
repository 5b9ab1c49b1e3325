// Package memory tracks device memory allocations against a budget.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

// Memory accounting errors.
var (
	// ErrBudgetExceeded is returned when an allocation would exceed the budget.
	ErrBudgetExceeded = errors.New("memory: budget exceeded")

	// ErrClosed is returned when operating on a closed tracker.
	ErrClosed = errors.New("memory: tracker closed")
)

// Default memory limits.
const (
	// DefaultBudgetMB is the default device memory budget (256 MB).
	DefaultBudgetMB = 256

	// MinBudgetMB is the minimum allowed budget (16 MB).
	MinBudgetMB = 16

	// DefaultWarnThreshold is the utilization above which reservations are
	// reported as pressured (80% of budget).
	DefaultWarnThreshold = 0.8
)

// Kind categorizes an allocation.
type Kind int

const (
	KindBuffer Kind = iota
	KindTransferBuffer
	KindTexture
	kindCount
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "Buffer"
	case KindTransferBuffer:
		return "TransferBuffer"
	case KindTexture:
		return "Texture"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Stats contains memory usage statistics.
type Stats struct {
	// TotalBytes is the budget in bytes.
	TotalBytes uint64

	// UsedBytes is the currently reserved memory in bytes.
	UsedBytes uint64

	// AvailableBytes is the remaining budget.
	AvailableBytes uint64

	// Buffers, TransferBuffers and Textures count live allocations.
	Buffers         int
	TransferBuffers int
	Textures        int

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64

	// Utilization is the fraction of the budget in use (0.0 to 1.0).
	Utilization float64
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d MB, %d buffers, %d transfer buffers, %d textures]",
		s.Utilization*100,
		s.UsedBytes/(1024*1024),
		s.TotalBytes/(1024*1024),
		s.Buffers,
		s.TransferBuffers,
		s.Textures)
}

// Config holds configuration for a Tracker.
type Config struct {
	// BudgetMB is the budget in megabytes. Defaults to DefaultBudgetMB if
	// below MinBudgetMB.
	BudgetMB int

	// WarnThreshold is the utilization fraction reported as pressure.
	// Defaults to DefaultWarnThreshold if <= 0 or > 1.
	WarnThreshold float64
}

// Tracker accounts reservations against a budget.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	budgetBytes uint64
	usedBytes   uint64
	peakBytes   uint64
	counts      [kindCount]int
	threshold   float64
	closed      bool
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config Config) *Tracker {
	mb := config.BudgetMB
	if mb < MinBudgetMB {
		mb = DefaultBudgetMB
	}

	threshold := config.WarnThreshold
	if threshold <= 0 || threshold > 1.0 {
		threshold = DefaultWarnThreshold
	}

	//nolint:gosec // G115: mb is bounded by MinBudgetMB minimum
	return &Tracker{
		budgetBytes: uint64(mb) * 1024 * 1024,
		threshold:   threshold,
	}
}

// Reserve accounts size bytes of kind. It reports whether utilization is
// above the warn threshold after the reservation.
func (t *Tracker) Reserve(kind Kind, size uint64) (pressured bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false, ErrClosed
	}
	if size > t.budgetBytes-t.usedBytes {
		return false, fmt.Errorf("%w: %s of %d bytes, %d bytes available",
			ErrBudgetExceeded, kind, size, t.budgetBytes-t.usedBytes)
	}

	t.usedBytes += size
	t.peakBytes = max(t.peakBytes, t.usedBytes)
	if kind >= 0 && kind < kindCount {
		t.counts[kind]++
	}
	return float64(t.usedBytes) > float64(t.budgetBytes)*t.threshold, nil
}

// Release returns size bytes of kind to the budget.
func (t *Tracker) Release(kind Kind, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if size > t.usedBytes {
		size = t.usedBytes
	}
	t.usedBytes -= size
	if kind >= 0 && kind < kindCount && t.counts[kind] > 0 {
		t.counts[kind]--
	}
}

// Stats returns current usage statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var utilization float64
	if t.budgetBytes > 0 {
		utilization = float64(t.usedBytes) / float64(t.budgetBytes)
	}

	return Stats{
		TotalBytes:      t.budgetBytes,
		UsedBytes:       t.usedBytes,
		AvailableBytes:  t.budgetBytes - t.usedBytes,
		Buffers:         t.counts[KindBuffer],
		TransferBuffers: t.counts[KindTransferBuffer],
		Textures:        t.counts[KindTexture],
		PeakBytes:       t.peakBytes,
		Utilization:     utilization,
	}
}

// SetBudget updates the budget. A budget below current usage only blocks
// new reservations.
func (t *Tracker) SetBudget(megabytes int) error {
	if megabytes < MinBudgetMB {
		megabytes = MinBudgetMB
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	//nolint:gosec // G115: megabytes bounded by MinBudgetMB minimum
	budget := uint64(megabytes) * 1024 * 1024
	t.budgetBytes = max(budget, t.usedBytes)
	return nil
}

// Close stops accounting. Further reservations fail with ErrClosed.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.usedBytes = 0
	t.counts = [kindCount]int{}
	t.closed = true
}
