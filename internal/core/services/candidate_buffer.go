package services

import (
	"sync"

	"pairlink/internal/core/domain"
)

// CandidateBuffer holds connectivity candidates that arrive before the
// negotiation has a remote description to attach them to. Candidates are
// kept in arrival order and applied exactly once; the buffer is bounded and
// drops the oldest entry on overflow.
type CandidateBuffer struct {
	mu      sync.Mutex
	items   []domain.Candidate
	cap     int
	flushed bool
	dropped int
}

const DefaultCandidateBufferCap = 64

func NewCandidateBuffer(capacity int) *CandidateBuffer {
	if capacity <= 0 {
		capacity = DefaultCandidateBufferCap
	}
	return &CandidateBuffer{cap: capacity}
}

// Push queues a candidate. It returns false when the buffer had to drop its
// oldest entry to make room.
func (b *CandidateBuffer) Push(cand domain.Candidate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := true
	if len(b.items) >= b.cap {
		b.items = b.items[1:]
		b.dropped++
		kept = false
	}
	b.items = append(b.items, cand)
	return kept
}

// Flush applies all buffered candidates in arrival order and clears the
// buffer. A second flush is a no-op returning zero. Apply errors do not
// stop the flush; the first one is returned alongside the count of
// successfully applied candidates.
func (b *CandidateBuffer) Flush(apply func(domain.Candidate) error) (int, error) {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return 0, nil
	}
	b.flushed = true
	items := b.items
	b.items = nil
	b.mu.Unlock()

	applied := 0
	var firstErr error
	for _, cand := range items {
		if err := apply(cand); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}
	return applied, firstErr
}

func (b *CandidateBuffer) Flushed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed
}

func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many candidates were discarded due to the cap.
func (b *CandidateBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
