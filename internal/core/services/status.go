package services

import (
	"sync"
	"time"

	"pairlink/internal/core/domain"
)

// StatusEmitter is the single observable channel for session status
// transitions. Publishing never blocks: when the consumer lags, the oldest
// update is dropped in favor of the newest, so the channel always converges
// on current state.
type StatusEmitter struct {
	mu     sync.Mutex
	ch     chan domain.StatusUpdate
	last   domain.StatusUpdate
	closed bool
}

const defaultStatusBuffer = 16

func NewStatusEmitter(buffer int) *StatusEmitter {
	if buffer <= 0 {
		buffer = defaultStatusBuffer
	}
	return &StatusEmitter{
		ch:   make(chan domain.StatusUpdate, buffer),
		last: domain.StatusUpdate{State: domain.SessionIdle, Code: domain.StatusOK, At: time.Now()},
	}
}

// Updates returns the observable channel. It is closed by Close.
func (e *StatusEmitter) Updates() <-chan domain.StatusUpdate {
	return e.ch
}

// Emit publishes a status update.
func (e *StatusEmitter) Emit(state domain.RoomSessionState, code domain.StatusCode, detail string) {
	update := domain.StatusUpdate{State: state, Code: code, Detail: detail, At: time.Now()}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.last = update

	for {
		select {
		case e.ch <- update:
			return
		default:
		}
		// Consumer is behind; shed the oldest update.
		select {
		case <-e.ch:
		default:
		}
	}
}

// Last returns the most recently emitted update.
func (e *StatusEmitter) Last() domain.StatusUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Close closes the observable channel. Further Emit calls are ignored.
func (e *StatusEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
