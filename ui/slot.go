// Package ui holds the presentation slot shared by interactive flows and the
// outcomes a flow can be aborted with.
package ui

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrCancelled is the outcome of a flow the user declined.
	ErrCancelled = errors.New("cancelled")

	// ErrPurged is the outcome of a flow torn down because something else
	// took over the presentation slot or its session ended.
	ErrPurged = errors.New("purged")
)

// Aborted reports whether err is a cancellation or purge outcome.
func Aborted(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrPurged)
}

// Slot is the single presentation surface. Acquiring it purges the flow that
// currently holds it.
type Slot struct {
	mu     sync.Mutex
	holder uint64
	cancel context.CancelCauseFunc
}

// Acquire purges the current holder and returns a context for the new flow,
// cancelled with ErrPurged when the slot is taken over, plus a release
// function the flow calls when it is done.
func (s *Slot) Acquire(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel(ErrPurged)
	}
	s.holder++
	token := s.holder
	s.cancel = cancel
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.holder == token {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel(context.Canceled)
	}
	return ctx, release
}

// Purge tears down the current holder, if any.
func (s *Slot) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(ErrPurged)
		s.cancel = nil
	}
}

// Busy reports whether a flow holds the slot.
func (s *Slot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
