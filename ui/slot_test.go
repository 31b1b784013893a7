package ui

import (
	"context"
	"fmt"
	"testing"
)

func TestSlotPurgesPreviousHolder(t *testing.T) {
	var s Slot
	first, releaseFirst := s.Acquire(context.Background())
	second, releaseSecond := s.Acquire(context.Background())
	defer releaseSecond()

	select {
	case <-first.Done():
	default:
		t.Fatal("first flow not purged")
	}
	if cause := context.Cause(first); cause != ErrPurged {
		t.Fatalf("purge cause: have %v, want %v", cause, ErrPurged)
	}
	if second.Err() != nil {
		t.Fatal("second flow cancelled")
	}

	// A stale release must not free the slot held by the second flow.
	releaseFirst()
	if !s.Busy() {
		t.Fatal("stale release freed the slot")
	}
	releaseSecond()
	if s.Busy() {
		t.Fatal("slot still busy after release")
	}
}

func TestSlotPurge(t *testing.T) {
	var s Slot
	ctx, release := s.Acquire(context.Background())
	defer release()

	s.Purge()
	if cause := context.Cause(ctx); cause != ErrPurged {
		t.Fatalf("purge cause: have %v, want %v", cause, ErrPurged)
	}
	s.Purge()
}

func TestAborted(t *testing.T) {
	if !Aborted(fmt.Errorf("confirm: %w", ErrCancelled)) || !Aborted(ErrPurged) {
		t.Fatal("wrapped outcomes not recognised")
	}
	if Aborted(context.Canceled) {
		t.Fatal("plain context cancellation reported as aborted")
	}
}
