package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/shieldnet/validator/internal/testutils"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	b := NewBackoff(time.Millisecond, 4*time.Millisecond)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := b.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	elapsed := time.Since(start)
	// 1 + 2 + 4 + 4 (capped) = 11ms minimum.
	testutils.AssertBoolsEqual(t, "delays grow then cap rather than continuing to double forever", true, elapsed >= 11*time.Millisecond)
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := NewBackoff(time.Millisecond, 100*time.Millisecond)
	if err := b.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := b.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	b.Reset()
	testutils.AssertIntsEqual(t, "Reset returns the attempt counter to zero", 0, b.attempt)
}

func TestBackoffNextReturnsContextErrorWhenCancelled(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Next(ctx)
	testutils.AssertBoolsEqual(t, "a cancelled context short-circuits the sleep", true, err != nil)
}
