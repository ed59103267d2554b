package queue

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shieldnet/validator/internal/testutils"
	"github.com/shieldnet/validator/store"
)

func TestWorkerProcessesHeadOfLineInOrder(t *testing.T) {
	s := store.NewMemory()
	now := int64(1000)
	w := NewWorker(s, zap.NewNop(), func() int64 { return now })

	var seen []uint64
	w.Register(store.ActionAttestTransaction, func(ctx context.Context, payload []byte) error {
		var action AttestTransaction
		if err := decode(payload, &action); err != nil {
			return err
		}
		seen = append(seen, action.Epoch)
		return nil
	})

	for epoch := uint64(1); epoch <= 3; epoch++ {
		if err := w.Enqueue(store.ActionAttestTransaction, AttestTransaction{Epoch: epoch}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		if err := w.step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	testutils.AssertBoolsEqual(t, "all three actions ran", true, len(seen) == 3)
	testutils.AssertBoolsEqual(t, "actions ran in FIFO order", true, seen[0] == 1 && seen[1] == 2 && seen[2] == 3)

	if err := w.step(context.Background()); err == nil {
		t.Fatalf("expected ErrNotFound on empty queue, got nil")
	}
}

func TestWorkerDropsExpiredAction(t *testing.T) {
	s := store.NewMemory()
	now := int64(1000)
	w := NewWorker(s, zap.NewNop(), func() int64 { return now })

	ran := false
	w.Register(store.ActionAttestTransaction, func(ctx context.Context, payload []byte) error {
		ran = true
		return nil
	})

	if err := w.EnqueueWithTTL(store.ActionAttestTransaction, AttestTransaction{Epoch: 1}, time.Millisecond); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now += 10 // advance past the 1ms TTL

	if err := w.step(context.Background()); err != nil {
		t.Fatalf("expected expired entry to be dropped without error, got: %v", err)
	}
	testutils.AssertBoolsEqual(t, "expired action's handler never runs", false, ran)
}

func TestWorkerRetriesOnHandlerError(t *testing.T) {
	s := store.NewMemory()
	w := NewWorker(s, zap.NewNop(), func() int64 { return 0 })

	attempts := 0
	w.Register(store.ActionAttestTransaction, func(ctx context.Context, payload []byte) error {
		attempts++
		if attempts < 2 {
			return errTransient
		}
		return nil
	})

	if err := w.Enqueue(store.ActionAttestTransaction, AttestTransaction{Epoch: 7}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := w.step(context.Background()); err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	if err := w.step(context.Background()); err != nil {
		t.Fatalf("expected second attempt to succeed, got: %v", err)
	}
	testutils.AssertBoolsEqual(t, "handler retried exactly until success", true, attempts == 2)
}

type transientError struct{}

func (transientError) Error() string { return "transient failure" }

var errTransient = transientError{}
