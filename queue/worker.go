package queue

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shieldnet/validator/store"
)

// DefaultRetryDelay is the pause between a failed action handler
// invocation and the next attempt on the same head-of-line entry.
const DefaultRetryDelay = time.Second

// DefaultTTL is the expiry an enqueued action carries when the caller
// does not specify one.
const DefaultTTL = 10 * time.Minute

// Handler executes one action kind's effect (typically: encode calldata,
// submit a transaction). Returning an error retains the action at the
// head of the queue for a retry after RetryDelay.
type Handler func(ctx context.Context, payload []byte) error

// Worker drains a single store's action queue head-of-line: peek, drop
// if expired, invoke the registered handler, pop on success, else retry
// the same entry after RetryDelay. One action is in flight at a time,
// an intentional simplification per the ordering guarantee that this
// validator's on-chain transactions stay strictly nonce-ordered.
type Worker struct {
	store      store.Store
	handlers   map[store.ActionKind]Handler
	retryDelay time.Duration
	logger     *zap.Logger
	nowMs      func() int64
}

// NewWorker builds a Worker over s. nowMs defaults to
// time.Now().UnixMilli if nil, overridable in tests.
func NewWorker(s store.Store, logger *zap.Logger, nowMs func() int64) *Worker {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Worker{
		store:      s,
		handlers:   make(map[store.ActionKind]Handler),
		retryDelay: DefaultRetryDelay,
		logger:     logger,
		nowMs:      nowMs,
	}
}

// Register installs the handler for kind, overwriting any previous one.
func (w *Worker) Register(kind store.ActionKind, h Handler) {
	w.handlers[kind] = h
}

// Enqueue persists a new action with the default TTL.
func (w *Worker) Enqueue(kind store.ActionKind, action interface{}) error {
	return w.EnqueueWithTTL(kind, action, DefaultTTL)
}

// EnqueueWithTTL persists a new action expiring after ttl.
func (w *Worker) EnqueueWithTTL(kind store.ActionKind, action interface{}, ttl time.Duration) error {
	payload, err := Encode(action)
	if err != nil {
		return err
	}
	return w.store.EnqueueAction(&store.ActionQueueEntry{
		Kind:         kind,
		Payload:      payload,
		ValidUntilMs: w.nowMs() + ttl.Milliseconds(),
	})
}

// Run processes the queue until ctx is cancelled. Each iteration peeks
// the head entry; an empty queue is not an error and simply waits
// retryDelay before looking again.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.step(ctx); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				if !w.sleep(ctx, w.retryDelay) {
					return ctx.Err()
				}
				continue
			}
			w.logger.Warn("action queue step failed, retrying head entry", zap.Error(err))
			if !w.sleep(ctx, w.retryDelay) {
				return ctx.Err()
			}
		}
	}
}

// step processes exactly one head-of-line entry (or returns
// store.ErrNotFound when the queue is empty).
func (w *Worker) step(ctx context.Context) error {
	entry, err := w.store.PeekAction()
	if err != nil {
		return err
	}

	if w.nowMs() >= entry.ValidUntilMs {
		w.logger.Warn("dropping expired action",
			zap.String("kind", string(entry.Kind)),
			zap.Uint64("sequence", entry.Sequence),
		)
		return w.store.PopAction(entry.Sequence)
	}

	handler, ok := w.handlers[entry.Kind]
	if !ok {
		return pkgerrors.Errorf("no handler registered for action kind %q", entry.Kind)
	}

	if err := handler(ctx, entry.Payload); err != nil {
		return pkgerrors.Wrapf(err, "handling action %q (sequence %d)", entry.Kind, entry.Sequence)
	}

	return w.store.PopAction(entry.Sequence)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
