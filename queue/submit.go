package queue

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shieldnet/validator/chain"
	"github.com/shieldnet/validator/store"
)

// DefaultPollInterval is how often checkPending scans tx_store for rows
// due for a receipt check or resubmission.
const DefaultPollInterval = 12 * time.Second

// DefaultResubmitAfter is how long a submitted-but-unconfirmed row is
// left alone before checkPending resubmits it with the same nonce.
const DefaultResubmitAfter = 2 * time.Minute

// broadcaster is the slice of chain.Client that Submitter depends on,
// narrowed to an interface so tests can exercise the nonce-reservation
// and resubmission logic without a live RPC endpoint.
type broadcaster interface {
	PendingNonceAt(ctx context.Context) (uint64, error)
	SendSignedTx(ctx context.Context, to common.Address, value *big.Int, nonce uint64, calldata []byte) ([32]byte, error)
	TransactionReceipt(ctx context.Context, hash [32]byte) (*types.Receipt, error)
}

var _ broadcaster = (*chain.Client)(nil)

// Submitter implements the "at-least-once-then-confirmed" transaction
// submission contract: register reserves a nonce atomically against
// tx_store's MAX(nonce)+1, send broadcasts it, and a periodic
// checkPending either confirms, resubmits, or (on NonceTooLowError)
// discards each outstanding row.
type Submitter struct {
	store  store.Store
	chain  broadcaster
	logger *zap.Logger
	nowMs  func() int64
}

// NewSubmitter builds a Submitter writing reservations through s and
// broadcasting through c.
func NewSubmitter(s store.Store, c *chain.Client, logger *zap.Logger) *Submitter {
	return newSubmitter(s, c, logger)
}

// newSubmitter builds a Submitter against any broadcaster, letting tests
// substitute a fake for chain.Client.
func newSubmitter(s store.Store, c broadcaster, logger *zap.Logger) *Submitter {
	return &Submitter{
		store:  s,
		chain:  c,
		logger: logger,
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Submit reserves the next nonce, persists the tx_store row, and
// broadcasts the transaction, returning its hash. Per spec.md §4.6 step
// 2, the reserved nonce is max(pending_nonce, MAX(stored.nonce)+1): a
// row already in flight always wins over the node's possibly-stale
// pending-nonce view.
func (s *Submitter) Submit(ctx context.Context, to [20]byte, value *big.Int, gas uint64, calldata []byte) (uint64, error) {
	pendingNonce, err := s.chain.PendingNonceAt(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "reading pending nonce")
	}

	maxStored, hasStored, err := s.store.MaxTxNonce()
	if err != nil {
		return 0, errors.Wrap(err, "reading max stored nonce")
	}

	nonce := pendingNonce
	if hasStored && maxStored+1 > nonce {
		nonce = maxStored + 1
	}

	if value == nil {
		value = big.NewInt(0)
	}

	if err := s.store.InsertTxStoreEntry(&store.TxStoreEntry{
		Nonce:     nonce,
		To:        to,
		Value:     value,
		Calldata:  calldata,
		Gas:       gas,
		CreatedAt: s.nowMs(),
	}); err != nil {
		return 0, errors.Wrap(err, "reserving tx_store row")
	}

	hash, err := s.chain.SendSignedTx(ctx, common.Address(to), value, nonce, calldata)
	if err != nil {
		// The row stays; checkPending will resubmit it with the same
		// nonce/calldata on its next pass, satisfying at-least-once.
		s.logger.Warn("initial broadcast failed, leaving row for checkPending", zap.Uint64("nonce", nonce), zap.Error(err))
		return nonce, nil
	}

	if err := s.store.SetTxHash(nonce, hash); err != nil {
		return nonce, errors.Wrap(err, "recording tx hash")
	}

	return nonce, nil
}

// CheckPending implements spec.md §4.6's timer: for every row older
// than resubmitAfter, look up its receipt; mined rows are deleted,
// absent rows are resubmitted at the same nonce/calldata, and a
// NonceTooLowError (meaning some other path already consumed the
// nonce) deletes the row without resubmitting.
func (s *Submitter) CheckPending(ctx context.Context, resubmitAfter time.Duration) error {
	entries, err := s.store.ListTxStoreEntries()
	if err != nil {
		return errors.Wrap(err, "listing tx_store entries")
	}

	cutoff := s.nowMs() - resubmitAfter.Milliseconds()

	for _, e := range entries {
		if e.CreatedAt > cutoff {
			continue
		}

		if e.Hash != nil {
			receipt, err := s.chain.TransactionReceipt(ctx, *e.Hash)
			if err == nil && receipt != nil {
				if err := s.store.DeleteTxStoreEntry(e.Nonce); err != nil {
					return errors.Wrap(err, "clearing mined tx_store row")
				}
				continue
			}
			if err != nil && !chain.IsNotFound(err) {
				s.logger.Warn("receipt lookup failed, will retry", zap.Uint64("nonce", e.Nonce), zap.Error(err))
				continue
			}
		}

		hash, err := s.chain.SendSignedTx(ctx, common.Address(e.To), e.Value, e.Nonce, e.Calldata)
		if err != nil {
			if isNonceTooLow(err) {
				if err := s.store.DeleteTxStoreEntry(e.Nonce); err != nil {
					return errors.Wrap(err, "clearing consumed tx_store row")
				}
				continue
			}
			s.logger.Warn("resubmit failed, will retry next pass", zap.Uint64("nonce", e.Nonce), zap.Error(err))
			continue
		}

		if err := s.store.SetTxHash(e.Nonce, hash); err != nil {
			return errors.Wrap(err, "recording resubmitted tx hash")
		}
	}

	return nil
}

// Run drives CheckPending on a pollInterval ticker until ctx is
// cancelled, the check-pending timer task from spec.md §5's three
// cooperative tasks.
func (s *Submitter) Run(ctx context.Context, pollInterval, resubmitAfter time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.CheckPending(ctx, resubmitAfter); err != nil {
				s.logger.Warn("checkPending pass failed", zap.Error(err))
			}
		}
	}
}

// isNonceTooLow reports whether err indicates the node rejected the
// transaction because its nonce has already been consumed, matching
// go-ethereum's go-ethereum/core.ErrNonceTooLow text (the error itself
// is only constructible inside go-ethereum's txpool, so RPC clients
// match it by message as go-ethereum's own RPC error wrapping does).
func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}
