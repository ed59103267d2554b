package watcher

import (
	"context"
	"math/big"
	"sort"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/statemachine"
	"github.com/shieldnet/validator/store"
)

// ChainReader is the subset of chain.Client the watcher needs, kept
// narrow so tests can supply a fake in place of a live RPC endpoint.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Watcher walks the chain from the persisted cursor to its head,
// producing a reorg-aware, bloom-filtered, ordered BlockUpdate stream.
type Watcher struct {
	chain ChainReader
	store store.Store
	cfg   Config

	events   eventByTopic
	resolve  resolveMessage
	topics   []common.Hash

	// lastHash is the hash of the most recently delivered block,
	// compared against the next fetched block's parent hash to detect
	// a reorg during live tailing.
	lastHash common.Hash
}

// New builds a Watcher over chain and store, ready to stream updates
// from store's persisted cursor once Start is called.
func New(chainReader ChainReader, s store.Store, cfg Config) *Watcher {
	idx := buildEventIndex()
	topics := make([]common.Hash, 0, len(idx))
	for topic := range idx {
		topics = append(topics, topic)
	}
	return &Watcher{
		chain:   chainReader,
		store:   s,
		cfg:     cfg,
		events:  idx,
		resolve: newResolver(s),
		topics:  topics,
	}
}

// Start performs the startup reorg recovery spec.md §4.9 describes:
// pessimistically uncle up to MaxReorgDepth blocks behind the persisted
// cursor before live tailing begins, per the S3 scenario (cursor 900,
// max_reorg_depth 2 -> UncleBlock(899), then WarpToBlock(899, ...)).
// Returns a single uncle update at baseline+1, where baseline =
// cursor.BlockNumber - depth; the caller must apply it (rolling back
// any state blocks > baseline caused) and persist a cursor at baseline
// before calling Next, which then resumes at baseline+1 — the same
// apply-then-advance-cursor contract every other update follows. A
// cursor at block 0 (fresh start) produces no uncle.
func (w *Watcher) Start(ctx context.Context) (*BlockUpdate, error) {
	cursor, err := w.store.GetCursor()
	if err != nil {
		return nil, err
	}
	if cursor == nil || cursor.BlockNumber == 0 {
		return nil, nil
	}

	depth := w.cfg.MaxReorgDepth
	if depth > cursor.BlockNumber {
		depth = cursor.BlockNumber
	}
	baseline := cursor.BlockNumber - depth

	header, err := w.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(baseline))
	if err != nil {
		return nil, errors.Wrap(err, "fetching reorg-recovery baseline header")
	}
	w.lastHash = header.Hash()

	return &BlockUpdate{Kind: UpdateUncle, From: baseline + 1, To: baseline + 1}, nil
}

// Next advances the stream by one step: a batched Warp over as much of
// [lastDelivered+1, head] as the RPC endpoint will serve in one call, or
// a single New/Uncle step once within one block of head. Returns nil,
// nil if there is nothing new to deliver yet.
func (w *Watcher) Next(ctx context.Context) (*BlockUpdate, error) {
	head, err := w.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetching chain head")
	}

	cursor, err := w.store.GetCursor()
	if err != nil {
		return nil, err
	}
	from := cursor.BlockNumber + 1
	if cursor.BlockNumber == 0 {
		from = 0
	}
	to := head.Number.Uint64()
	if from > to {
		return nil, nil
	}

	expected := time.Unix(int64(head.Time), 0).Add(w.cfg.PropagationDelay)
	if time.Now().Before(expected) && to == from {
		return nil, nil
	}

	// Within one block of head: fetch it singly so a reorg at the tip
	// is detected (and reported as UpdateUncle) before it is applied.
	if to-from == 0 {
		block, err := w.chain.BlockByNumber(ctx, new(big.Int).SetUint64(from))
		if err != nil {
			return nil, errors.Wrap(err, "fetching tip block")
		}
		if w.lastHash != (common.Hash{}) && block.ParentHash() != w.lastHash {
			w.lastHash = block.ParentHash()
			return &BlockUpdate{Kind: UpdateUncle, From: from - 1, To: from - 1}, nil
		}

		var events []statemachine.Event
		if BloomTest(block.Header(), w.cfg) {
			events, err = w.fetchBlockEvents(ctx, from)
			if err != nil {
				return nil, err
			}
		}
		w.lastHash = block.Hash()
		return &BlockUpdate{Kind: UpdateNew, From: from, To: from, Events: events}, nil
	}

	return w.warp(ctx, from, to)
}

// warp fetches logs for [from, to] in as few batched queries as
// possible, halving the page size on RPC failure until it succeeds or
// the page shrinks to a single block (which falls back to fetchBlockEvents).
func (w *Watcher) warp(ctx context.Context, from, to uint64) (*BlockUpdate, error) {
	page := w.cfg.WarpPageSize
	if page == 0 {
		page = 1
	}
	end := from + page - 1
	if end > to {
		end = to
	}

	for {
		events, err := w.filterRange(ctx, from, end)
		if err != nil && end == from {
			events, err = w.fetchBlockEvents(ctx, from)
			if err != nil {
				return nil, errors.Wrap(err, "warp query failed at minimum page size")
			}
		}
		if err == nil {
			header, herr := w.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(end))
			if herr != nil {
				return nil, errors.Wrap(herr, "fetching warp end header")
			}
			w.lastHash = header.Hash()
			return &BlockUpdate{Kind: UpdateWarp, From: from, To: end, Events: events}, nil
		}
		end = from + (end-from)/2
	}
}

// fetchBlockEvents fetches logs for a single block, retrying
// BlockSingleQueryRetryCount times before falling back to one query
// per event topic (a contract with many event kinds sometimes rejects
// a combined-topic filter an RPC node would accept per-topic).
func (w *Watcher) fetchBlockEvents(ctx context.Context, block uint64) ([]statemachine.Event, error) {
	var lastErr error
	for attempt := 0; attempt < w.cfg.BlockSingleQueryRetryCount; attempt++ {
		events, err := w.filterRange(ctx, block, block)
		if err == nil {
			return events, nil
		}
		lastErr = err
	}

	var all []statemachine.Event
	for _, topic := range w.topics {
		logs, err := w.chain.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(block),
			ToBlock:   new(big.Int).SetUint64(block),
			Addresses: []common.Address{w.cfg.CoordinatorAddress, w.cfg.ConsensusAddress},
			Topics:    [][]common.Hash{{topic}},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "per-event fallback query after %d retries (last: %v)", w.cfg.BlockSingleQueryRetryCount, lastErr)
		}
		decoded, err := w.decodeLogs(logs)
		if err != nil {
			return nil, err
		}
		all = append(all, decoded...)
	}
	sortEvents(all)
	return all, nil
}

// filterRange fetches and decodes logs for [from, to] in one call.
func (w *Watcher) filterRange(ctx context.Context, from, to uint64) ([]statemachine.Event, error) {
	logs, err := w.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.cfg.CoordinatorAddress, w.cfg.ConsensusAddress},
		Topics:    [][]common.Hash{w.topics},
	})
	if err != nil {
		return nil, err
	}
	return w.decodeLogs(logs)
}

func (w *Watcher) decodeLogs(logs []gethtypes.Log) ([]statemachine.Event, error) {
	var out []statemachine.Event
	for _, log := range logs {
		if log.Removed {
			continue
		}
		event, err := decodeLog(w.events, log, w.resolve)
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		out = append(out, *event)
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(events []statemachine.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Block != events[j].Block {
			return events[i].Block < events[j].Block
		}
		return events[i].Index < events[j].Index
	})
}

// BloomTest reports whether header's bloom filter might contain logs
// from any address this watcher cares about, a cheap pre-check that
// lets the caller skip FilterLogs entirely for a block with neither
// contract active.
func BloomTest(header *gethtypes.Header, cfg Config) bool {
	return header.Bloom.Test(cfg.CoordinatorAddress.Bytes()) || header.Bloom.Test(cfg.ConsensusAddress.Bytes())
}
