// Package watcher converts on-chain progress into the ordered event
// stream package statemachine consumes: a reorg-aware walk from the
// persisted cursor to the chain head, decoding Coordinator/Consensus
// logs into statemachine.Event values sorted by (block_number,
// log_index), per spec.md §4.9.
//
// Grounded stylistically on the teacher's RunRoastCh/RunMember
// channel-select loop (protocol.go) generalized from a single
// in-process round driver to a crash-resumable chain poller; the
// reorg/bloom/paging mechanics themselves have no teacher analogue and
// are built directly on go-ethereum's ethclient/core/types primitives.
package watcher

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shieldnet/validator/statemachine"
)

// Config is the watcher's tunable behavior.
type Config struct {
	CoordinatorAddress common.Address
	ConsensusAddress    common.Address

	// MaxReorgDepth is how far behind the persisted cursor the watcher
	// pessimistically uncles on startup before resuming live tailing.
	MaxReorgDepth uint64

	// PropagationDelay is how long the watcher waits past a block's
	// expected timestamp before polling for it.
	PropagationDelay time.Duration

	// BlockSingleQueryRetryCount is how many times a per-block log
	// query is retried before falling back to one query per event type.
	BlockSingleQueryRetryCount int

	// WarpPageSize is the initial number of blocks a warp step
	// requests logs for in one call; halved on RPC failure.
	WarpPageSize uint64
}

// DefaultConfig returns conservative defaults for every tunable Config
// exposes beyond the two contract addresses.
func DefaultConfig(coordinator, consensus common.Address) Config {
	return Config{
		CoordinatorAddress:         coordinator,
		ConsensusAddress:           consensus,
		MaxReorgDepth:              12,
		PropagationDelay:           2 * time.Second,
		BlockSingleQueryRetryCount: 3,
		WarpPageSize:               256,
	}
}

// UpdateKind tags the kind of progress a BlockUpdate reports.
type UpdateKind string

const (
	// UpdateWarp reports a contiguous range of already-finalized blocks
	// walked in a single batched log query.
	UpdateWarp UpdateKind = "Warp"
	// UpdateUncle reports a single block being rolled back because a
	// reorg replaced it (or, at startup, the pessimistic uncle window).
	UpdateUncle UpdateKind = "Uncle"
	// UpdateNew reports a single newly-observed block at the chain head.
	UpdateNew UpdateKind = "New"
)

// BlockUpdate is one step of the watcher's output stream. From/To are
// inclusive block numbers (From == To for Uncle/New). Events carries
// every decoded log in [From, To], sorted by (block_number, log_index),
// ready to feed statemachine.Driver.Apply in order.
type BlockUpdate struct {
	Kind   UpdateKind
	From   uint64
	To     uint64
	Events []statemachine.Event
}
