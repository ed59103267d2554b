// Package statemachine implements the validator's event-driven
// transition handlers: pure functions from (config, clients, immutable
// state, event) to a StateDiff, which Driver then writes to the store.
//
// Grounded stylistically on the teacher's gjkr.group/gjkr.member state
// bookkeeping (inactiveMemberIndexes/disqualifiedMemberIndexes as plain
// slices mutated through small, single-purpose methods), generalized
// here to the richer rollover/signing state union spec.md §4.8 names.
package statemachine

import (
	"math/big"

	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/verify"
)

// EventKind tags the union member carried by an Event.
type EventKind string

const (
	EventKeyGen                  EventKind = "KeyGen"
	EventKeyGenCommitted         EventKind = "KeyGenCommitted"
	EventKeyGenSecretShared      EventKind = "KeyGenSecretShared"
	EventKeyGenComplaintSubmitted EventKind = "KeyGenComplaintSubmitted"
	EventKeyGenComplaintResponded EventKind = "KeyGenComplaintResponded"
	EventKeyGenConfirmed         EventKind = "KeyGenConfirmed"
	EventSign                    EventKind = "Sign"
	EventNonceCommitmentsHash    EventKind = "NonceCommitmentsHash"
	EventNonceCommitments        EventKind = "NonceCommitments"
	EventSignatureShare          EventKind = "SignatureShare"
	EventSigned                  EventKind = "Signed"
	EventEpochProposed           EventKind = "EpochProposed"
	EventEpochStaged             EventKind = "EpochStaged"
	EventTransactionProposed     EventKind = "TransactionProposed"
	EventBlockTick               EventKind = "BlockTick"
	EventActionTimeout           EventKind = "ActionTimeout"
)

// Event is a single transition input: an on-chain log decoded by the
// watcher, a block tick, or a locally-detected deadline expiry.
type Event struct {
	Kind  EventKind
	Block uint64
	Index uint64

	GroupID       [32]byte
	ParticipantID uint64
	AccusedID     uint64
	PlaintiffID   uint64
	Share         *big.Int

	// Commitments/PoKR/PoKMu carry a KeyGenCommitted event's already
	// ABI-decoded commitment vector and proof of knowledge: the watcher
	// decodes the on-chain event's typed (c, r, mu) tuple directly into
	// these rather than handing statemachine a wire blob to re-parse.
	Commitments [][]byte
	PoKR        []byte
	PoKMu       *big.Int

	// Shared reports whether a KeyGenSecretShared event's `shared` flag
	// was true (a real share) vs false (sender reported it had none).
	Shared bool
	// EncryptedShare is the KeyGenSecretShared event's share ciphertext.
	EncryptedShare []byte

	SignatureID [32]byte
	Message     [32]byte
	Root        [32]byte
	Chunk       uint64

	ProposedEpoch uint64
	RolloverBlock uint64

	// SafeTxHash and Proposal carry a decoded TransactionProposed log's
	// payload; Proposal mirrors spec.md §3's TransactionProposal and
	// feeds directly into verify.SafeTransactionPacket.
	SafeTxHash [32]byte
	Proposal   *verify.SafeTransactionPacket

	// TimeoutFor names the machine state an ActionTimeout fired for, as
	// recorded by ScanDeadlines. Driver routes a timeout by Message and
	// reloads the state from store; it does not read this field.
	TimeoutFor string
}

// ConsensusDelta is the subset of ConsensusState a handler wants
// changed.
type ConsensusDelta struct {
	ActiveEpoch    *uint64
	StagedEpoch    *uint64
	RolloverBlock  *uint64
	GenesisGroupID *[32]byte
	NewEpochGroup  *store.EpochGroup
	EpochNumber    *uint64

	// SignatureID/SignatureMessage bind a new signature_id to the message
	// it signs, recorded in ConsensusState.SignatureMessages.
	SignatureID      *[32]byte
	SignatureMessage *[32]byte
}

// RolloverDiff replaces the rollover machine's persisted state.
type RolloverDiff struct {
	State *store.RolloverMachineState
}

// SigningDiff replaces one message's signing machine state (a nil
// State deletes it, signaling completion or timeout).
type SigningDiff struct {
	Message [32]byte
	State   *store.SigningMachineState
}

// QueuedAction pairs an ActionKind with its typed payload, queued for
// the durable action worker once the diff commits.
type QueuedAction struct {
	Kind    store.ActionKind
	Payload interface{}
}

// StateDiff is the pure, not-yet-applied result of one transition
// handler. Driver.applyDiff writes every non-nil field with its own
// store call; the watcher cursor is advanced separately by the caller.
type StateDiff struct {
	Consensus *ConsensusDelta
	Rollover  *RolloverDiff
	Signing   *SigningDiff
	Actions   []QueuedAction
}

// Empty reports whether d has no effect, the idempotent-replay result
// spec.md §8 requires for an already-processed event.
func (d *StateDiff) Empty() bool {
	return d == nil || (d.Consensus == nil && d.Rollover == nil && d.Signing == nil && len(d.Actions) == 0)
}

func enqueue(actions []QueuedAction, kind store.ActionKind, payload interface{}) []QueuedAction {
	return append(actions, QueuedAction{Kind: kind, Payload: payload})
}
