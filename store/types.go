// Package store implements the validator's crash-safe key-value families:
// one bucket per family, each store method running in its own
// transaction. A state transition and the watcher-cursor advance are
// separate calls and are not committed together.
//
// The storage contract is modeled on the teacher's gjkr.messageStorage
// (evidence_log.go): a mutex-guarded map with set-once put semantics that
// fails loudly on a duplicate. Store generalizes that exact semantic from
// an in-memory map to bbolt-backed buckets, and adds "set-once non-null
// column" semantics for fields such as PublicKey/VerificationShare/
// SigningShare that start nil and may be written exactly once.
package store

import "math/big"

// Point is the storage-layer representation of a curve point, kept as
// plain big.Int coordinates so this package never needs to import frost.
type Point struct {
	X *big.Int
	Y *big.Int
}

// Participant is a single member of a group: its FROST identifier (the
// polynomial evaluation point) and its on-chain account address.
type Participant struct {
	ID      uint64
	Address [20]byte
}

// GroupParticipant holds the per-sender DKG material collected for one
// participant of a group during key generation.
type GroupParticipant struct {
	ID uint64

	// Coefficients is this validator's own polynomial, present only when
	// ID == GroupRecord.ThisParticipantID and only until DKG completes.
	Coefficients []*big.Int

	// Commitments is the public commitment vector C_0..C_{t-1} broadcast by
	// participant ID.
	Commitments []*Point

	// PoKR, PoKMu is the proof of knowledge of the degree-0 coefficient
	// broadcast alongside Commitments.
	PoKR  *Point
	PoKMu *big.Int

	// SecretShare is the decrypted share this validator received from
	// participant ID, once handle_secrets has processed it.
	SecretShare *big.Int
}

// GroupRecord is the complete per-group DKG and key-material record.
type GroupRecord struct {
	GroupID           [32]byte
	Participants      []Participant
	Threshold         int
	ThisParticipantID uint64
	Context           []byte

	// PublicKey, VerificationShare, SigningShare are set-once: each starts
	// nil and may be written exactly once, by CreateSecretShares (PublicKey,
	// VerificationShare) and HandleSecrets (SigningShare) respectively.
	PublicKey         *Point
	VerificationShare *Point
	SigningShare      *big.Int

	// ParticipantsByID holds per-sender commitments/PoK/shares, keyed by
	// participant ID including this validator's own entry.
	ParticipantsByID map[uint64]*GroupParticipant
}

// NonceCommitmentPair is a single pre-processed (hiding, binding) nonce
// pair and its public commitments.
type NonceCommitmentPair struct {
	HidingScalar  *big.Int
	HidingPoint   *Point
	BindingScalar *big.Int
	BindingPoint  *Point

	// Reserved marks a pair as claimed by an in-flight RevealNonces call,
	// before it is burned by CreateSignatureShare. NextUnburnedLeaf must
	// never hand out a reserved-but-not-yet-burned pair to a second
	// caller, or two signature requests could reveal and sign with the
	// same nonce.
	Reserved bool
}

// Burned reports whether this pair has already been revealed and consumed.
func (p *NonceCommitmentPair) Burned() bool {
	return p.HidingScalar == nil && p.BindingScalar == nil
}

// NonceTree is a batch of pre-processed nonce pairs committed under a
// single Merkle root.
type NonceTree struct {
	GroupID  [32]byte
	Root     [32]byte
	Leaves   [][32]byte
	Pairs    []*NonceCommitmentPair
	NextLeaf int
}

// NonceLink associates an external participant's announced nonce-tree root
// with a chunk index within a group's pre-processing round.
type NonceLink struct {
	GroupID       [32]byte
	ParticipantID uint64
	Chunk         uint64
	Root          [32]byte
}

// SignatureRequest is a single in-flight or completed signing ceremony.
type SignatureRequest struct {
	SignatureID          [32]byte
	GroupID              [32]byte
	Message              [32]byte
	Signers              []uint64
	Sequence             uint64
	NonceCommitmentsByID map[uint64]*NonceCommitmentPair
	SignatureSharesByID  map[uint64]*big.Int

	// OwnNonceRoot/OwnNonceLeafIndex pin the exact nonce-tree leaf this
	// validator reserved and broadcast for this request via RevealNonces,
	// so CreateSignatureShare burns that same leaf rather than
	// independently selecting whatever NextUnburnedLeaf returns next.
	OwnNonceRoot      [32]byte
	OwnNonceLeafIndex int
	OwnNonceReserved  bool
}

// Epoch is a numbered group assignment with its rollover block.
type Epoch struct {
	Number        uint64
	GroupID       [32]byte
	RolloverBlock uint64
}

// ConsensusState is the singleton record of global consensus progress.
type ConsensusState struct {
	ActiveEpoch      uint64
	StagedEpoch      uint64
	RolloverBlock    uint64
	GenesisGroupID   *[32]byte
	GroupPendingNonces map[[32]byte]struct{}
	EpochGroups      map[uint64]EpochGroup
	SignatureMessages map[[32]byte][32]byte // signature_id -> message
}

// EpochGroup records which group, and which participant id this validator
// holds, for a given epoch.
type EpochGroup struct {
	GroupID       [32]byte
	ParticipantID uint64
}

// RolloverMachineState is the rollover finite-state-machine's persisted
// state.
type RolloverMachineState struct {
	State             string // WaitingForRollover|CollectingCommitments|...|EpochStaged
	GroupID           [32]byte
	ThisParticipantID uint64
	NextEpoch         uint64
	Deadline          uint64
	// ConfirmPhase indexes CollectingConfirmations' three-deadline ladder:
	// 0 = complaint window, 1 = response window, 2 = final window.
	ConfirmPhase      int
	ConfirmationsFrom map[uint64]struct{}
	ComplaintsFrom    map[uint64]uint64 // accused id -> accuser id
}

// SigningMachineState is the per-message signing finite-state-machine
// state.
type SigningMachineState struct {
	Message         [32]byte
	State           string // WaitingForRequest|CollectNonceCommitments|CollectSigningShares|WaitingForAttestation
	Deadline        uint64
	Signers         []uint64
	SharesFrom      map[uint64]struct{}
	LastParticipant uint64

	// Purpose distinguishes which terminal action WaitingForAttestation
	// emits: "rollover" (stageEpoch) or "transaction" (attestTransaction).
	Purpose string
	// GroupID, Epoch, SignatureID, TransactionHash carry the fields the
	// terminal action needs, set when the signing request is opened.
	GroupID         [32]byte
	Epoch           uint64
	RolloverBlock   uint64
	SignatureID     [32]byte
	TransactionHash [32]byte
}

// ActionKind tags the union member carried by an ActionQueueEntry.
type ActionKind string

const (
	ActionStartKeyGen            ActionKind = "StartKeyGen"
	ActionPublishSecretShares     ActionKind = "PublishSecretShares"
	ActionConfirmKeyGen           ActionKind = "ConfirmKeyGen"
	ActionComplain                ActionKind = "Complain"
	ActionComplaintResponse       ActionKind = "ComplaintResponse"
	ActionRequestSignature        ActionKind = "RequestSignature"
	ActionRegisterNonceCommitments ActionKind = "RegisterNonceCommitments"
	ActionRevealNonceCommitments   ActionKind = "RevealNonceCommitments"
	ActionPublishSignatureShare    ActionKind = "PublishSignatureShare"
	ActionAttestTransaction        ActionKind = "AttestTransaction"
	ActionStageEpoch               ActionKind = "StageEpoch"
)

// ActionQueueEntry is a single durable FIFO entry: a tagged-union action
// payload plus an absolute expiry. Payload is pre-serialized by the queue
// package (gob-encoded concrete action struct) so the store stays opaque
// to the action type set.
type ActionQueueEntry struct {
	Sequence     uint64
	Kind         ActionKind
	Payload      []byte
	ValidUntilMs int64
}

// TxStoreEntry is a single reserved on-chain transaction slot, keyed by
// nonce, tracked from submission through confirmation.
type TxStoreEntry struct {
	Nonce     uint64
	To        [20]byte
	Value     *big.Int
	Calldata  []byte
	Gas       uint64
	CreatedAt int64
	Hash      *[32]byte
}

// WatcherCursor is the last block/log position processed by the watcher.
// It is written by its own PutCursor call, separately from the state
// mutations the processed events caused.
type WatcherCursor struct {
	BlockNumber uint64
	LogIndex    uint64
}
