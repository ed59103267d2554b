package store

import "math/big"

// Store is the full set of crash-safe key-value families the validator
// depends on. Two implementations exist: Memory (plain maps, a single
// mutex, used in tests and for the genesis/dry-run CLI paths) and Bolt
// (go.etcd.io/bbolt, one bucket per family, used in production).
//
// Mutation semantics, per spec: inserting an already-present record
// fails (ErrAlreadyExists); writing a set-once column a second time fails
// (ErrAlreadySet); burning a nonce pair twice fails (ErrNonceBurned).
type Store interface {
	InsertGroup(g *GroupRecord) error
	GetGroup(groupID [32]byte) (*GroupRecord, error)
	SetGroupPublicKey(groupID [32]byte, pk *Point) error
	SetGroupVerificationShare(groupID [32]byte, vs *Point) error
	SetGroupSigningShare(groupID [32]byte, ss *big.Int) error
	ClearGroupCoefficients(groupID [32]byte) error
	DeleteGroup(groupID [32]byte) error

	PutGroupParticipant(groupID [32]byte, gp *GroupParticipant) error
	GetGroupParticipant(groupID [32]byte, id uint64) (*GroupParticipant, error)
	ListGroupParticipants(groupID [32]byte) ([]*GroupParticipant, error)
	SetParticipantSecretShare(groupID [32]byte, id uint64, share *big.Int) error

	InsertNonceTree(tree *NonceTree) error
	GetNonceTree(groupID, root [32]byte) (*NonceTree, error)
	BurnNonce(groupID, root [32]byte, leafIndex int) error
	NextUnburnedLeaf(groupID [32]byte) (*NonceTree, int, error)
	HasUnburnedLeaf(groupID [32]byte) (bool, error)

	InsertNonceLink(link *NonceLink) error
	GetNonceLink(groupID [32]byte, participantID, chunk uint64) (*NonceLink, error)

	InsertSignatureRequest(req *SignatureRequest) error
	GetSignatureRequest(sigID [32]byte) (*SignatureRequest, error)
	UpdateSignatureRequest(req *SignatureRequest) error
	DeleteSignatureRequest(sigID [32]byte) error

	EnqueueAction(entry *ActionQueueEntry) error
	PeekAction() (*ActionQueueEntry, error)
	PopAction(sequence uint64) error

	InsertTxStoreEntry(e *TxStoreEntry) error
	MaxTxNonce() (uint64, bool, error)
	ListTxStoreEntries() ([]*TxStoreEntry, error)
	SetTxHash(nonce uint64, hash [32]byte) error
	DeleteTxStoreEntry(nonce uint64) error

	GetConsensusState() (*ConsensusState, error)
	PutConsensusState(s *ConsensusState) error

	GetRolloverState() (*RolloverMachineState, error)
	PutRolloverState(s *RolloverMachineState) error

	GetSigningState(message [32]byte) (*SigningMachineState, error)
	PutSigningState(s *SigningMachineState) error
	DeleteSigningState(message [32]byte) error
	ListSigningStates() ([]*SigningMachineState, error)

	GetCursor() (*WatcherCursor, error)
	PutCursor(c WatcherCursor) error

	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Bolt)(nil)
)
