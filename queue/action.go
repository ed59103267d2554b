// Package queue implements the validator's durable action queue: a FIFO
// of ActionQueueEntry processed head-of-line by a single worker, and the
// nonce-reserving tx_store that turns an action's calldata into an
// at-least-once-then-confirmed on-chain transaction.
//
// The worker loop is grounded on the teacher's RunRoastCh/RunMember
// channel-select pattern (protocol.go, gjkr/member.go): a goroutine that
// drains one work item at a time and reacts to its outcome, generalized
// here from an unbuffered-channel rendezvous to a persisted FIFO so a
// crash mid-action resumes instead of losing the in-flight item.
package queue

import (
	"bytes"
	"encoding/gob"
	"math/big"

	"github.com/pkg/errors"

	"github.com/shieldnet/validator/store"
)

// StartKeyGen requests this validator open a new DKG group.
type StartKeyGen struct {
	Participants []store.Participant
	Threshold    int
	Context      []byte
	GroupID      [32]byte // zero for genesis; derived deterministically otherwise
}

// PublishSecretShares requests this validator compute and broadcast its
// VSS shares for a group whose commitments are all in.
type PublishSecretShares struct {
	GroupID [32]byte
}

// ConfirmKeyGen requests this validator submit keyGenConfirm (or
// keyGenConfirmWithCallback for a non-genesis rollover).
type ConfirmKeyGen struct {
	GroupID  [32]byte
	Callback *KeyGenCallback
}

// KeyGenCallback carries the target/context pair for
// keyGenConfirmWithCallback, set only for a non-genesis rollover.
type KeyGenCallback struct {
	Target  [20]byte
	Context []byte
}

// Complain requests this validator submit keyGenComplain against
// AccusedID for GroupID.
type Complain struct {
	GroupID   [32]byte
	AccusedID uint64
}

// ComplaintResponse requests this validator reveal its plaintext share
// owed to PlaintiffID in response to a complaint.
type ComplaintResponse struct {
	GroupID     [32]byte
	PlaintiffID uint64
	Share       *big.Int
}

// RequestSignature requests this validator submit sign(group_id, message).
type RequestSignature struct {
	GroupID [32]byte
	Message [32]byte
}

// RegisterNonceCommitments requests this validator submit
// preprocess(group_id, commitment_root) for a freshly generated nonce tree.
type RegisterNonceCommitments struct {
	GroupID [32]byte
	Root    [32]byte
}

// RevealNonceCommitments requests this validator submit
// signRevealNonces for an in-flight signature request.
type RevealNonceCommitments struct {
	SignatureID [32]byte
	GroupID     [32]byte
}

// PublishSignatureShare requests this validator submit signShare (or
// signShareWithCallback) for a signature request whose nonce commitments
// are all in.
type PublishSignatureShare struct {
	SignatureID [32]byte
	Callback    *KeyGenCallback
}

// AttestTransaction requests this validator submit
// attestTransaction(epoch, transaction_hash, signature_id).
type AttestTransaction struct {
	Epoch           uint64
	TransactionHash [32]byte
	SignatureID     [32]byte
}

// StageEpoch requests this validator submit
// stageEpoch(proposed_epoch, rollover_block, group_id, signature_id).
type StageEpoch struct {
	ProposedEpoch uint64
	RolloverBlock uint64
	GroupID       [32]byte
	SignatureID   [32]byte
}

// Encode gob-encodes a typed action payload for storage behind the
// opaque store.ActionQueueEntry.Payload field.
func Encode(action interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(action); err != nil {
		return nil, errors.Wrap(err, "encoding action payload")
	}
	return buf.Bytes(), nil
}

// decode gob-decodes payload into out, a pointer to one of the action
// structs above.
func decode(payload []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(out)
}
