package watcher

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/chain"
	"github.com/shieldnet/validator/statemachine"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/verify"
)

// eventByTopic maps an event's topic0 (its Keccak256 signature hash) to
// the parsed ABI event, across both contracts, so a raw log can be
// routed to a decoder without knowing in advance which contract it
// came from.
type eventByTopic map[common.Hash]abi.Event

func buildEventIndex() eventByTopic {
	idx := make(eventByTopic)
	for _, name := range chain.CoordinatorEventNames {
		ev := chain.CoordinatorABI().Events[name]
		idx[ev.ID] = ev
	}
	for _, name := range chain.ConsensusEventNames {
		ev := chain.ConsensusABI().Events[name]
		idx[ev.ID] = ev
	}
	return idx
}

// topicValue converts an indexed argument's 32-byte topic word back
// into the Go value abi.Arguments.UnpackIntoMap would have produced had
// it not been indexed: every event this decoder handles indexes only
// bytes32 or uintN fields, both of which need no special ABI decoding
// beyond the topic's raw bytes.
func topicValue(t abi.Type, topic common.Hash) interface{} {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic[:]).Uint64()
	default:
		var out [32]byte
		copy(out[:], topic[:])
		return out
	}
}

// unpackLog decodes log's non-indexed data and indexed topics into a
// single name -> value map.
func unpackLog(ev abi.Event, log gethtypes.Log) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(out, log.Data); err != nil {
		return nil, errors.Wrapf(err, "unpacking %s data", ev.Name)
	}
	topicIdx := 1
	for _, arg := range ev.Inputs {
		if !arg.Indexed {
			continue
		}
		if topicIdx >= len(log.Topics) {
			return nil, errors.Errorf("%s: missing topic for indexed arg %s", ev.Name, arg.Name)
		}
		out[arg.Name] = topicValue(arg.Type, log.Topics[topicIdx])
		topicIdx++
	}
	return out, nil
}

func bytes32(m map[string]interface{}, key string) [32]byte {
	v, _ := m[key].([32]byte)
	return v
}

func u64(m map[string]interface{}, key string) uint64 {
	switch v := m[key].(type) {
	case uint64:
		return v
	case *big.Int:
		return v.Uint64()
	default:
		return 0
	}
}

func bigInt(m map[string]interface{}, key string) *big.Int {
	v, _ := m[key].(*big.Int)
	return v
}

func bytesField(m map[string]interface{}, key string) []byte {
	v, _ := m[key].([]byte)
	return v
}

func bytesSlice(m map[string]interface{}, key string) [][]byte {
	v, _ := m[key].([][]byte)
	return v
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func addressField(m map[string]interface{}, key string) common.Address {
	v, _ := m[key].(common.Address)
	return v
}

func uint8Field(m map[string]interface{}, key string) uint8 {
	switch v := m[key].(type) {
	case uint8:
		return v
	case *big.Int:
		return uint8(v.Uint64())
	default:
		return 0
	}
}

// resolveMessage maps a signature's id back to the message it signs, reading consensus_state.SignatureMessages, for TransactionAttested
// which (unlike every other terminal event) only echoes signature_id.
type resolveMessage func(signatureID [32]byte) ([32]byte, bool)

func newResolver(s store.Store) resolveMessage {
	return func(signatureID [32]byte) ([32]byte, bool) {
		consensus, err := s.GetConsensusState()
		if err != nil || consensus == nil {
			return [32]byte{}, false
		}
		msg, ok := consensus.SignatureMessages[signatureID]
		return msg, ok
	}
}

// decodeLog translates one raw Coordinator/Consensus log into a
// statemachine.Event. A nil, nil result means the log's topic0 doesn't
// match any event this validator understands (e.g. a future contract
// version) and should be skipped, not treated as an error.
func decodeLog(idx eventByTopic, log gethtypes.Log, resolve resolveMessage) (*statemachine.Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}
	ev, ok := idx[log.Topics[0]]
	if !ok {
		return nil, nil
	}

	fields, err := unpackLog(ev, log)
	if err != nil {
		return nil, err
	}

	base := statemachine.Event{Block: log.BlockNumber, Index: uint64(log.Index)}

	switch ev.Name {
	case "KeyGenStarted":
		base.Kind = statemachine.EventKeyGen
		base.GroupID = bytes32(fields, "groupId")
	case "KeyGenCommitted":
		base.Kind = statemachine.EventKeyGenCommitted
		base.GroupID = bytes32(fields, "groupId")
		base.ParticipantID = u64(fields, "id")
		base.Commitments = bytesSlice(fields, "commitments")
		base.PoKR = bytesField(fields, "pokR")
		base.PoKMu = bigInt(fields, "pokMu")
	case "KeyGenSecretShared":
		base.Kind = statemachine.EventKeyGenSecretShared
		base.GroupID = bytes32(fields, "groupId")
		base.ParticipantID = u64(fields, "id")
		base.Shared = boolField(fields, "shared")
		base.EncryptedShare = bytesField(fields, "share")
	case "KeyGenComplaintSubmitted":
		base.Kind = statemachine.EventKeyGenComplaintSubmitted
		base.GroupID = bytes32(fields, "groupId")
		base.AccusedID = u64(fields, "accusedId")
		base.PlaintiffID = u64(fields, "plaintiffId")
	case "KeyGenComplaintResponded":
		base.Kind = statemachine.EventKeyGenComplaintResponded
		base.GroupID = bytes32(fields, "groupId")
		base.AccusedID = u64(fields, "accusedId")
		base.PlaintiffID = u64(fields, "plaintiffId")
		base.Share = bigInt(fields, "share")
	case "KeyGenConfirmed":
		base.Kind = statemachine.EventKeyGenConfirmed
		base.GroupID = bytes32(fields, "groupId")
		base.ParticipantID = u64(fields, "id")
	case "SignRequested":
		base.Kind = statemachine.EventSign
		base.GroupID = bytes32(fields, "groupId")
		base.SignatureID = bytes32(fields, "signatureId")
		base.Message = bytes32(fields, "message")
		base.Index = u64(fields, "index")
	case "NonceCommitmentsHashed":
		base.Kind = statemachine.EventNonceCommitmentsHash
		base.GroupID = bytes32(fields, "groupId")
		base.ParticipantID = u64(fields, "id")
		base.Root = bytes32(fields, "root")
		base.Chunk = u64(fields, "chunk")
	case "NonceCommitmentsRevealed":
		base.Kind = statemachine.EventNonceCommitments
		base.SignatureID = bytes32(fields, "signatureId")
		base.ParticipantID = u64(fields, "id")
		base.Commitments = [][]byte{bytesField(fields, "hiding"), bytesField(fields, "binding")}
	case "SignatureShared":
		base.Kind = statemachine.EventSignatureShare
		base.SignatureID = bytes32(fields, "signatureId")
		base.ParticipantID = u64(fields, "id")
	case "Signed":
		base.Kind = statemachine.EventSigned
		base.SignatureID = bytes32(fields, "signatureId")
		base.Message = bytes32(fields, "message")
	case "EpochProposed":
		base.Kind = statemachine.EventEpochProposed
		base.ProposedEpoch = u64(fields, "proposedEpoch")
		base.RolloverBlock = u64(fields, "rolloverBlock")
		base.GroupID = bytes32(fields, "groupId")
	case "EpochStaged":
		base.Kind = statemachine.EventEpochStaged
		base.ProposedEpoch = u64(fields, "proposedEpoch")
		base.RolloverBlock = u64(fields, "rolloverBlock")
		base.GroupID = bytes32(fields, "groupId")
	case "TransactionProposed":
		base.Kind = statemachine.EventTransactionProposed
		base.ProposedEpoch = u64(fields, "epoch")
		base.SafeTxHash = bytes32(fields, "safeTxHash")
		base.Proposal = &verify.SafeTransactionPacket{
			ChainID:        bigInt(fields, "chainId"),
			Safe:           addressField(fields, "safe"),
			To:             addressField(fields, "to"),
			Value:          bigInt(fields, "value"),
			Data:           bytesField(fields, "data"),
			Operation:      verify.Operation(uint8Field(fields, "operation")),
			SafeTxGas:      bigInt(fields, "safeTxGas"),
			BaseGas:        bigInt(fields, "baseGas"),
			GasPrice:       bigInt(fields, "gasPrice"),
			GasToken:       addressField(fields, "gasToken"),
			RefundReceiver: addressField(fields, "refundReceiver"),
			Nonce:          bigInt(fields, "nonce"),
		}
	case "TransactionAttested":
		signatureID := bytes32(fields, "signatureId")
		message, known := resolve(signatureID)
		if !known {
			// No local signing state remembers this signature_id (it
			// predates this validator joining the group, or belongs to
			// a message this validator never signed); nothing to apply.
			return nil, nil
		}
		base.Kind = statemachine.EventSigned
		base.SignatureID = signatureID
		base.Message = message
	default:
		return nil, nil
	}

	return &base, nil
}
