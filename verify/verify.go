// Package verify implements the validator's canonical-packet hashing
// registry: an extensible type -> handler map, each handler reducing a
// typed packet to the 32-byte packet_id that gets threshold-signed.
//
// No pack repo carries a packet-hashing registry; this is grounded on
// go-ethereum's own EIP-712/Keccak256 primitives (accounts/abi, crypto),
// the same library surface the teacher would have had to reach for had
// its FROST prototype (protocol.go) ever signed a real on-chain payload
// instead of an arbitrary test message.
package verify

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Result is the outcome of a Handler: either a 32-byte packet_id ready
// for threshold signing, or a reason the packet was rejected.
type Result struct {
	Valid    bool
	PacketID [32]byte
	Reason   string
}

// Handler reduces a typed packet to a Result.
type Handler func(packet interface{}) Result

// Registry is an extensible type -> handler map, keyed by the packet
// type name callers pass to Register and Verify.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a Registry with the two handlers spec.md §4.7
// names already installed.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("EpochRolloverPacket", func(p interface{}) Result {
		packet, ok := p.(EpochRolloverPacket)
		if !ok {
			return Result{Reason: "not an EpochRolloverPacket"}
		}
		return Result{Valid: true, PacketID: HashEpochRolloverPacket(packet)}
	})
	r.Register("SafeTransactionPacket", func(p interface{}) Result {
		packet, ok := p.(SafeTransactionPacket)
		if !ok {
			return Result{Reason: "not a SafeTransactionPacket"}
		}
		if packet.Operation != OperationCall && packet.Operation != OperationDelegateCall {
			return Result{Reason: "unknown operation"}
		}
		return Result{Valid: true, PacketID: HashSafeTransactionPacket(packet)}
	})
	return r
}

// Register installs or overwrites the handler for typeName.
func (r *Registry) Register(typeName string, h Handler) {
	r.handlers[typeName] = h
}

// Verify looks up the handler for typeName and runs it over packet.
func (r *Registry) Verify(typeName string, packet interface{}) (Result, error) {
	h, ok := r.handlers[typeName]
	if !ok {
		return Result{}, errors.Errorf("no handler registered for packet type %q", typeName)
	}
	return h(packet), nil
}

// epochRolloverDomain is the fixed domain separator for
// EpochRolloverPacket hashing, distinguishing it from any other
// 7-field packet that might otherwise collide.
var epochRolloverDomain = crypto.Keccak256Hash([]byte("ShieldnetValidator-EpochRollover-v1"))

// EpochRolloverPacket mirrors spec.md §4.7's rollover attestation
// fields.
type EpochRolloverPacket struct {
	ChainID        *big.Int
	Consensus      common.Address
	ActiveEpoch    uint64
	ProposedEpoch  uint64
	RolloverBlock  uint64
	GroupKeyX      *big.Int
	GroupKeyY      *big.Int
}

// HashEpochRolloverPacket hashes (domain.chain, domain.consensus,
// active_epoch, proposed_epoch, rollover_block, group_key.x,
// group_key.y) under the fixed epoch-rollover domain separator, each
// field encoded as a left-padded 32-byte word (20-byte address
// zero-extended) so the hash is unambiguous regardless of field
// magnitude.
func HashEpochRolloverPacket(p EpochRolloverPacket) [32]byte {
	buf := make([]byte, 0, 32*8)
	buf = append(buf, epochRolloverDomain[:]...)
	buf = append(buf, leftPad32(p.ChainID.Bytes())...)
	buf = append(buf, leftPad32(p.Consensus.Bytes())...)
	buf = append(buf, leftPad32(new(big.Int).SetUint64(p.ActiveEpoch).Bytes())...)
	buf = append(buf, leftPad32(new(big.Int).SetUint64(p.ProposedEpoch).Bytes())...)
	buf = append(buf, leftPad32(new(big.Int).SetUint64(p.RolloverBlock).Bytes())...)
	buf = append(buf, leftPad32(p.GroupKeyX.Bytes())...)
	buf = append(buf, leftPad32(p.GroupKeyY.Bytes())...)
	return crypto.Keccak256Hash(buf)
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
