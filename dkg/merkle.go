package dkg

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shieldnet/validator/merkle"
	"github.com/shieldnet/validator/store"
)

// leafHash computes keccak256(id || address), the leaf the group's
// participants_root and the per-participant proof of attestation
// participation are built over, per spec.md §3.
func leafHash(p store.Participant) [32]byte {
	buf := make([]byte, 8+20)
	binary.BigEndian.PutUint64(buf[:8], p.ID)
	copy(buf[8:], p.Address[:])
	return crypto.Keccak256Hash(buf)
}

// merkleProof builds the group participation tree and extracts the
// inclusion proof for the leaf at index.
func merkleProof(leaves [][32]byte, index int) ([32]byte, [][32]byte) {
	root, levels := merkle.Build(leaves)
	if index < 0 {
		return root, nil
	}
	return root, merkle.Proof(levels, index)
}

// DeriveGroupID computes group_id = keccak256(participants_root || n || t
// || context), reproducible for fixed inputs per spec.md §3's "DKG
// determinism" invariant.
func DeriveGroupID(participants []store.Participant, threshold int, context []byte) [32]byte {
	root, _ := participationProof(participants, 0)

	buf := make([]byte, 32+8+8+len(context))
	copy(buf[:32], root[:])
	binary.BigEndian.PutUint64(buf[32:40], uint64(len(participants)))
	binary.BigEndian.PutUint64(buf[40:48], uint64(threshold))
	copy(buf[48:], context)

	return crypto.Keccak256Hash(buf)
}
