// Package merkle implements the fixed-depth binary Merkle trees used to
// commit to a group's participant set (the proof of attestation
// participation) and to a signing batch's nonce-commitment leaves. It is
// a plain binary tree rather than the append-only MMR structure
// forestrie-go-merklelog uses for its transparency log, since every tree
// this validator builds is over a fixed-size batch known up front and
// only ever needs single-leaf inclusion proofs, not append-time log
// consistency proofs.
package merkle

import "github.com/ethereum/go-ethereum/crypto"

// hashPair matches spec.md's H5 node/leaf hashing convention: nodes are
// keccak256 of their two children concatenated, odd-length levels
// duplicate the last node.
func hashPair(left, right [32]byte) [32]byte {
	return crypto.Keccak256Hash(left[:], right[:])
}

// Build returns the root of a binary Merkle tree over leaves, plus every
// intermediate level (level 0 is the leaves themselves), so Proof can
// later extract a single-leaf inclusion proof without rehashing.
func Build(leaves [][32]byte) (root [32]byte, levels [][][32]byte) {
	if len(leaves) == 0 {
		return [32]byte{}, nil
	}

	levels = append(levels, leaves)
	current := leaves

	for len(current) > 1 {
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, hashPair(current[i], current[i+1]))
			} else {
				next = append(next, hashPair(current[i], current[i]))
			}
		}
		levels = append(levels, next)
		current = next
	}

	return current[0], levels
}

// Proof returns the sibling hashes from leafIndex up to the root,
// suitable for on-chain verification against Build's root.
func Proof(levels [][][32]byte, leafIndex int) [][32]byte {
	var proof [][32]byte
	idx := leafIndex

	for level := 0; level < len(levels)-1; level++ {
		nodes := levels[level]
		var sibling [32]byte
		if idx^1 < len(nodes) {
			sibling = nodes[idx^1]
		} else {
			sibling = nodes[idx]
		}
		proof = append(proof, sibling)
		idx /= 2
	}

	return proof
}

// Verify recomputes the root from a leaf, its index, and a proof, and
// reports whether it matches root.
func Verify(root [32]byte, leaf [32]byte, index int, proof [][32]byte) bool {
	current := leaf
	idx := index

	for _, sibling := range proof {
		if idx%2 == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
		idx /= 2
	}

	return current == root
}
