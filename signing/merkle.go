package signing

import (
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shieldnet/validator/frost"
)

// leafHash computes the nonce-tree leaf keccak256(hiding || binding), using
// the same compressed point encoding and hash function the merkle package
// uses for internal nodes, so the whole tree is built with one hash.
func leafHash(curve frost.Curve, hiding, binding *frost.Point) [32]byte {
	return crypto.Keccak256Hash(curve.SerializePoint(hiding), curve.SerializePoint(binding))
}
