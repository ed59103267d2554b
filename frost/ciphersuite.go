// Package frost implements the cryptographic core of the [FROST] threshold
// Schnorr signature scheme specialized to the secp256k1 curve and [BIP-340]
// challenge/verification rules, plus the Pedersen verifiable-secret-sharing
// primitives used by the key-generation protocol built on top of it.
//
// [FROST]
//
//	Connolly, D., Komlo, C., Goldberg, I., and C. A. Wood, "Two-Round
//	Threshold Schnorr Signatures with FROST", Work in Progress, Internet-Draft,
//	draft-irtf-cfrg-frost-15, 5 December 2023,
//	<https://datatracker.ietf.org/doc/draft-irtf-cfrg-frost/15/>.
//
// [BIP-340]
//
//	Wuille, P., Nick, J., and Ruffing, T, "Schnorr Signatures for secp256k1",
//	19 January 2020,
//	<https://github.com/bitcoin/bips/blob/master/bip-0340.mediawiki>.
package frost

import "math/big"

// Ciphersuite interface abstracts out the particular ciphersuite implementation
// used for the [FROST] protocol execution. This is a strategy design pattern
// allowing [FROST] to be used with different ciphersuites, like BIP-340
// (secp256k1). A [FROST] ciphersuite must specify the underlying prime-order
// group details and cryptographic hash functions.
type Ciphersuite interface {
	Hashing
	Curve() Curve
}

// Hashing interface abstracts out hash functions implementations specific to
// the ciphersuite used.
//
// [FROST] requires the use of a cryptographically secure hash function,
// generically written as H. Using H, [FROST] introduces distinct
// domain-separated hashes, H1, H2, H3, H4, and H5. The details of H1, H2, H3,
// H4, and H5 vary based on ciphersuite. H6 is not part of [FROST] proper; it
// is an additional domain-separated hash used by the distributed key
// generation protocol's proof of knowledge, which [FROST] leaves to the DKG
// layer to define.
type Hashing interface {
	H1(m []byte) *big.Int
	H2(m []byte, ms ...[]byte) *big.Int
	H3(m []byte, ms ...[]byte) *big.Int
	H4(m []byte) []byte
	H5(m []byte) []byte
	H6(m []byte, ms ...[]byte) *big.Int
}

// Curve interface abstracts out the particular elliptic curve implementation
// specific to the ciphersuite used.
type Curve interface {
	// Order returns the order N of the curve's base point.
	Order() *big.Int
	// Identity returns the curve's identity (point at infinity) element.
	Identity() *Point
	// EcBaseMul returns k*G, where G is the base point of the group.
	EcBaseMul(k *big.Int) *Point
	// EcMul returns k*P where P is the point provided as a parameter.
	EcMul(p *Point, k *big.Int) *Point
	// EcAdd returns the sum of two elliptic curve points.
	EcAdd(a, b *Point) *Point
	// EcSub returns the subtraction of two elliptic curve points.
	EcSub(a, b *Point) *Point
	// IsPointOnCurve validates if the point lies on the curve and is not an
	// identity element.
	IsPointOnCurve(p *Point) bool
	// SerializedPointLength returns the byte length of a serialized,
	// uncompressed curve point.
	SerializedPointLength() int
	// SerializePoint serializes the provided point to its uncompressed
	// representation.
	SerializePoint(p *Point) []byte
	// DeserializePoint parses an uncompressed point representation.
	DeserializePoint(bytes []byte) *Point
	// SerializeCompressed serializes the provided point to its 33-byte
	// compressed representation.
	SerializeCompressed(p *Point) []byte
	// DeserializeCompressed parses a 33-byte compressed point representation.
	DeserializeCompressed(bytes []byte) *Point
}

// Point represents a valid point on the Curve.
type Point struct {
	X *big.Int // the X coordinate of the point
	Y *big.Int // the Y coordinate of the point
}

// Equals reports whether two points represent the same curve element.
func (p *Point) Equals(other *Point) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.X.Cmp(other.X) == 0 && p.Y.Cmp(other.Y) == 0
}

func (p *Point) String() string {
	if p == nil {
		return "Point[nil]"
	}
	return "Point[X=0x" + p.X.Text(16) + ", Y=0x" + p.Y.Text(16) + "]"
}

// Signature is a [BIP-340] Schnorr signature produced by the FROST signing
// protocol: the pair (R, z) where R is the aggregated group commitment and z
// is the aggregated signature scalar.
type Signature struct {
	R *Point
	Z *big.Int
}
