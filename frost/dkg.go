package frost

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
)

// Coefficients is a participant's private polynomial of degree
// len(Coefficients)-1, used for Pedersen verifiable secret sharing in the
// key generation protocol built on top of [FROST]. Coefficients[0] (a_0) is
// the participant's contribution to the group secret.
type Coefficients []*big.Int

// GeneratePolynomial draws a degree-(threshold-1) polynomial with
// uniformly random coefficients modulo the ciphersuite's curve order.
func GeneratePolynomial(curve Curve, threshold int) (Coefficients, error) {
	order := curve.Order()
	coefficients := make(Coefficients, threshold)
	for i := range coefficients {
		c, err := rand.Int(rand.Reader, order)
		if err != nil {
			return nil, err
		}
		coefficients[i] = c
	}
	return coefficients, nil
}

// Commit computes the public commitment vector C = (g·a_0, g·a_1, ...) for
// the given polynomial.
func Commit(curve Curve, coefficients Coefficients) []*Point {
	commitments := make([]*Point, len(coefficients))
	for i, c := range coefficients {
		commitments[i] = curve.EcBaseMul(c)
	}
	return commitments
}

// EvalPoly evaluates the polynomial at x using Horner's method, modulo the
// curve order.
func EvalPoly(curve Curve, coefficients Coefficients, x uint64) *big.Int {
	order := curve.Order()
	bigX := new(big.Int).SetUint64(x)

	result := big.NewInt(0)
	for i := len(coefficients) - 1; i >= 0; i-- {
		result.Mul(result, bigX)
		result.Add(result, coefficients[i])
		result.Mod(result, order)
	}
	return result
}

// EvalCommitment evaluates the commitment vector in the exponent at x:
// Σ_k C_k · x^k. This lets a recipient verify a received secret share
// against the sender's public commitments without learning the sender's
// coefficients.
func EvalCommitment(curve Curve, commitments []*Point, x uint64) *Point {
	order := curve.Order()
	bigX := new(big.Int).SetUint64(x)

	result := curve.Identity()
	xPow := big.NewInt(1)
	for _, c := range commitments {
		result = curve.EcAdd(result, curve.EcMul(c, xPow))
		xPow = new(big.Int).Mul(xPow, bigX)
		xPow.Mod(xPow, order)
	}
	return result
}

// PoK is a non-interactive proof of knowledge of the degree-0 coefficient
// (a_0) of a participant's polynomial, proving the participant knows the
// discrete log of their own commitments[0] without revealing it.
type PoK struct {
	R  *Point
	Mu *big.Int
}

// ProveKnowledge produces a PoK for the degree-0 coefficient a0, whose
// public commitment is c0, binding the proof to the participant's id.
//
// Draw random k, R = g·k, c = keyGenChallenge(id, C_0, R), mu = k + a0·c.
func ProveKnowledge(
	ciphersuite Ciphersuite,
	id uint64,
	a0 *big.Int,
	c0 *Point,
) (*PoK, error) {
	curve := ciphersuite.Curve()
	order := curve.Order()

	k, err := rand.Int(rand.Reader, order)
	if err != nil {
		return nil, err
	}

	r := curve.EcBaseMul(k)
	c := keyGenChallenge(ciphersuite, id, c0, r)

	mu := new(big.Int).Mul(a0, c)
	mu.Add(mu, k)
	mu.Mod(mu, order)

	return &PoK{R: r, Mu: mu}, nil
}

// VerifyKnowledge verifies a PoK produced by ProveKnowledge:
// g·mu == R + C_0·c.
func VerifyKnowledge(
	ciphersuite Ciphersuite,
	id uint64,
	c0 *Point,
	pok *PoK,
) bool {
	curve := ciphersuite.Curve()
	c := keyGenChallenge(ciphersuite, id, c0, pok.R)

	lhs := curve.EcBaseMul(pok.Mu)
	rhs := curve.EcAdd(pok.R, curve.EcMul(c0, c))

	return lhs.Equals(rhs)
}

// keyGenChallenge computes the domain-separated PoK challenge c = H6(id,
// C_0, R) binding the prover's identifier and degree-0 commitment to the
// proof's nonce commitment R.
func keyGenChallenge(ciphersuite Ciphersuite, id uint64, c0, r *Point) *big.Int {
	curve := ciphersuite.Curve()
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	return ciphersuite.H6(idBytes, curve.SerializePoint(c0), curve.SerializePoint(r))
}
