package frost

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto/secp256k1"
)

// Bip340Ciphersuite is the [BIP-340] implementation of the [FROST]
// ciphersuite. It uses the secp256k1 elliptic curve as the prime-order group
// and composes the [BIP-340] tagged-hash implementation for the H*
// functions required by [FROST].
type Bip340Ciphersuite struct {
	*Bip340Hash
	curve *Bip340Curve
}

// NewBip340Ciphersuite creates a new instance of Bip340Ciphersuite in a state
// ready to be used for the [FROST] protocol execution.
func NewBip340Ciphersuite() *Bip340Ciphersuite {
	return &Bip340Ciphersuite{
		Bip340Hash: &Bip340Hash{},
		curve:      &Bip340Curve{secp256k1.S256()},
	}
}

// Curve returns the secp256k1 curve implementation used by [BIP-340].
func (b *Bip340Ciphersuite) Curve() Curve {
	return b.curve
}

// Bip340Curve wraps go-ethereum's secp256k1 implementation behind the
// `Curve` interface.
type Bip340Curve struct {
	*secp256k1.BitCurve
}

var cachedOrder *big.Int

// secp256k1Order returns the order N of the secp256k1 base point. It is
// cached because constructing a BitCurve is not free and H1/H3/H6 call into
// this on every invocation.
func secp256k1Order() *big.Int {
	if cachedOrder == nil {
		cachedOrder = secp256k1.S256().N
	}
	return new(big.Int).Set(cachedOrder)
}

// EcBaseMul returns k*G, where G is the base point of the group.
func (bc *Bip340Curve) EcBaseMul(k *big.Int) *Point {
	kmod := new(big.Int).Mod(k, bc.N)
	x, y := bc.ScalarBaseMult(kmod.Bytes())
	return &Point{x, y}
}

// EcMul returns k*P where P is the point provided as a parameter and k is an
// integer.
func (bc *Bip340Curve) EcMul(p *Point, k *big.Int) *Point {
	kmod := new(big.Int).Mod(k, bc.N)
	x, y := bc.ScalarMult(p.X, p.Y, kmod.Bytes())
	return &Point{x, y}
}

// EcAdd returns the sum of two elliptic curve points.
func (bc *Bip340Curve) EcAdd(a *Point, b *Point) *Point {
	x, y := bc.Add(a.X, a.Y, b.X, b.Y)
	return &Point{x, y}
}

// EcSub returns the subtraction of two elliptic curve points.
func (bc *Bip340Curve) EcSub(a *Point, b *Point) *Point {
	bNeg := &Point{b.X, new(big.Int).Sub(bc.Params().P, b.Y)}
	return bc.EcAdd(a, bNeg)
}

// Identity returns the elliptic curve identity element.
func (bc *Bip340Curve) Identity() *Point {
	// For elliptic curves, the identity is the point at infinity. For
	// secp256k1 a conventional representation as (0,0) in cartesian
	// coordinates is used, which is fine because (0,0) does not lie on the
	// secp256k1 curve.
	return &Point{big.NewInt(0), big.NewInt(0)}
}

// Order returns the order of the group produced by the elliptic curve
// generator.
func (bc *Bip340Curve) Order() *big.Int {
	return new(big.Int).Set(bc.N)
}

// IsPointOnCurve validates if the point lies on the curve and is not an
// identity element.
func (bc *Bip340Curve) IsPointOnCurve(p *Point) bool {
	if p == nil || p.X == nil || p.Y == nil {
		return false
	}
	return bc.IsOnCurve(p.X, p.Y)
}

// SerializedPointLength returns the byte length of a serialized, uncompressed
// curve point.
func (bc *Bip340Curve) SerializedPointLength() int {
	// From the Marshal() function of the secp256k1 go-ethereum
	// implementation:
	// 	 byteLen := (BitCurve.BitSize + 7) >> 3
	//   ret := make([]byte, 1+2*byteLen)
	return 65
}

// SerializePoint serializes the provided elliptic curve point to its
// uncompressed representation. The slice length equals
// SerializedPointLength().
func (bc *Bip340Curve) SerializePoint(p *Point) []byte {
	return bc.Marshal(p.X, p.Y)
}

// DeserializePoint deserializes an uncompressed byte slice to an elliptic
// curve point. The byte slice length must equal SerializedPointLength(). The
// deserialized point must be a valid point lying on the curve, otherwise the
// function returns nil.
func (bc *Bip340Curve) DeserializePoint(bytes []byte) *Point {
	x, y := bc.Unmarshal(bytes)
	if x == nil || y == nil {
		return nil
	}

	point := &Point{x, y}
	if !bc.IsPointOnCurve(point) {
		return nil
	}

	return point
}

// SerializeCompressed serializes the provided point to its 33-byte SEC1
// compressed representation, as required by spec.md's 33-byte point
// encoding for on-chain and storage use.
func (bc *Bip340Curve) SerializeCompressed(p *Point) []byte {
	out := make([]byte, 33)
	if p.Y.Bit(0) == 0 {
		out[0] = 0x02
	} else {
		out[0] = 0x03
	}
	xb := make([]byte, 32)
	p.X.FillBytes(xb)
	copy(out[1:], xb)
	return out
}

// DeserializeCompressed parses a 33-byte SEC1 compressed point
// representation, recovering the Y coordinate via the curve equation.
func (bc *Bip340Curve) DeserializeCompressed(b []byte) *Point {
	if len(b) != 33 || (b[0] != 0x02 && b[0] != 0x03) {
		return nil
	}

	x := new(big.Int).SetBytes(b[1:])
	p := bc.Params().P

	// y^2 = x^3 + 7 mod p
	ySquared := new(big.Int).Exp(x, big.NewInt(3), p)
	ySquared.Add(ySquared, big.NewInt(7))
	ySquared.Mod(ySquared, p)

	exp := new(big.Int).Add(p, big.NewInt(1))
	exp.Div(exp, big.NewInt(4))
	y := new(big.Int).Exp(ySquared, exp, p)

	check := new(big.Int).Exp(y, big.NewInt(2), p)
	if check.Cmp(ySquared) != 0 {
		return nil
	}

	wantOdd := b[0] == 0x03
	if (y.Bit(0) == 1) != wantOdd {
		y.Sub(p, y)
	}

	point := &Point{x, y}
	if !bc.IsPointOnCurve(point) {
		return nil
	}
	return point
}

// EncodePoint encodes the given elliptic curve point to a byte slice in a way
// that is *specific* to [BIP-340] needs.
//
// This differs from SerializePoint: SerializePoint serializes both X and Y
// coordinates, while EncodePoint serializes just the X coordinate, as
// expected by [BIP-340] for challenge computation.
func (b *Bip340Ciphersuite) EncodePoint(point *Point) []byte {
	xMod := new(big.Int).Mod(point.X, b.curve.P)
	xbs := make([]byte, 32)
	xMod.FillBytes(xbs)
	return xbs
}

// VerifySignature verifies the provided [BIP-340] signature for the message
// against the group public key. It returns true and a nil error when the
// signature is valid, and false with a descriptive error otherwise.
//
// VerifySignature implements Verify(pk, m, sig) from [BIP-340].
func (b *Bip340Ciphersuite) VerifySignature(
	signature *Signature,
	publicKey *Point,
	message []byte,
) (bool, error) {
	// Not required by [BIP-340] but performed to ensure input data
	// consistency: we do not want to return true if Y is an invalid
	// coordinate.
	if !b.curve.IsOnCurve(publicKey.X, publicKey.Y) {
		return false, fmt.Errorf("publicKey is infinite")
	}
	if publicKey.X.Cmp(b.curve.P) == 1 {
		return false, fmt.Errorf("publicKey exceeds field size")
	}

	// Let P = lift_x(int(pk)); fail if that fails.
	pk := new(big.Int).SetBytes(b.EncodePoint(publicKey))
	P, err := b.liftX(pk)
	if err != nil {
		return false, fmt.Errorf("liftX failed: [%v]", err)
	}

	// Let r = int(sig[0:32]); fail if r >= p.
	r := signature.R.X
	if r.Cmp(b.curve.P) != -1 {
		return false, fmt.Errorf("r >= P")
	}

	// Let s = int(sig[32:64]); fail if s >= n.
	s := signature.Z
	if s.Cmp(b.curve.N) != -1 {
		return false, fmt.Errorf("s >= N")
	}

	// Let e = int(hashBIP0340/challenge(bytes(r) || bytes(P) || m)) mod n.
	eHash := b.H2(b.EncodePoint(signature.R), b.EncodePoint(P), message)
	e := new(big.Int).Mod(eHash, b.curve.N)

	// Let R = s*G - e*P.
	R := b.curve.EcSub(
		b.curve.EcBaseMul(s),
		b.curve.EcMul(P, e),
	)

	// Fail if is_infinite(R).
	if !b.curve.IsOnCurve(R.X, R.Y) {
		return false, fmt.Errorf("R is infinite")
	}

	// Fail if not has_even_y(R).
	if R.Y.Bit(0) != 0 {
		return false, fmt.Errorf("R.y is not even")
	}

	// Fail if x(R) != r.
	if R.X.Cmp(r) != 0 {
		return false, fmt.Errorf("R.x != r")
	}

	return true, nil
}

// liftX implements lift_x(x) as defined in [BIP-340].
func (b *Bip340Ciphersuite) liftX(x *big.Int) (*Point, error) {
	// From [BIP-340]:
	//
	// The function lift_x(x), where x is a 256-bit unsigned integer, returns
	// the point P for which x(P) = x and has_even_y(P), or fails if x is
	// greater than p-1 or no such point exists.
	p := b.curve.P
	if x.Cmp(p) != -1 {
		return nil, fmt.Errorf("value of x exceeds field size")
	}

	// Let c = x^3 + 7 mod p.
	c := new(big.Int).Exp(x, big.NewInt(3), p)
	c.Add(c, big.NewInt(7))
	c.Mod(c, p)

	// Let y = c^[(p+1)/4] mod p.
	e := new(big.Int).Add(p, big.NewInt(1))
	e.Div(e, big.NewInt(4))
	y := new(big.Int).Exp(c, e, p)

	// Fail if c != y^2 mod p.
	y2 := new(big.Int).Exp(y, big.NewInt(2), p)
	if c.Cmp(y2) != 0 {
		return nil, fmt.Errorf("no curve point matching x")
	}

	// Return the unique point P such that x(P) = x and y(P) = y if y mod 2 =
	// 0, or y(P) = p-y otherwise.
	if y.Bit(0) != 0 {
		y.Sub(p, y)
	}
	return &Point{x, y}, nil
}
