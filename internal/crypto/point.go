package crypto

import (
	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"

	"github.com/rawblock/veilwallet/pkg/models"
)

// Point is a 32-byte compressed Edwards point. Stored points always lie on
// the prime-order subgroup; the identity is representable but rejected in
// ring-signature contexts.
type Point [32]byte

func ptDecode(p Point) (*edwards25519.Point, error) {
	ep, err := new(edwards25519.Point).SetBytes(p[:])
	if err != nil {
		return nil, models.Errorf(models.ErrInvalidEncoding, "non-canonical point")
	}
	// SetBytes also accepts non-canonical encodings of valid points; only the
	// encoding the point re-encodes to is accepted.
	if ptEncode(ep) != p {
		return nil, models.Errorf(models.ErrInvalidEncoding, "non-canonical point")
	}
	return ep, nil
}

func ptEncode(ep *edwards25519.Point) Point {
	var out Point
	copy(out[:], ep.Bytes())
	return out
}

// ToExtended decodes the compressed point for sibling packages that drive the
// group library directly (multiexp in the range-proof verifier).
func (p Point) ToExtended() (*edwards25519.Point, error) {
	return ptDecode(p)
}

// FromExtended compresses a library point.
func FromExtended(ep *edwards25519.Point) Point {
	return ptEncode(ep)
}

// IsIdentity reports whether p encodes the neutral element.
func IsIdentity(p Point) bool {
	ep, err := ptDecode(p)
	if err != nil {
		return false
	}
	return ep.Equal(edwards25519.NewIdentityPoint()) == 1
}

// OnMainSubgroup reports whether ℓ·p is the identity.
func OnMainSubgroup(p Point) bool {
	ep, err := ptDecode(p)
	if err != nil {
		return false
	}
	// ℓ·P via (ℓ-1)·P + P == 0  ⇔  (ℓ-1)·P == -P; ScalarMult reduces mod ℓ so
	// multiply by ℓ-1 explicitly.
	lMinus1 := edwards25519.NewScalar().Subtract(
		edwards25519.NewScalar(), scOne())
	r := new(edwards25519.Point).ScalarMult(lMinus1, ep)
	r.Add(r, ep)
	return r.Equal(edwards25519.NewIdentityPoint()) == 1
}

func scOne() *edwards25519.Scalar {
	one := [32]byte{1}
	s, _ := edwards25519.NewScalar().SetCanonicalBytes(one[:])
	return s
}

// ScalarMultBase returns s·G.
func ScalarMultBase(s Scalar) Point {
	return ptEncode(new(edwards25519.Point).ScalarBaseMult(mustScalar(s)))
}

// ScalarMult returns s·P.
func ScalarMult(s Scalar, p Point) (Point, error) {
	ep, err := ptDecode(p)
	if err != nil {
		return Point{}, err
	}
	return ptEncode(new(edwards25519.Point).ScalarMult(mustScalar(s), ep)), nil
}

// PointAdd returns P + Q.
func PointAdd(p, q Point) (Point, error) {
	ep, err := ptDecode(p)
	if err != nil {
		return Point{}, err
	}
	eq, err := ptDecode(q)
	if err != nil {
		return Point{}, err
	}
	return ptEncode(new(edwards25519.Point).Add(ep, eq)), nil
}

// PointSub returns P − Q.
func PointSub(p, q Point) (Point, error) {
	ep, err := ptDecode(p)
	if err != nil {
		return Point{}, err
	}
	eq, err := ptDecode(q)
	if err != nil {
		return Point{}, err
	}
	return ptEncode(new(edwards25519.Point).Subtract(ep, eq)), nil
}

// PointNegate returns −P.
func PointNegate(p Point) (Point, error) {
	ep, err := ptDecode(p)
	if err != nil {
		return Point{}, err
	}
	return ptEncode(new(edwards25519.Point).Negate(ep)), nil
}

// DoubleScalarMultBase returns a·P + b·G.
func DoubleScalarMultBase(a Scalar, p Point, b Scalar) (Point, error) {
	ep, err := ptDecode(p)
	if err != nil {
		return Point{}, err
	}
	r := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(mustScalar(a), ep, mustScalar(b))
	return ptEncode(r), nil
}

// ─── hash-to-point ──────────────────────────────────────────────────
//
// Monero-style map: Keccak the input, interpret the digest as a field
// element, map it onto the twisted Edwards curve through the Montgomery
// u-line (the ge_fromfe construction), then clear the cofactor. The
// field constants below are derived at init from A = 486662 so no magic
// byte strings appear in the source.

var (
	feA      = new(field.Element) // 486662
	feMA     = new(field.Element) // −A
	feMA2    = new(field.Element) // −A²
	feSqrtM1 = new(field.Element) // √−1 (= 2^((p−1)/4))
	feFFFB1  = new(field.Element) // √(−2A(A+2))
	feFFFB2  = new(field.Element) // √(2A(A+2))
	feFFFB3  = new(field.Element) // √(−√−1·A(A+2))
	feFFFB4  = new(field.Element) // √(√−1·A(A+2))
)

func feFromUint32(v uint32) *field.Element {
	var b [32]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	e, err := new(field.Element).SetBytes(b[:])
	if err != nil {
		panic("crypto: feFromUint32: " + err.Error())
	}
	return e
}

// fePow22523 computes x^((p−5)/8) = x^(2²⁵²−3) as x^(2²⁵²)·x⁻³.
func fePow22523(x *field.Element) *field.Element {
	t := new(field.Element).Set(x)
	for i := 0; i < 252; i++ {
		t.Square(t)
	}
	inv := new(field.Element).Invert(x)
	inv3 := new(field.Element).Square(inv)
	inv3.Multiply(inv3, inv)
	return t.Multiply(t, inv3)
}

// feSqrtAny returns a square root of a, panicking if a is not a square.
// Root sign is unspecified; callers normalize signs downstream.
func feSqrtAny(a *field.Element) *field.Element {
	cand := fePow22523(a)
	cand.Multiply(cand, a) // a^((p+3)/8)
	chk := new(field.Element).Square(cand)
	if chk.Equal(a) == 1 {
		return cand
	}
	cand.Multiply(cand, feSqrtM1)
	chk.Square(cand)
	if chk.Equal(a) == 1 {
		return cand
	}
	panic("crypto: feSqrtAny of non-square")
}

func init() {
	feA = feFromUint32(486662)
	feMA = new(field.Element).Negate(feA)
	feMA2 = new(field.Element).Square(feA)
	feMA2.Negate(feMA2)

	// √−1 = 2^((p−1)/4) = 2^(2²⁵³−5): square 2 up 253 times, divide by 2⁵.
	two := feFromUint32(2)
	s := new(field.Element).Set(two)
	for i := 0; i < 253; i++ {
		s.Square(s)
	}
	inv32 := new(field.Element).Invert(feFromUint32(32))
	feSqrtM1 = s.Multiply(s, inv32)

	aa2 := new(field.Element).Add(feA, feFromUint32(2)) // A+2
	aa2.Multiply(aa2, feA)                              // A(A+2)
	twoAA2 := new(field.Element).Add(aa2, aa2)          // 2A(A+2)

	feFFFB2 = feSqrtAny(new(field.Element).Set(twoAA2))
	feFFFB1 = feSqrtAny(new(field.Element).Negate(twoAA2))
	iaa2 := new(field.Element).Multiply(feSqrtM1, aa2)
	feFFFB4 = feSqrtAny(new(field.Element).Set(iaa2))
	feFFFB3 = feSqrtAny(new(field.Element).Negate(iaa2))
}

// feDivPowM1 returns u·v³·(u·v⁷)^((p−5)/8) = (u/v)^((p+3)/8).
func feDivPowM1(u, v *field.Element) *field.Element {
	v3 := new(field.Element).Square(v)
	v3.Multiply(v3, v)
	uv7 := new(field.Element).Square(v3)
	uv7.Multiply(uv7, v)
	uv7.Multiply(uv7, u)
	r := fePow22523(uv7)
	r.Multiply(r, v3)
	return r.Multiply(r, u)
}

// pointFromFieldBytes maps 32 hash bytes onto the curve (projective result),
// before cofactor clearing. Variable time, like the reference.
func pointFromFieldBytes(b [32]byte) *edwards25519.Point {
	u, err := new(field.Element).SetBytes(b[:])
	if err != nil {
		panic("crypto: SetBytes on 32 bytes: " + err.Error())
	}

	v := new(field.Element).Square(u)
	v.Add(v, v) // v = 2u²
	w := new(field.Element).Add(v, feFromUint32(1))

	x := new(field.Element).Square(w)
	// x = w² − 2A²u² ; v already holds 2u² so the product needs −A² only.
	y := new(field.Element).Multiply(feMA2, v)
	x.Add(x, y)

	rX := feDivPowM1(w, x)

	y.Square(rX)
	x.Multiply(y, x) // x = rX²·x
	y.Subtract(w, x)
	z := new(field.Element).Set(feMA)

	var sign int
	if y.Equal(new(field.Element)) != 1 {
		y.Add(w, x)
		if y.Equal(new(field.Element)) != 1 {
			// negative branch
			x.Multiply(x, feSqrtM1)
			y.Subtract(w, x)
			if y.Equal(new(field.Element)) != 1 {
				rX.Multiply(rX, feFFFB3)
			} else {
				rX.Multiply(rX, feFFFB4)
			}
			sign = 1
			goto setsign
		}
		rX.Multiply(rX, feFFFB1)
	} else {
		rX.Multiply(rX, feFFFB2)
	}
	rX.Multiply(rX, u)
	z.Multiply(z, v) // −2Au²
	sign = 0

setsign:
	if rX.IsNegative() != sign {
		rX.Negate(rX)
	}
	rZ := new(field.Element).Add(z, w)
	rY := new(field.Element).Subtract(z, w)
	rX.Multiply(rX, rZ)

	// (X:Y:Z) projective → extended with T = XY/Z.
	rT := new(field.Element).Multiply(rX, rY)
	rT.Multiply(rT, new(field.Element).Invert(rZ))
	p, err := new(edwards25519.Point).SetExtendedCoordinates(rX, rY, rZ, rT)
	if err != nil {
		panic("crypto: fromfe produced an off-curve point: " + err.Error())
	}
	return p
}

// HashToPoint hashes arbitrary bytes to a prime-order-subgroup point:
// Keccak, field map, multiply by the cofactor.
func HashToPoint(data []byte) Point {
	h := Keccak256(data)
	p := pointFromFieldBytes(h)
	p.MultByCofactor(p)
	return ptEncode(p)
}
