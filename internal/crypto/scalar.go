package crypto

import (
	"crypto/rand"

	"filippo.io/edwards25519"

	"github.com/rawblock/veilwallet/pkg/models"
)

// Scalar is a 32-byte little-endian integer in canonical form (< ℓ).
// Unreduced values exist only transiently as raw hash output.
type Scalar [32]byte

// Zero-value scalars are valid (the integer 0), but rejected as secrets.

// RandomScalar draws a uniformly random canonical scalar.
func RandomScalar() Scalar {
	var wide [64]byte
	if _, err := rand.Read(wide[:]); err != nil {
		panic("crypto: system randomness unavailable: " + err.Error())
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		panic("crypto: SetUniformBytes: " + err.Error())
	}
	var out Scalar
	copy(out[:], s.Bytes())
	return out
}

// Reduce32 reduces a raw 32-byte value mod ℓ. The chain derives every hashed
// scalar this way — 32-byte reduction, not the 64-byte wide reduction other
// CryptoNote implementations use. The narrower input keeps us byte-compatible
// with the deployed chain; the resulting distribution bias is ~2⁻¹²⁶.
func Reduce32(b [32]byte) Scalar {
	var wide [64]byte
	copy(wide[:32], b[:])
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		panic("crypto: SetUniformBytes: " + err.Error())
	}
	var out Scalar
	copy(out[:], s.Bytes())
	return out
}

// IsCanonical reports whether the scalar bytes are already reduced mod ℓ.
func (s Scalar) IsCanonical() bool {
	_, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	return err == nil
}

// IsZero reports whether the scalar is the integer 0.
func (s Scalar) IsZero() bool {
	for _, b := range s {
		if b != 0 {
			return false
		}
	}
	return true
}

func scDecode(s Scalar) (*edwards25519.Scalar, error) {
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	if err != nil {
		return nil, models.Errorf(models.ErrInvalidEncoding, "non-canonical scalar")
	}
	return sc, nil
}

func scEncode(sc *edwards25519.Scalar) Scalar {
	var out Scalar
	copy(out[:], sc.Bytes())
	return out
}

// mustScalar decodes a scalar that is already known canonical (produced by
// this package). Panics on violation — that is an internal invariant break.
func mustScalar(s Scalar) *edwards25519.Scalar {
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	if err != nil {
		panic("crypto: internal scalar not canonical")
	}
	return sc
}

// ScAdd returns a + b mod ℓ.
func ScAdd(a, b Scalar) Scalar {
	return scEncode(edwards25519.NewScalar().Add(mustScalar(a), mustScalar(b)))
}

// ScSub returns a − b mod ℓ.
func ScSub(a, b Scalar) Scalar {
	return scEncode(edwards25519.NewScalar().Subtract(mustScalar(a), mustScalar(b)))
}

// ScMul returns a·b mod ℓ.
func ScMul(a, b Scalar) Scalar {
	return scEncode(edwards25519.NewScalar().Multiply(mustScalar(a), mustScalar(b)))
}

// ScMulAdd returns a·b + c mod ℓ.
func ScMulAdd(a, b, c Scalar) Scalar {
	return scEncode(edwards25519.NewScalar().MultiplyAdd(mustScalar(a), mustScalar(b), mustScalar(c)))
}

// ScNegate returns −a mod ℓ.
func ScNegate(a Scalar) Scalar {
	return scEncode(edwards25519.NewScalar().Negate(mustScalar(a)))
}

// ScFromUint64 encodes a small integer as a scalar.
func ScFromUint64(v uint64) Scalar {
	var b [32]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return Reduce32(b)
}
