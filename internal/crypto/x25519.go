package crypto

import (
	"golang.org/x/crypto/curve25519"

	"github.com/rawblock/veilwallet/pkg/models"
)

// MontgomeryPoint is a 32-byte X25519 u-coordinate.
type MontgomeryPoint [32]byte

// ClampBytes applies the X25519 scalar clamp to raw bytes: clear bits 0–2
// and 255, set bit 254. The result is the integer the Montgomery ladder uses.
func ClampBytes(s [32]byte) [32]byte {
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
	return s
}

// Clamp clamps and reduces mod ℓ. On the prime-order subgroup the reduced
// representative multiplies to the same point as the unreduced clamped
// integer, so this is the scalar to use on the Edwards side.
func Clamp(s [32]byte) Scalar {
	return Reduce32(ClampBytes(s))
}

// MontgomeryBase is the X25519 base point u = 9.
func MontgomeryBase() MontgomeryPoint {
	var u MontgomeryPoint
	u[0] = 9
	return u
}

// X25519 runs the Montgomery ladder: scalar · point on the u-line. The
// scalar is clamped internally per RFC 7748.
func X25519(scalar [32]byte, point MontgomeryPoint) (MontgomeryPoint, error) {
	out, err := curve25519.X25519(scalar[:], point[:])
	if err != nil {
		return MontgomeryPoint{}, models.Wrap(models.ErrInvalidEncoding, err, "x25519 low-order point")
	}
	var mp MontgomeryPoint
	copy(mp[:], out)
	return mp, nil
}

// EdwardsToMontgomery converts a compressed Edwards point to its Montgomery
// u-coordinate via u = (1+y)/(1−y).
func EdwardsToMontgomery(p Point) (MontgomeryPoint, error) {
	ep, err := ptDecode(p)
	if err != nil {
		return MontgomeryPoint{}, err
	}
	var mp MontgomeryPoint
	copy(mp[:], ep.BytesMontgomery())
	return mp, nil
}
