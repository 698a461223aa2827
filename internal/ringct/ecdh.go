package ringct

import (
	"encoding/binary"

	"github.com/rawblock/veilwallet/internal/crypto"
)

// Amount encryption. Legacy outputs XOR the 8-byte little-endian amount with
// a Keccak-derived pad from the per-output derivation scalar; the commitment
// mask comes from the same scalar under a different label. The new scheme
// pads from the X25519 shared secret bound to the one-time address.

func amountToLE8(amount uint64) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], amount)
	return b
}

func xor8(a, b [8]byte) [8]byte {
	var out [8]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// LegacyAmountPad derives the 8-byte XOR pad for a per-output derivation.
func LegacyAmountPad(derivation crypto.Scalar) [8]byte {
	h := crypto.Keccak256([]byte("amount"), derivation[:])
	var pad [8]byte
	copy(pad[:], h[:8])
	return pad
}

// LegacyCommitmentMask derives the commitment mask for a per-output derivation.
func LegacyCommitmentMask(derivation crypto.Scalar) crypto.Scalar {
	return crypto.HnLabel("commitment_mask", derivation[:])
}

// EncryptAmountLegacy XORs the amount against the legacy pad.
func EncryptAmountLegacy(amount uint64, derivation crypto.Scalar) [8]byte {
	return xor8(amountToLE8(amount), LegacyAmountPad(derivation))
}

// DecryptAmountLegacy reverses EncryptAmountLegacy.
func DecryptAmountLegacy(encrypted [8]byte, derivation crypto.Scalar) uint64 {
	return binary.LittleEndian.Uint64(func() []byte {
		d := xor8(encrypted, LegacyAmountPad(derivation))
		return d[:]
	}())
}

// CarrotAmountPad derives the new scheme's pad from the X25519 shared secret
// and the output's one-time address.
func CarrotAmountPad(shared crypto.MontgomeryPoint, oneTime crypto.Point) [8]byte {
	h := crypto.Keccak256([]byte("enc-amount"), shared[:], oneTime[:])
	var pad [8]byte
	copy(pad[:], h[:8])
	return pad
}

// CarrotCommitmentMask derives the new scheme's commitment mask.
func CarrotCommitmentMask(shared crypto.MontgomeryPoint, oneTime crypto.Point) crypto.Scalar {
	return crypto.HnCarrot("commitment-mask", shared[:], oneTime[:])
}

// EncryptAmountCarrot XORs the amount against the new scheme's pad.
func EncryptAmountCarrot(amount uint64, shared crypto.MontgomeryPoint, oneTime crypto.Point) [8]byte {
	return xor8(amountToLE8(amount), CarrotAmountPad(shared, oneTime))
}

// DecryptAmountCarrot reverses EncryptAmountCarrot.
func DecryptAmountCarrot(encrypted [8]byte, shared crypto.MontgomeryPoint, oneTime crypto.Point) uint64 {
	d := xor8(encrypted, CarrotAmountPad(shared, oneTime))
	return binary.LittleEndian.Uint64(d[:])
}
