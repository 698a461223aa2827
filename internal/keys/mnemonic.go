package keys

import (
	"github.com/tyler-smith/go-bip39"

	"github.com/rawblock/veilwallet/pkg/models"
)

// Mnemonic bridges the 256-bit seed to its word-list form. The word list is
// an external collaborator; we only round-trip through it.

// SeedToMnemonic encodes the seed as a 24-word phrase.
func SeedToMnemonic(seed Seed) (string, error) {
	m, err := bip39.NewMnemonic(seed[:])
	if err != nil {
		return "", models.Wrap(models.ErrInternal, err, "mnemonic encode")
	}
	return m, nil
}

// SeedFromMnemonic decodes a 24-word phrase back to the 32-byte seed.
func SeedFromMnemonic(phrase string) (Seed, error) {
	entropy, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return Seed{}, models.Wrap(models.ErrInvalidEncoding, err, "mnemonic decode")
	}
	if len(entropy) != 32 {
		return Seed{}, models.Errorf(models.ErrInvalidEncoding,
			"mnemonic encodes %d bytes, want 32", len(entropy))
	}
	var s Seed
	copy(s[:], entropy)
	return s, nil
}
