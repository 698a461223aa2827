package db

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Encrypted wallet-file snapshots. The key is derived from the wallet's
// view-balance tier so a wallet file can be opened without the spend key.

// SnapshotKey derives the file-encryption key from a wallet secret.
func SnapshotKey(secret [32]byte) [32]byte {
	return crypto.Hs32([]byte("wallet-file-key"), secret[:])
}

// EncryptSnapshot seals a Dump payload under XChaCha20-Poly1305 with a
// random nonce prepended.
func EncryptSnapshot(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "snapshot cipher")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "snapshot nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSnapshot opens a sealed snapshot.
func DecryptSnapshot(key [32]byte, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "snapshot cipher")
	}
	if len(sealed) < aead.NonceSize() {
		return nil, models.Errorf(models.ErrInvalidEncoding, "snapshot too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidEncoding, err, "snapshot decrypt")
	}
	return pt, nil
}
