package crypto

import (
	"golang.org/x/crypto/sha3"
)

// Keccak256 computes the original (pre-NIST-padding) Keccak-256 digest used
// everywhere on this chain: tx hashing, block hashing, key derivation,
// address checksums.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// FastHash is the chain's name for Keccak256.
func FastHash(data []byte) [32]byte {
	return Keccak256(data)
}

// KeccakVariable produces an n-byte digest by chaining Keccak-256: the first
// 32 bytes are Keccak256(data), each following 32-byte window is the hash of
// the previous window. n == 0 returns an empty slice.
func KeccakVariable(data []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, 0, n)
	block := Keccak256(data)
	for {
		if len(out)+32 >= n {
			out = append(out, block[:n-len(out)]...)
			return out
		}
		out = append(out, block[:]...)
		block = Keccak256(block[:])
	}
}
