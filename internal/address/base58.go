package address

import (
	"math/big"

	"github.com/rawblock/veilwallet/pkg/models"
)

// CryptoNote base58: the payload is split into 8-byte blocks, each block
// encoded independently as 11 characters (big-endian), so addresses have a
// fixed length for a fixed payload size. This is NOT the Bitcoin digit-stream
// variant and cannot be produced by those codecs.

const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const (
	fullBlockSize        = 8
	fullEncodedBlockSize = 11
)

// encodedBlockSizes[n] is the encoded length of an n-byte trailing block.
var encodedBlockSizes = [9]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var b58Reverse [256]int8

func init() {
	for i := range b58Reverse {
		b58Reverse[i] = -1
	}
	for i, c := range []byte(b58Alphabet) {
		b58Reverse[c] = int8(i)
	}
}

func encodeBlock(block []byte, out []byte) {
	num := new(big.Int).SetBytes(block)
	rem := new(big.Int)
	base := big.NewInt(58)
	for i := len(out) - 1; i >= 0; i-- {
		num.DivMod(num, base, rem)
		out[i] = b58Alphabet[rem.Int64()]
	}
}

// EncodeBase58 encodes raw bytes into block base58.
func EncodeBase58(data []byte) string {
	fullBlocks := len(data) / fullBlockSize
	tail := len(data) % fullBlockSize

	outLen := fullBlocks*fullEncodedBlockSize + encodedBlockSizes[tail]
	out := make([]byte, outLen)

	for i := 0; i < fullBlocks; i++ {
		encodeBlock(data[i*fullBlockSize:(i+1)*fullBlockSize],
			out[i*fullEncodedBlockSize:(i+1)*fullEncodedBlockSize])
	}
	if tail > 0 {
		encodeBlock(data[fullBlocks*fullBlockSize:],
			out[fullBlocks*fullEncodedBlockSize:])
	}
	return string(out)
}

func decodedTailSize(encLen int) (int, bool) {
	for n, e := range encodedBlockSizes {
		if e == encLen {
			return n, true
		}
	}
	return 0, false
}

func decodeBlock(enc []byte, out []byte) error {
	num := new(big.Int)
	base := big.NewInt(58)
	for _, c := range enc {
		d := b58Reverse[c]
		if d < 0 {
			return models.Errorf(models.ErrInvalidEncoding, "invalid base58 character %q", c)
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(d)))
	}
	b := num.Bytes()
	if len(b) > len(out) {
		return models.Errorf(models.ErrInvalidEncoding, "base58 block overflow")
	}
	for i := range out {
		out[i] = 0
	}
	copy(out[len(out)-len(b):], b)
	return nil
}

// DecodeBase58 decodes block base58 back to raw bytes.
func DecodeBase58(s string) ([]byte, error) {
	enc := []byte(s)
	fullBlocks := len(enc) / fullEncodedBlockSize
	tailEnc := len(enc) % fullEncodedBlockSize

	tail, ok := decodedTailSize(tailEnc)
	if !ok {
		return nil, models.Errorf(models.ErrInvalidEncoding, "invalid base58 length %d", len(enc))
	}

	out := make([]byte, fullBlocks*fullBlockSize+tail)
	for i := 0; i < fullBlocks; i++ {
		if err := decodeBlock(enc[i*fullEncodedBlockSize:(i+1)*fullEncodedBlockSize],
			out[i*fullBlockSize:(i+1)*fullBlockSize]); err != nil {
			return nil, err
		}
	}
	if tail > 0 {
		if err := decodeBlock(enc[fullBlocks*fullEncodedBlockSize:],
			out[fullBlocks*fullBlockSize:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
