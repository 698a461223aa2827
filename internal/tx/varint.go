package tx

import (
	"bytes"
	"encoding/binary"

	"github.com/rawblock/veilwallet/pkg/models"
)

// Wire integers are unsigned LEB128 varints (encoding/binary's Uvarint).

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// reader is a bounds-checked cursor over a serialized blob.
type reader struct {
	data []byte
	off  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return 0, models.Errorf(models.ErrMalformedTransaction, "truncated or overlong varint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, models.Errorf(models.ErrMalformedTransaction, "need %d bytes at offset %d, have %d", n, r.off, r.remaining())
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) byte32() ([32]byte, error) {
	var out [32]byte
	b, err := r.bytes(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (r *reader) byteN8() ([8]byte, error) {
	var out [8]byte
	b, err := r.bytes(8)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (r *reader) oneByte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// uvarintLen is the encoded size of v, used to locate fixed offsets.
func uvarintLen(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}
