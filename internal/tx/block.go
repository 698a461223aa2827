package tx

import (
	"bytes"
	"encoding/binary"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// AssetRate is one oracle quote inside a pricing record.
type AssetRate struct {
	AssetType string
	SpotPrice uint64
	MAPrice   uint64
}

// PricingRecord carries the oracle quotes a block commits to. Present only
// when the header's major version has reached the oracle hard fork.
type PricingRecord struct {
	Timestamp uint64
	Rates     []AssetRate
}

// BlockHeader is the hashed block header.
type BlockHeader struct {
	MajorVersion  uint64
	MinorVersion  uint64
	Timestamp     uint64
	PrevID        Hash
	Nonce         uint32 // fixed 4-byte LE on the wire
	PricingRecord *PricingRecord
}

// Block is a full block: header, miner transaction, optional protocol
// transaction, and the ids of the user transactions it includes.
type Block struct {
	Header     BlockHeader
	MinerTx    Transaction
	ProtocolTx *Transaction
	TxHashes   []Hash
}

// OraclePricingVersion is the major version from which headers carry a
// pricing record.
const OraclePricingVersion = 5

// headerPrefixLen is the byte length of the header up to and excluding the
// nonce; the nonce offset inside a hashing blob is this value.
func headerPrefixLen(h *BlockHeader) int {
	return uvarintLen(h.MajorVersion) + uvarintLen(h.MinorVersion) + uvarintLen(h.Timestamp) + 32
}

// SerializeHeader emits the wire header. The nonce is fixed 4-byte LE so
// miners can splice it without re-serializing.
func SerializeHeader(h *BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	writeUvarint(&buf, h.MajorVersion)
	writeUvarint(&buf, h.MinorVersion)
	writeUvarint(&buf, h.Timestamp)
	buf.Write(h.PrevID[:])
	var nonce [4]byte
	binary.LittleEndian.PutUint32(nonce[:], h.Nonce)
	buf.Write(nonce[:])

	if h.MajorVersion >= OraclePricingVersion {
		if h.PricingRecord == nil {
			return nil, models.Errorf(models.ErrMalformedTransaction,
				"header v%d requires a pricing record", h.MajorVersion)
		}
		writeUvarint(&buf, h.PricingRecord.Timestamp)
		writeUvarint(&buf, uint64(len(h.PricingRecord.Rates)))
		for _, rate := range h.PricingRecord.Rates {
			writeUvarint(&buf, uint64(len(rate.AssetType)))
			buf.WriteString(rate.AssetType)
			writeUvarint(&buf, rate.SpotPrice)
			writeUvarint(&buf, rate.MAPrice)
		}
	}
	return buf.Bytes(), nil
}

func parseHeader(r *reader) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.MajorVersion, err = r.uvarint(); err != nil {
		return h, err
	}
	if h.MinorVersion, err = r.uvarint(); err != nil {
		return h, err
	}
	if h.Timestamp, err = r.uvarint(); err != nil {
		return h, err
	}
	prev, err := r.byte32()
	if err != nil {
		return h, err
	}
	h.PrevID = Hash(prev)
	nb, err := r.bytes(4)
	if err != nil {
		return h, err
	}
	h.Nonce = binary.LittleEndian.Uint32(nb)

	if h.MajorVersion >= OraclePricingVersion {
		pr := &PricingRecord{}
		if pr.Timestamp, err = r.uvarint(); err != nil {
			return h, err
		}
		n, err := r.uvarint()
		if err != nil {
			return h, err
		}
		if n > 64 {
			return h, models.Errorf(models.ErrMalformedTransaction, "%d pricing rates", n)
		}
		pr.Rates = make([]AssetRate, n)
		for i := range pr.Rates {
			if pr.Rates[i].AssetType, err = r.shortString(); err != nil {
				return h, err
			}
			if pr.Rates[i].SpotPrice, err = r.uvarint(); err != nil {
				return h, err
			}
			if pr.Rates[i].MAPrice, err = r.uvarint(); err != nil {
				return h, err
			}
		}
		h.PricingRecord = pr
	}
	return h, nil
}

// SerializeBlock emits the full block wire form.
func SerializeBlock(b *Block) ([]byte, error) {
	hdr, err := SerializeHeader(&b.Header)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(hdr)

	miner, err := Serialize(&b.MinerTx)
	if err != nil {
		return nil, err
	}
	buf.Write(miner)

	if b.ProtocolTx != nil {
		buf.WriteByte(1)
		proto, err := Serialize(b.ProtocolTx)
		if err != nil {
			return nil, err
		}
		buf.Write(proto)
	} else {
		buf.WriteByte(0)
	}

	writeUvarint(&buf, uint64(len(b.TxHashes)))
	for i := range b.TxHashes {
		buf.Write(b.TxHashes[i][:])
	}
	return buf.Bytes(), nil
}

// ParseBlock decodes a full block and rejects trailing garbage.
func ParseBlock(blob []byte) (*Block, error) {
	r := newReader(blob)
	b := &Block{}
	var err error
	if b.Header, err = parseHeader(r); err != nil {
		return nil, err
	}

	miner, err := parseTxFrom(r)
	if err != nil {
		return nil, err
	}
	b.MinerTx = *miner

	hasProto, err := r.oneByte()
	if err != nil {
		return nil, err
	}
	switch hasProto {
	case 0:
	case 1:
		proto, err := parseTxFrom(r)
		if err != nil {
			return nil, err
		}
		b.ProtocolTx = proto
	default:
		return nil, models.Errorf(models.ErrMalformedTransaction, "bad protocol-tx flag %d", hasProto)
	}

	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.remaining()) {
		return nil, models.Errorf(models.ErrMalformedTransaction, "%d tx hashes", n)
	}
	b.TxHashes = make([]Hash, n)
	for i := range b.TxHashes {
		h, err := r.byte32()
		if err != nil {
			return nil, err
		}
		b.TxHashes[i] = Hash(h)
	}
	if r.remaining() != 0 {
		return nil, models.Errorf(models.ErrMalformedTransaction, "%d trailing bytes after block", r.remaining())
	}
	return b, nil
}

// parseTxFrom parses one embedded transaction from the cursor.
func parseTxFrom(r *reader) (*Transaction, error) {
	prefix, err := parsePrefix(r)
	if err != nil {
		return nil, err
	}
	t := &Transaction{Prefix: prefix}
	if prefix.Version >= 2 {
		rct, err := parseRct(r, &prefix)
		if err != nil {
			return nil, err
		}
		t.Rct = rct
	}
	return t, nil
}

// BlockHash computes the chain id of a block:
// Keccak(header_bytes ‖ miner_tx_hash ‖ merkle_root(protocol?, tx_hashes)).
func BlockHash(b *Block) (Hash, error) {
	blob, err := HashingBlob(b)
	if err != nil {
		return Hash{}, err
	}
	return Hash(crypto.Keccak256(blob)), nil
}

// HashingBlob builds the byte string both the block hash and the
// proof-of-work hash are computed over. The header occupies the front, so
// the mining nonce sits at NonceOffset.
func HashingBlob(b *Block) ([]byte, error) {
	hdr, err := SerializeHeader(&b.Header)
	if err != nil {
		return nil, err
	}
	minerHash, err := TxHash(&b.MinerTx)
	if err != nil {
		return nil, err
	}

	leaves := make([]Hash, 0, len(b.TxHashes)+1)
	if b.ProtocolTx != nil {
		ph, err := TxHash(b.ProtocolTx)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, ph)
	}
	leaves = append(leaves, b.TxHashes...)
	root := MerkleRoot(leaves)

	blob := make([]byte, 0, len(hdr)+64)
	blob = append(blob, hdr...)
	blob = append(blob, minerHash[:]...)
	blob = append(blob, root[:]...)
	return blob, nil
}

// NonceOffset returns the byte position of the 4-byte LE nonce inside a
// hashing blob produced for this header.
func NonceOffset(h *BlockHeader) int {
	return headerPrefixLen(h)
}
