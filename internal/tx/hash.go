package tx

import (
	"bytes"

	"github.com/rawblock/veilwallet/internal/crypto"
)

// TxHash computes the transaction id. Version 1 hashes the whole blob;
// version 2+ hashes the triple (prefix hash, rct base hash, prunable hash).
func TxHash(t *Transaction) (Hash, error) {
	if t.Prefix.Version < 2 {
		blob, err := Serialize(t)
		if err != nil {
			return Hash{}, err
		}
		return Hash(crypto.Keccak256(blob)), nil
	}

	prefixBlob, err := SerializePrefix(&t.Prefix)
	if err != nil {
		return Hash{}, err
	}
	var base, prunable bytes.Buffer
	if err := serializeRctBase(&base, t.Rct, len(t.Prefix.Outputs)); err != nil {
		return Hash{}, err
	}
	if err := serializeRctPrunable(&prunable, t.Rct); err != nil {
		return Hash{}, err
	}

	h0 := crypto.Keccak256(prefixBlob)
	h1 := crypto.Keccak256(base.Bytes())
	var h2 [32]byte
	if t.Rct.RctType != RctTypeNull {
		h2 = crypto.Keccak256(prunable.Bytes())
	}
	return Hash(crypto.Keccak256(h0[:], h1[:], h2[:])), nil
}

// MerkleRoot computes the CryptoNote tree hash over transaction hashes.
func MerkleRoot(hashes []Hash) Hash {
	switch len(hashes) {
	case 0:
		return Hash{}
	case 1:
		return hashes[0]
	case 2:
		return Hash(crypto.Keccak256(hashes[0][:], hashes[1][:]))
	}

	// Reduce the tail so the working set is the largest power of two ≤ n.
	cnt := 1
	for cnt*2 <= len(hashes) {
		cnt *= 2
	}

	work := make([]Hash, cnt)
	copy(work, hashes[:2*cnt-len(hashes)])
	j := 2*cnt - len(hashes)
	for i := j; i < cnt; i++ {
		work[i] = Hash(crypto.Keccak256(hashes[j][:], hashes[j+1][:]))
		j += 2
	}

	for cnt > 2 {
		cnt /= 2
		for i := 0; i < cnt; i++ {
			work[i] = Hash(crypto.Keccak256(work[2*i][:], work[2*i+1][:]))
		}
	}
	return Hash(crypto.Keccak256(work[0][:], work[1][:]))
}

// SigningHash is the message ring signatures commit to: the prefix hash and
// the rct base hash, excluding the prunable section the signatures live in.
func SigningHash(t *Transaction) (Hash, error) {
	prefixBlob, err := SerializePrefix(&t.Prefix)
	if err != nil {
		return Hash{}, err
	}
	h0 := crypto.Keccak256(prefixBlob)
	if t.Rct == nil {
		return Hash(h0), nil
	}
	var base bytes.Buffer
	if err := serializeRctBase(&base, t.Rct, len(t.Prefix.Outputs)); err != nil {
		return Hash{}, err
	}
	h1 := crypto.Keccak256(base.Bytes())
	return Hash(crypto.Keccak256(h0[:], h1[:])), nil
}
