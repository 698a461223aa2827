package mining

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"log"
	"math/bits"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Hasher is the external proof-of-work collaborator. Init prepares the
// stateful dataset for a seed epoch; Hash turns a hashing blob into 32
// bytes. Implementations are immutable after Init and may be shared by
// worker goroutines.
type Hasher interface {
	Init(seed [32]byte) error
	Hash(blob []byte) [32]byte
}

// KeccakHasher is the development stand-in for the real PoW VM: Hash is
// plain Keccak-256 and Init is a no-op. Useful for tests and private nets.
type KeccakHasher struct{}

func (KeccakHasher) Init([32]byte) error { return nil }
func (KeccakHasher) Hash(blob []byte) [32]byte {
	return crypto.Keccak256(blob)
}

// CheckHash reports whether hash·difficulty ≤ 2²⁵⁶ with the hash read as a
// little-endian 256-bit integer. The multiply runs over 64-bit limbs; any
// carry beyond the 256th bit fails the target.
func CheckHash(hash [32]byte, difficulty uint64) bool {
	if difficulty == 0 {
		return true
	}
	var limbs [4]uint64
	for i := range limbs {
		limbs[i] = binary.LittleEndian.Uint64(hash[i*8:])
	}

	var carry uint64
	lowZero := true
	for i := 0; i < 4; i++ {
		hi, lo := bits.Mul64(limbs[i], difficulty)
		sum, c := bits.Add64(lo, carry, 0)
		if sum != 0 {
			lowZero = false
		}
		carry = hi + c
	}
	// A carry of exactly 1 over four zero limbs is the product 2²⁵⁶ itself.
	return carry == 0 || (carry == 1 && lowZero)
}

// NonceOffsetInBlob locates the 4-byte LE nonce inside a hashing blob: it
// sits immediately after the header prefix (three varints and the 32-byte
// previous id).
func NonceOffsetInBlob(blob []byte) (int, error) {
	off := 0
	for i := 0; i < 3; i++ { // major, minor, timestamp
		_, n := binary.Uvarint(blob[off:])
		if n <= 0 {
			return 0, models.Errorf(models.ErrMalformedTransaction, "bad header varint %d", i)
		}
		off += n
	}
	off += 32 // prev id
	if off+4 > len(blob) {
		return 0, models.Errorf(models.ErrMalformedTransaction, "hashing blob too short for nonce")
	}
	return off, nil
}

// seedEpochBlocks is how often the PoW seed rotates.
const seedEpochBlocks = 2048

// Miner drives the hasher against templates from the remote node.
type Miner struct {
	node    daemon.Client
	hasher  Hasher
	address string

	currentSeed [32]byte
	seedSet     bool
}

// New builds a miner paying rewards to the given wallet address.
func New(node daemon.Client, hasher Hasher, address string) *Miner {
	return &Miner{node: node, hasher: hasher, address: address}
}

// FoundBlock is a winning solve ready for submission.
type FoundBlock struct {
	Nonce    uint32
	Hash     [32]byte
	BlockHex string
	Height   uint64
}

// prepareSeed re-initializes the hasher when the template's seed epoch
// changed (every 2048 blocks).
func (m *Miner) prepareSeed(seedHex string) error {
	raw, err := hex.DecodeString(seedHex)
	if err != nil || len(raw) != 32 {
		return models.Errorf(models.ErrRemoteNode, "bad seed hash %q", seedHex)
	}
	var seed [32]byte
	copy(seed[:], raw)
	if m.seedSet && seed == m.currentSeed {
		return nil
	}
	log.Printf("[Miner] Seed epoch changed, re-initializing hasher (epoch every %d blocks)", seedEpochBlocks)
	if err := m.hasher.Init(seed); err != nil {
		return models.Wrap(models.ErrInternal, err, "hasher init")
	}
	m.currentSeed = seed
	m.seedSet = true
	return nil
}

// SearchRange scans nonces [startNonce, endNonce) over a hashing blob.
// Workers partition the nonce space by calling this with disjoint ranges.
// Returns (nonce, hash, true) on a solve.
func SearchRange(hasher Hasher, hashingBlob []byte, nonceOffset int,
	difficulty uint64, startNonce, endNonce uint32, stop func() bool) (uint32, [32]byte, bool) {

	blob := append([]byte{}, hashingBlob...)
	for nonce := startNonce; nonce < endNonce; nonce++ {
		if stop != nil && nonce%4096 == 0 && stop() {
			return 0, [32]byte{}, false
		}
		binary.LittleEndian.PutUint32(blob[nonceOffset:], nonce)
		h := hasher.Hash(blob)
		if CheckHash(h, difficulty) {
			return nonce, h, true
		}
	}
	return 0, [32]byte{}, false
}

// MineOnce fetches one template and searches the given nonce range. A nil
// result means the range was exhausted without a solve.
func (m *Miner) MineOnce(ctx context.Context, startNonce, endNonce uint32) (*FoundBlock, error) {
	tpl, err := m.node.GetBlockTemplate(ctx, m.address, 0)
	if err != nil {
		return nil, err
	}
	if err := m.prepareSeed(tpl.SeedHash); err != nil {
		return nil, err
	}

	hashingBlob, err := hex.DecodeString(tpl.BlockHashingBlob)
	if err != nil {
		return nil, models.Errorf(models.ErrRemoteNode, "bad hashing blob")
	}
	templateBlob, err := hex.DecodeString(tpl.BlockTemplateBlob)
	if err != nil {
		return nil, models.Errorf(models.ErrRemoteNode, "bad template blob")
	}

	offset, err := NonceOffsetInBlob(hashingBlob)
	if err != nil {
		return nil, err
	}

	stop := func() bool { return ctx.Err() != nil }
	nonce, hash, found := SearchRange(m.hasher, hashingBlob, offset, tpl.Difficulty, startNonce, endNonce, stop)
	if !found {
		if ctx.Err() != nil {
			return nil, models.Wrap(models.ErrCancelled, ctx.Err(), "mining")
		}
		return nil, nil
	}

	// Splice the winning nonce into the full template blob; the template
	// shares the header prefix, so the offset is identical.
	tplOffset, err := NonceOffsetInBlob(templateBlob)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(templateBlob[tplOffset:], nonce)

	return &FoundBlock{
		Nonce:    nonce,
		Hash:     hash,
		BlockHex: hex.EncodeToString(templateBlob),
		Height:   tpl.Height,
	}, nil
}

// Submit sends a found block back to the node.
func (m *Miner) Submit(ctx context.Context, fb *FoundBlock) error {
	if err := m.node.SubmitBlock(ctx, fb.BlockHex); err != nil {
		return err
	}
	log.Printf("[Miner] Block %d accepted (nonce %d)", fb.Height, fb.Nonce)
	return nil
}
