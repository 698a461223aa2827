package mining

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/tx"
)

func TestCheckHash(t *testing.T) {
	var zero [32]byte
	if !CheckHash(zero, 1_000_000) {
		t.Fatal("zero hash must pass any difficulty")
	}

	var max [32]byte
	for i := range max {
		max[i] = 0xff
	}
	if CheckHash(max, 2) {
		t.Fatal("max hash must fail difficulty 2")
	}
	if !CheckHash(max, 1) {
		t.Fatal("difficulty 1 accepts everything")
	}

	// Byte order is little-endian: a hash with only its LAST byte set is a
	// huge integer and must fail a moderate difficulty.
	var bigLE [32]byte
	bigLE[31] = 0x80
	if CheckHash(bigLE, 1000) {
		t.Fatal("top-limb hash must fail")
	}
	// Whereas only the FIRST byte set is tiny.
	var smallLE [32]byte
	smallLE[0] = 0x80
	if !CheckHash(smallLE, 1000) {
		t.Fatal("low-limb hash must pass")
	}
}

func blobWithNonceAt39(t *testing.T) ([]byte, *tx.BlockHeader) {
	t.Helper()
	hdr := &tx.BlockHeader{
		MajorVersion: 2,
		MinorVersion: 2,
		Timestamp:    1_722_000_000, // 5-byte varint → nonce offset 1+1+5+32 = 39
		PrevID:       tx.Hash{0x11},
		Nonce:        0,
	}
	b := &tx.Block{Header: *hdr, MinerTx: tx.Transaction{Prefix: tx.Prefix{
		Version: 1,
		Inputs:  []tx.Input{tx.InputCoinbase{Height: 10}},
	}}}
	blob, err := tx.HashingBlob(b)
	if err != nil {
		t.Fatal(err)
	}
	return blob, hdr
}

func TestNonceOffsetInBlob(t *testing.T) {
	blob, hdr := blobWithNonceAt39(t)
	off, err := NonceOffsetInBlob(blob)
	if err != nil {
		t.Fatal(err)
	}
	if off != 39 {
		t.Fatalf("offset %d, want 39", off)
	}
	if off != tx.NonceOffset(hdr) {
		t.Fatal("blob offset disagrees with the header codec")
	}
}

func TestSearchRangeFindsAndAgrees(t *testing.T) {
	blob, _ := blobWithNonceAt39(t)
	const difficulty = 1000

	hasher := KeccakHasher{}
	nonce, hash, found := SearchRange(hasher, blob, 39, difficulty, 0, 1<<20, nil)
	if !found {
		t.Fatal("no solve in 2^20 nonces at difficulty 1000")
	}

	// Independent re-check: write the nonce, hash, verify the same
	// condition accepts the same nonce.
	check := append([]byte{}, blob...)
	binary.LittleEndian.PutUint32(check[39:], nonce)
	h2 := hasher.Hash(check)
	if h2 != hash {
		t.Fatal("hash mismatch on re-derivation")
	}
	if !CheckHash(h2, difficulty) {
		t.Fatal("independent check rejects the found nonce")
	}

	// Every earlier nonce must have failed.
	if nonce > 0 {
		binary.LittleEndian.PutUint32(check[39:], nonce-1)
		if CheckHash(hasher.Hash(check), difficulty) {
			t.Fatal("an earlier nonce also solves; search did not return the first")
		}
	}
}

type fakeTemplateNode struct {
	daemon.Client
	tpl       daemon.BlockTemplate
	submitted []string
	inits     int
}

func (f *fakeTemplateNode) GetBlockTemplate(context.Context, string, int) (*daemon.BlockTemplate, error) {
	cp := f.tpl
	return &cp, nil
}

func (f *fakeTemplateNode) SubmitBlock(_ context.Context, blobHex string) error {
	f.submitted = append(f.submitted, blobHex)
	return nil
}

type countingHasher struct {
	KeccakHasher
	inits *int
}

func (c countingHasher) Init(seed [32]byte) error {
	*c.inits++
	return nil
}

func TestMineOnceEndToEnd(t *testing.T) {
	blob, _ := blobWithNonceAt39(t)

	node := &fakeTemplateNode{tpl: daemon.BlockTemplate{
		BlockTemplateBlob: hex.EncodeToString(blob), // template shares the prefix
		BlockHashingBlob:  hex.EncodeToString(blob),
		Difficulty:        500,
		Height:            10,
		SeedHash:          hex.EncodeToString(make([]byte, 32)),
	}}
	inits := 0
	m := New(node, countingHasher{inits: &inits}, "sal1address")

	fb, err := m.MineOnce(context.Background(), 0, 1<<21)
	if err != nil {
		t.Fatal(err)
	}
	if fb == nil {
		t.Fatal("no solve")
	}
	if !CheckHash(fb.Hash, 500) {
		t.Fatal("returned hash fails its own difficulty")
	}

	// The submitted blob carries the nonce at the template's offset.
	raw, err := hex.DecodeString(fb.BlockHex)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(raw[39:]); got != fb.Nonce {
		t.Fatalf("template nonce %d, want %d", got, fb.Nonce)
	}

	if err := m.Submit(context.Background(), fb); err != nil {
		t.Fatal(err)
	}
	if len(node.submitted) != 1 {
		t.Fatal("block not submitted")
	}

	// Same seed → one init; new seed → re-init.
	if inits != 1 {
		t.Fatalf("%d hasher inits", inits)
	}
	node.tpl.SeedHash = hex.EncodeToString(append([]byte{1}, make([]byte, 31)...))
	if _, err := m.MineOnce(context.Background(), 0, 16); err != nil {
		t.Fatal(err)
	}
	if inits != 2 {
		t.Fatalf("%d hasher inits after seed rotation", inits)
	}
}

func TestWorkerPartitioning(t *testing.T) {
	blob, _ := blobWithNonceAt39(t)
	hasher := KeccakHasher{}

	// Two disjoint ranges never test the same nonce; together they cover
	// the union exactly once. Verify via the first solve in the union.
	n1, _, f1 := SearchRange(hasher, blob, 39, 2000, 0, 1<<16, nil)
	n2, _, f2 := SearchRange(hasher, blob, 39, 2000, 1<<16, 1<<17, nil)
	union, _, fu := SearchRange(hasher, blob, 39, 2000, 0, 1<<17, nil)
	if !fu {
		t.Skip("no solve in the test range")
	}
	switch {
	case f1:
		if union != n1 {
			t.Fatal("partitioned first solve disagrees with the union")
		}
	case f2:
		if union != n2 {
			t.Fatal("partitioned solve disagrees with the union")
		}
	default:
		t.Fatal("union solved but neither partition did")
	}
}
