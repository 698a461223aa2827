package tx

import (
	"bytes"
	"testing"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/pkg/models"
)

func randPoint() crypto.Point {
	return crypto.ScalarMultBase(crypto.RandomScalar())
}

func sampleV1Tx() *Transaction {
	return &Transaction{Prefix: Prefix{
		Version:    1,
		UnlockTime: 60,
		Inputs:     []Input{InputCoinbase{Height: 12345}},
		Outputs: []Output{
			{Amount: 5_000_000, Target: TargetKey{Key: randPoint()}},
		},
		Extra: mustExtra(ExtraFields{TxPubKey: pointPtr(randPoint())}),
	}}
}

func pointPtr(p crypto.Point) *crypto.Point { return &p }

func mustExtra(f ExtraFields) []byte {
	b, err := BuildExtra(f)
	if err != nil {
		panic(err)
	}
	return b
}

func sampleV2Tx(t *testing.T) *Transaction {
	t.Helper()
	mask := crypto.RandomScalar()
	proof, err := ringct.ProveRange([]uint64{777}, []crypto.Scalar{mask})
	if err != nil {
		t.Fatal(err)
	}

	ki := randPoint()
	clsag := &ringct.Clsag{
		C1: crypto.RandomScalar(),
		S:  []crypto.Scalar{crypto.RandomScalar(), crypto.RandomScalar()},
		D:  randPoint(),
		I:  ki,
	}

	return &Transaction{
		Prefix: Prefix{
			Version:    2,
			UnlockTime: 0,
			Inputs: []Input{InputKey{
				Amount:      0,
				RingOffsets: []uint64{840_000, 3, 17},
				KeyImage:    ki,
			}},
			Outputs: []Output{
				{Target: TargetTaggedKey{Key: randPoint(), ViewTag: 0x5a}},
			},
			Extra: mustExtra(ExtraFields{
				TxPubKey:           pointPtr(randPoint()),
				EncryptedPaymentID: []byte{1, 2, 3, 4, 5, 6, 7, 8},
			}),
		},
		Rct: &RctSignatures{
			RctType:          RctTypeBulletproofPlus,
			TxFee:            42_000,
			EcdhInfo:         [][8]byte{{9, 8, 7, 6, 5, 4, 3, 2}},
			OutCommitments:   []crypto.Point{proof.V[0]},
			PseudoOuts:       []crypto.Point{randPoint()},
			BulletproofsPlus: []*ringct.BulletproofPlus{proof},
			Clsags:           []*ringct.Clsag{clsag},
		},
	}
}

func sampleV4Tx(t *testing.T) *Transaction {
	tx := sampleV2Tx(t)
	tx.Prefix.Version = 4
	tx.Prefix.TxType = models.TxTypeConvert
	tx.Prefix.SourceAsset = "SAL"
	tx.Prefix.DestAsset = "VSD"
	tx.Prefix.AmountBurnt = 1_000
	tx.Rct.RctType = RctTypeSalviumOne
	tx.Rct.TwinClsags = []*ringct.TwinClsag{{
		C1: crypto.RandomScalar(),
		S:  []crypto.Scalar{crypto.RandomScalar(), crypto.RandomScalar()},
		U:  []crypto.Scalar{crypto.RandomScalar(), crypto.RandomScalar()},
		D:  randPoint(),
	}}
	tx.Rct.Clsags = nil
	return tx
}

func TestRoundTripByteIdentical(t *testing.T) {
	cases := map[string]*Transaction{
		"v1 coinbase":    sampleV1Tx(),
		"v2 clsag bp+":   sampleV2Tx(t),
		"v4 multi-asset": sampleV4Tx(t),
	}
	for name, txn := range cases {
		t.Run(name, func(t *testing.T) {
			blob, err := Serialize(txn)
			if err != nil {
				t.Fatal(err)
			}
			parsed, err := Parse(blob)
			if err != nil {
				t.Fatal(err)
			}
			blob2, err := Serialize(parsed)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(blob, blob2) {
				t.Fatal("parse → emit is not byte-identical")
			}
		})
	}
}

func TestParseRejectsTrailingBytes(t *testing.T) {
	blob, err := Serialize(sampleV1Tx())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(append(blob, 0x00)); err == nil {
		t.Fatal("trailing byte accepted")
	}
}

func TestParseRejectsOversize(t *testing.T) {
	big := make([]byte, MaxTxSize+1)
	_, err := Parse(big)
	if err == nil || !models.IsKind(err, models.ErrMalformedTransaction) {
		t.Fatalf("oversize blob: %v", err)
	}
}

func TestParseRejectsTruncation(t *testing.T) {
	blob, err := Serialize(sampleV2Tx(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, cut := range []int{1, len(blob) / 4, len(blob) / 2, len(blob) - 1} {
		if _, err := Parse(blob[:cut]); err == nil {
			t.Fatalf("truncation at %d accepted", cut)
		}
	}
}

func TestExtraRoundTrip(t *testing.T) {
	pk := randPoint()
	add1, add2 := randPoint(), randPoint()
	var eph crypto.MontgomeryPoint
	copy(eph[:], bytes.Repeat([]byte{0x7}, 32))

	fields := ExtraFields{
		TxPubKey:           &pk,
		AdditionalPubKeys:  []crypto.Point{add1, add2},
		EncryptedPaymentID: []byte{8, 7, 6, 5, 4, 3, 2, 1},
		EphemeralPub:       &eph,
	}
	blob, err := BuildExtra(fields)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseExtra(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.TxPubKey == nil || *got.TxPubKey != pk {
		t.Error("tx pubkey lost")
	}
	if len(got.AdditionalPubKeys) != 2 || got.AdditionalPubKeys[0] != add1 {
		t.Error("additional pubkeys lost")
	}
	if !bytes.Equal(got.EncryptedPaymentID, fields.EncryptedPaymentID) {
		t.Error("encrypted payment id lost")
	}
	if got.EphemeralPub == nil || *got.EphemeralPub != eph {
		t.Error("ephemeral pubkey lost")
	}
}

func TestExtraUnknownTagOpaque(t *testing.T) {
	blob := append([]byte{0xde}, []byte("whatever follows is opaque")...)
	got, err := ParseExtra(blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Unknown, blob[1:]) {
		t.Fatal("unknown tag must consume the remainder")
	}
}

func TestExtraPadding(t *testing.T) {
	pk := randPoint()
	blob := mustExtra(ExtraFields{TxPubKey: &pk})
	blob = append(blob, 0x00, 0x00, 0x00)
	got, err := ParseExtra(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.TxPubKey == nil || *got.TxPubKey != pk {
		t.Fatal("padding clobbered earlier fields")
	}

	bad := append(append([]byte{}, blob...), 0x01)
	if _, err := ParseExtra(bad); err == nil {
		t.Fatal("nonzero padding accepted")
	}
}

func TestExtraSizeLimit(t *testing.T) {
	if _, err := ParseExtra(make([]byte, MaxExtraSize+1)); err == nil {
		t.Fatal("oversize extra accepted")
	}
}

func TestTxHashStableAndDistinct(t *testing.T) {
	a := sampleV1Tx()
	h1, err := TxHash(a)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := TxHash(a)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("tx hash is not deterministic")
	}

	b := sampleV1Tx()
	b.Prefix.UnlockTime++
	h3, err := TxHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Fatal("distinct transactions share a hash")
	}
}

func TestMerkleRoot(t *testing.T) {
	h := func(b byte) Hash {
		var out Hash
		out[0] = b
		return out
	}

	if MerkleRoot([]Hash{h(1)}) != h(1) {
		t.Fatal("single leaf must be its own root")
	}

	h1, h2, h3 := h(1), h(2), h(3)

	two := MerkleRoot([]Hash{h1, h2})
	if want := Hash(crypto.Keccak256(h1[:], h2[:])); two != want {
		t.Fatal("two-leaf root mismatch")
	}

	// Three leaves: root = K(h0, K(h1,h2)).
	three := MerkleRoot([]Hash{h1, h2, h3})
	inner := crypto.Keccak256(h2[:], h3[:])
	if want := Hash(crypto.Keccak256(h1[:], inner[:])); three != want {
		t.Fatal("three-leaf root mismatch")
	}

	// Order sensitivity.
	if MerkleRoot([]Hash{h(2), h(1)}) == two {
		t.Fatal("root must be order-sensitive")
	}
}

func sampleBlock(t *testing.T) *Block {
	t.Helper()
	miner := &Transaction{Prefix: Prefix{
		Version:    1,
		UnlockTime: 1060,
		Inputs:     []Input{InputCoinbase{Height: 1000}},
		Outputs:    []Output{{Amount: 600_000_000, Target: TargetKey{Key: randPoint()}}},
		Extra:      mustExtra(ExtraFields{TxPubKey: pointPtr(randPoint())}),
	}}
	return &Block{
		Header: BlockHeader{
			MajorVersion: 2,
			MinorVersion: 2,
			Timestamp:    1_722_000_000,
			PrevID:       Hash{0xaa},
			Nonce:        0xdeadbeef,
		},
		MinerTx:  *miner,
		TxHashes: []Hash{{1}, {2}, {3}},
	}
}

func TestBlockRoundTrip(t *testing.T) {
	b := sampleBlock(t)
	blob, err := SerializeBlock(b)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseBlock(blob)
	if err != nil {
		t.Fatal(err)
	}
	blob2, err := SerializeBlock(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, blob2) {
		t.Fatal("block parse → emit is not byte-identical")
	}

	h1, err := BlockHash(b)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := BlockHash(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("block hash changed across a round trip")
	}
}

func TestPricingRecordRequiredPostOracle(t *testing.T) {
	b := sampleBlock(t)
	b.Header.MajorVersion = OraclePricingVersion
	if _, err := SerializeBlock(b); err == nil {
		t.Fatal("missing pricing record accepted")
	}

	b.Header.PricingRecord = &PricingRecord{
		Timestamp: 1_722_000_100,
		Rates:     []AssetRate{{AssetType: "VSD", SpotPrice: 995, MAPrice: 1002}},
	}
	blob, err := SerializeBlock(b)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseBlock(blob)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Header.PricingRecord == nil || parsed.Header.PricingRecord.Rates[0].AssetType != "VSD" {
		t.Fatal("pricing record lost in round trip")
	}
}

func TestNonceOffset(t *testing.T) {
	b := sampleBlock(t)
	blob, err := HashingBlob(b)
	if err != nil {
		t.Fatal(err)
	}

	// major (1) + minor (1) + timestamp (5 bytes varint for ~1.7e9) + prev (32) = 39.
	off := NonceOffset(&b.Header)
	if off != 39 {
		t.Fatalf("nonce offset = %d, want 39", off)
	}
	got := uint32(blob[off]) | uint32(blob[off+1])<<8 | uint32(blob[off+2])<<16 | uint32(blob[off+3])<<24
	if got != b.Header.Nonce {
		t.Fatalf("nonce at offset = %#x, want %#x", got, b.Header.Nonce)
	}
}
