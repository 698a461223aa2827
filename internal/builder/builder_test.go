package builder

import (
	"context"
	"testing"

	"github.com/rawblock/veilwallet/internal/address"
	"github.com/rawblock/veilwallet/internal/consensus"
	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/keys"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// fakeNode serves a synthetic output distribution and random ring members.
type fakeNode struct {
	daemon.Client // panic on unimplemented calls
	totalOutputs  uint64
}

func (f *fakeNode) GetOutputDistribution(_ context.Context, _, _ uint64, _ bool) ([]daemon.Distribution, error) {
	return []daemon.Distribution{{Amount: 0, Distribution: []uint64{f.totalOutputs}, Base: 0}}, nil
}

func (f *fakeNode) GetOuts(_ context.Context, reqs []daemon.OutRequest) ([]daemon.OutEntry, error) {
	out := make([]daemon.OutEntry, len(reqs))
	for i := range reqs {
		key := crypto.ScalarMultBase(crypto.HnLabel("decoy-key", u32le(uint32(reqs[i].Index))))
		mask := ringct.Commit(crypto.HnLabel("decoy-mask", u32le(uint32(reqs[i].Index))), 1)
		out[i] = daemon.OutEntry{Key: key, Mask: mask, Unlocked: true, Height: reqs[i].Index}
	}
	return out, nil
}

func testSigner() SignerKeys {
	legacy := keys.LegacyFromSeed(keys.Seed{9})
	return SignerKeys{Legacy: legacy, Carrot: keys.CarrotFromMaster(legacy.SpendSecret)}
}

// ownedLegacyOutput fabricates a spendable output under the signer's keys.
func ownedLegacyOutput(signer SignerKeys, seed byte, amount, globalIndex uint64) models.OwnedOutput {
	d := crypto.HnLabel("test-derivation", []byte{seed})
	x := crypto.ScAdd(d, signer.Legacy.SpendSecret)
	oneTime := crypto.ScalarMultBase(x)
	mask := crypto.HnLabel("test-mask", []byte{seed})

	return models.OwnedOutput{
		TxID:            [32]byte{seed},
		OneTimeAddress:  oneTime,
		Amount:          amount,
		AssetType:       consensus.DefaultAssetType,
		Commitment:      ringct.Commit(mask, amount),
		Mask:            mask,
		KeyImage:        ringct.KeyImage(x, oneTime),
		BlockHeight:     100,
		GlobalIndex:     globalIndex,
		SenderExtension: d,
	}
}

func fundedStore(t *testing.T, signer SignerKeys, amounts ...uint64) *db.MemoryStore {
	t.Helper()
	store := db.NewMemoryStore()
	for i, amt := range amounts {
		o := ownedLegacyOutput(signer, byte(i+1), amt, uint64(1000+i*7))
		if err := store.PutOutput(context.Background(), o); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func destAddr(t *testing.T) (address.Address, keys.LegacyKeys) {
	t.Helper()
	recip := keys.LegacyFromSeed(keys.Seed{0xaa})
	a, err := address.New(models.Mainnet, models.SchemeLegacy, models.KindStandard, recip.SpendPub, recip.ViewPub)
	if err != nil {
		t.Fatal(err)
	}
	return a, recip
}

func selfChange(t *testing.T, signer SignerKeys) address.Address {
	t.Helper()
	a, err := address.New(models.Mainnet, models.SchemeLegacy, models.KindStandard,
		signer.Legacy.SpendPub, signer.Legacy.ViewPub)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func defaultOpts() Options {
	return Options{ChainHeight: 500, Now: 1_722_000_000}
}

func TestBuildSignsAndBalances(t *testing.T) {
	signer := testSigner()
	store := fundedStore(t, signer, 800_000_000, 900_000_000)
	dest, _ := destAddr(t)
	node := &fakeNode{totalOutputs: 100_000}

	res, err := Build(context.Background(), store, node, signer,
		[]Destination{{Address: dest, Amount: 500_000_000}}, selfChange(t, signer), defaultOpts())
	if err != nil {
		t.Fatal(err)
	}

	txn := res.Tx
	if len(txn.Rct.Clsags) != len(txn.Prefix.Inputs) {
		t.Fatalf("%d signatures for %d inputs", len(txn.Rct.Clsags), len(txn.Prefix.Inputs))
	}

	// Every CLSAG verifies over its reassembled ring.
	msgHash, err := tx.SigningHash(txn)
	if err != nil {
		t.Fatal(err)
	}
	for i, in := range txn.Prefix.Inputs {
		key := in.(tx.InputKey)
		indices := AbsoluteIndices(key.RingOffsets)
		if len(indices) != consensus.RingSize {
			t.Fatalf("ring size %d", len(indices))
		}
		ring, err := reassembleRing(node, store, indices)
		if err != nil {
			t.Fatal(err)
		}
		if err := ringct.VerifyClsag(txn.Rct.Clsags[i], [32]byte(msgHash), ring, txn.Rct.PseudoOuts[i]); err != nil {
			t.Fatalf("input %d: %v", i, err)
		}
	}

	// Σ C_pseudo − Σ C_out − fee·H = 0.
	if !commitmentsBalance(t, txn) {
		t.Fatal("pseudo/output commitments do not balance against the fee")
	}

	// The range proof verifies.
	if len(txn.Rct.BulletproofsPlus) != 1 {
		t.Fatalf("%d range proofs", len(txn.Rct.BulletproofsPlus))
	}
	if err := ringct.VerifyRange(txn.Rct.BulletproofsPlus[0]); err != nil {
		t.Fatal(err)
	}

	// The wire form round-trips.
	blob, err := tx.Serialize(txn)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Parse(blob); err != nil {
		t.Fatal(err)
	}
}

// reassembleRing rebuilds the ring the verifier would see.
func reassembleRing(node *fakeNode, store *db.MemoryStore, indices []uint64) ([]ringct.RingMember, error) {
	ctx := context.Background()
	outs, err := store.GetOutputs(ctx, models.OutputFilter{})
	if err != nil {
		return nil, err
	}
	byIndex := make(map[uint64]models.OwnedOutput)
	for _, o := range outs {
		byIndex[o.GlobalIndex] = o
	}

	ring := make([]ringct.RingMember, len(indices))
	for i, gi := range indices {
		if own, ok := byIndex[gi]; ok {
			ring[i] = ringct.RingMember{Dest: own.OneTimeAddress, Commitment: own.Commitment}
			continue
		}
		entries, err := node.GetOuts(ctx, []daemon.OutRequest{{Index: gi}})
		if err != nil {
			return nil, err
		}
		ring[i] = ringct.RingMember{Dest: entries[0].Key, Commitment: entries[0].Mask}
	}
	return ring, nil
}

func commitmentsBalance(t *testing.T, txn *tx.Transaction) bool {
	t.Helper()
	sum := crypto.Point{}
	first := true
	add := func(p crypto.Point, negate bool) {
		if negate {
			var err error
			p, err = crypto.PointNegate(p)
			if err != nil {
				t.Fatal(err)
			}
		}
		if first {
			sum = p
			first = false
			return
		}
		var err error
		sum, err = crypto.PointAdd(sum, p)
		if err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range txn.Rct.PseudoOuts {
		add(p, false)
	}
	for _, c := range txn.Rct.OutCommitments {
		add(c, true)
	}
	feeH := ringct.Commit(crypto.Scalar{}, txn.Rct.TxFee) // 0·G + fee·H
	add(feeH, true)
	return crypto.IsIdentity(sum)
}

func TestBuildInsufficientFunds(t *testing.T) {
	signer := testSigner()
	store := fundedStore(t, signer, 1_000_000)
	dest, _ := destAddr(t)
	node := &fakeNode{totalOutputs: 100_000}

	_, err := Build(context.Background(), store, node, signer,
		[]Destination{{Address: dest, Amount: 500_000_000}}, selfChange(t, signer), defaultOpts())
	if err == nil || !models.IsKind(err, models.ErrInsufficientFunds) {
		t.Fatalf("want InsufficientFunds, got %v", err)
	}
}

func TestBuildRingAssemblyFailed(t *testing.T) {
	signer := testSigner()
	store := fundedStore(t, signer, 800_000_000)
	dest, _ := destAddr(t)
	node := &fakeNode{totalOutputs: 4} // fewer outputs than the ring size

	_, err := Build(context.Background(), store, node, signer,
		[]Destination{{Address: dest, Amount: 100_000_000}}, selfChange(t, signer), defaultOpts())
	if err == nil || !models.IsKind(err, models.ErrRingAssemblyFailed) {
		t.Fatalf("want RingAssemblyFailed, got %v", err)
	}
}

func TestBuildSkipsFrozenAndLocked(t *testing.T) {
	signer := testSigner()
	ctx := context.Background()
	store := db.NewMemoryStore()

	frozen := ownedLegacyOutput(signer, 1, 900_000_000, 1000)
	frozen.IsFrozen = true
	locked := ownedLegacyOutput(signer, 2, 900_000_000, 1007)
	locked.UnlockTime = 10_000 // height gate far in the future
	for _, o := range []models.OwnedOutput{frozen, locked} {
		if err := store.PutOutput(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	dest, _ := destAddr(t)
	node := &fakeNode{totalOutputs: 100_000}
	_, err := Build(ctx, store, node, signer,
		[]Destination{{Address: dest, Amount: 100_000_000}}, selfChange(t, signer), defaultOpts())
	if err == nil || !models.IsKind(err, models.ErrInsufficientFunds) {
		t.Fatalf("frozen/locked outputs must not fund a spend: %v", err)
	}
}

func TestSelectionStrategies(t *testing.T) {
	outs := []models.OwnedOutput{
		{Amount: 100, BlockHeight: 5, KeyImage: [32]byte{1}},
		{Amount: 400, BlockHeight: 1, KeyImage: [32]byte{2}},
		{Amount: 250, BlockHeight: 9, KeyImage: [32]byte{3}},
	}

	t.Run("minimize inputs", func(t *testing.T) {
		sel := SelectOutputs(outs, 300, MinimizeInputs)
		if !sel.Sufficient || len(sel.Selected) != 1 || sel.Selected[0].Amount != 400 {
			t.Fatalf("%+v", sel)
		}
		if sel.Change != 100 {
			t.Fatalf("change %d", sel.Change)
		}
	})
	t.Run("minimize change", func(t *testing.T) {
		sel := SelectOutputs(outs, 240, MinimizeChange)
		if !sel.Sufficient || len(sel.Selected) != 1 || sel.Selected[0].Amount != 250 {
			t.Fatalf("%+v", sel)
		}
		if sel.Change != 10 {
			t.Fatalf("change %d", sel.Change)
		}
	})
	t.Run("oldest", func(t *testing.T) {
		sel := SelectOutputs(outs, 450, Oldest)
		if !sel.Sufficient || sel.Selected[0].BlockHeight != 1 {
			t.Fatalf("%+v", sel)
		}
	})
	t.Run("largest first sweeps the pool", func(t *testing.T) {
		// MinimizeInputs stops at the single 400; LargestFirst keeps going
		// and consolidates all three outputs.
		sel := SelectOutputs(outs, 300, LargestFirst)
		if !sel.Sufficient || len(sel.Selected) != 3 {
			t.Fatalf("%+v", sel)
		}
		if sel.Total != 750 || sel.Change != 450 {
			t.Fatalf("total %d change %d", sel.Total, sel.Change)
		}
		if sel.Selected[0].Amount != 400 || sel.Selected[2].Amount != 100 {
			t.Fatal("selection not sorted largest-first")
		}

		min := SelectOutputs(outs, 300, MinimizeInputs)
		if len(min.Selected) != 1 {
			t.Fatalf("MinimizeInputs selected %d outputs", len(min.Selected))
		}
	})
	t.Run("insufficient", func(t *testing.T) {
		sel := SelectOutputs(outs, 10_000, LargestFirst)
		if sel.Sufficient {
			t.Fatal("must not be sufficient")
		}
		if len(sel.Selected) != 3 {
			t.Fatal("LargestFirst must still report the full sweep")
		}
	})
}

func TestDecoySampling(t *testing.T) {
	decoys, err := SampleDecoys(1_000_000, 777, consensus.RingSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoys) != consensus.RingSize-1 {
		t.Fatalf("%d decoys", len(decoys))
	}
	seen := map[uint64]struct{}{777: {}}
	for _, d := range decoys {
		if _, dup := seen[d]; dup {
			t.Fatal("duplicate or real index among decoys")
		}
		seen[d] = struct{}{}
	}

	indices, realPos := AssembleRing(777, decoys)
	if indices[realPos] != 777 {
		t.Fatal("real index lost in assembly")
	}
	for i := 1; i < len(indices); i++ {
		if indices[i] <= indices[i-1] {
			t.Fatal("ring indices not strictly ascending")
		}
	}

	offsets := RingOffsets(indices)
	back := AbsoluteIndices(offsets)
	for i := range back {
		if back[i] != indices[i] {
			t.Fatal("offset encoding does not round-trip")
		}
	}
}

func TestDecoyBiasTowardRecent(t *testing.T) {
	// With a strongly triangular density, far more samples land in the top
	// half than the bottom half.
	const total = 1 << 20
	top := 0
	for i := 0; i < 2_000; i++ {
		if sampleTriangular(total) >= total/2 {
			top++
		}
	}
	if top < 1_300 { // expectation is 75%
		t.Fatalf("only %d/2000 samples in the recent half", top)
	}
}

func TestFeeEstimation(t *testing.T) {
	base := EstimateFee(1, 2, PriorityDefault)
	if base == 0 {
		t.Fatal("zero fee")
	}
	if EstimateFee(2, 2, PriorityDefault) <= base {
		t.Fatal("fee must grow with inputs")
	}
	if EstimateFee(1, 2, PriorityHigh) != base*166 {
		t.Fatal("priority multiplier mismatch")
	}
}
