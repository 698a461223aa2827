package db

import (
	"bytes"
	"context"
	"testing"

	"github.com/rawblock/veilwallet/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func testOutput(ki byte, height uint64, amount uint64) models.OwnedOutput {
	var o models.OwnedOutput
	o.KeyImage[0] = ki
	o.TxID[0] = ki
	o.BlockHeight = height
	o.Amount = amount
	o.AssetType = "SAL"
	return o
}

func TestMemoryStorePutGetIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	o := testOutput(1, 100, 5_000)
	if err := s.PutOutput(ctx, o); err != nil {
		t.Fatal(err)
	}

	// Second put with the same key image updates mutable fields only.
	update := o
	update.Amount = 999_999 // identity field; must not change
	update.IsSpent = true
	update.SpentHeight = 150
	update.SpentTxID[0] = 9
	if err := s.PutOutput(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetOutput(ctx, o.KeyImage)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("output vanished")
	}
	if got.Amount != 5_000 {
		t.Errorf("identity field mutated: amount %d", got.Amount)
	}
	if !got.IsSpent || got.SpentHeight != 150 || got.SpentTxID[0] != 9 {
		t.Errorf("mutable fields not updated: %+v", got)
	}

	spent, err := s.HasSpentKeyImage(ctx, o.KeyImage)
	if err != nil || !spent {
		t.Fatalf("spent set not updated: %v %v", spent, err)
	}
}

func TestMemoryStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := testOutput(1, 100, 1_000)
	b := testOutput(2, 200, 50_000)
	b.Subaddress = models.SubaddressIndex{Major: 1, Minor: 2}
	c := testOutput(3, 300, 70_000)
	c.IsFrozen = true
	for _, o := range []models.OwnedOutput{a, b, c} {
		if err := s.PutOutput(ctx, o); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkOutputSpent(ctx, a.KeyImage, [32]byte{0xaa}, 250); err != nil {
		t.Fatal(err)
	}

	unspent, err := s.GetOutputs(ctx, models.OutputFilter{IsSpent: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	if len(unspent) != 2 {
		t.Fatalf("unspent = %d, want 2", len(unspent))
	}

	frozen, err := s.GetOutputs(ctx, models.OutputFilter{IsFrozen: boolPtr(true)})
	if err != nil || len(frozen) != 1 || frozen[0].KeyImage[0] != 3 {
		t.Fatalf("frozen filter: %v %v", frozen, err)
	}

	major := uint32(1)
	byAccount, err := s.GetOutputs(ctx, models.OutputFilter{AccountIndex: &major})
	if err != nil || len(byAccount) != 1 || byAccount[0].KeyImage[0] != 2 {
		t.Fatalf("account filter: %v %v", byAccount, err)
	}

	byAmount, err := s.GetOutputs(ctx, models.OutputFilter{MinAmount: 40_000, MaxAmount: 60_000})
	if err != nil || len(byAmount) != 1 || byAmount[0].Amount != 50_000 {
		t.Fatalf("amount filter: %v %v", byAmount, err)
	}
}

func TestMemoryStoreReorgRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	low := testOutput(1, 900, 10)
	high := testOutput(2, 999, 20)
	if err := s.PutOutput(ctx, low); err != nil {
		t.Fatal(err)
	}
	if err := s.PutOutput(ctx, high); err != nil {
		t.Fatal(err)
	}
	// low got spent on the doomed branch.
	if err := s.MarkOutputSpent(ctx, low.KeyImage, [32]byte{7}, 999); err != nil {
		t.Fatal(err)
	}
	if err := s.PutTransaction(ctx, models.WalletTransaction{TxID: [32]byte{5}, BlockHeight: 999}); err != nil {
		t.Fatal(err)
	}
	for h := uint64(995); h <= 1000; h++ {
		if err := s.PutBlockHash(ctx, h, [32]byte{byte(h)}); err != nil {
			t.Fatal(err)
		}
	}

	const ancestor = 997
	if err := s.DeleteOutputsAbove(ctx, ancestor); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTransactionsAbove(ctx, ancestor); err != nil {
		t.Fatal(err)
	}
	if err := s.UnspendOutputsAbove(ctx, ancestor); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBlockHashesAbove(ctx, ancestor); err != nil {
		t.Fatal(err)
	}

	if got, _ := s.GetOutput(ctx, high.KeyImage); got != nil {
		t.Error("output above the ancestor survived rollback")
	}
	got, _ := s.GetOutput(ctx, low.KeyImage)
	if got == nil || got.IsSpent || got.SpentHeight != 0 {
		t.Errorf("spend above the ancestor not reverted: %+v", got)
	}
	if rec, _ := s.GetTransaction(ctx, [32]byte{5}); rec != nil {
		t.Error("transaction above the ancestor survived rollback")
	}
	if h, _ := s.GetBlockHash(ctx, 999); h != nil {
		t.Error("block hash above the ancestor survived rollback")
	}
	if h, _ := s.GetBlockHash(ctx, 996); h == nil {
		t.Error("block hash below the ancestor was dropped")
	}
}

func TestBlockHashRingBuffer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for h := uint64(0); h <= BlockHashWindow+5; h++ {
		if err := s.PutBlockHash(ctx, h, [32]byte{byte(h)}); err != nil {
			t.Fatal(err)
		}
	}
	if h, _ := s.GetBlockHash(ctx, 3); h != nil {
		t.Error("hash older than the window must be evicted")
	}
	if h, _ := s.GetBlockHash(ctx, BlockHashWindow+5); h == nil {
		t.Error("most recent hash missing")
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.PutOutput(ctx, testOutput(1, 10, 111)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutTransaction(ctx, models.WalletTransaction{TxID: [32]byte{2}, BlockHeight: 10, AmountIn: 111}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutBlockHash(ctx, 10, [32]byte{0xbb}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncHeight(ctx, 11); err != nil {
		t.Fatal(err)
	}

	blob, err := s.Dump(ctx)
	if err != nil {
		t.Fatal(err)
	}

	restored := NewMemoryStore()
	if err := restored.Load(ctx, blob); err != nil {
		t.Fatal(err)
	}

	if got, _ := restored.GetOutput(ctx, [32]byte{1}); got == nil || got.Amount != 111 {
		t.Error("output lost in dump/load")
	}
	if rec, _ := restored.GetTransaction(ctx, [32]byte{2}); rec == nil || rec.AmountIn != 111 {
		t.Error("transaction lost in dump/load")
	}
	if h, _ := restored.GetBlockHash(ctx, 10); h == nil || h[0] != 0xbb {
		t.Error("block hash lost in dump/load")
	}
	if h, _ := restored.SyncHeight(ctx); h != 11 {
		t.Errorf("sync height %d, want 11", h)
	}
}

func TestEncryptedSnapshotRoundTrip(t *testing.T) {
	key := SnapshotKey([32]byte{1, 2, 3})
	plain := []byte(`{"outputs":null}`)

	sealed, err := EncryptSnapshot(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := DecryptSnapshot(key, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("decrypt mismatch")
	}

	wrong := SnapshotKey([32]byte{9})
	if _, err := DecryptSnapshot(wrong, sealed); err == nil {
		t.Fatal("wrong key accepted")
	}

	sealed[len(sealed)-1] ^= 1
	if _, err := DecryptSnapshot(key, sealed); err == nil {
		t.Fatal("tampered snapshot accepted")
	}
}

func TestBadgerStoreBasics(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	o := testOutput(1, 50, 777)
	if err := s.PutOutput(ctx, o); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetOutput(ctx, o.KeyImage)
	if err != nil || got == nil || got.Amount != 777 {
		t.Fatalf("badger get: %+v %v", got, err)
	}

	if err := s.MarkOutputSpent(ctx, o.KeyImage, [32]byte{3}, 60); err != nil {
		t.Fatal(err)
	}
	spent, err := s.HasSpentKeyImage(ctx, o.KeyImage)
	if err != nil || !spent {
		t.Fatalf("badger spent: %v %v", spent, err)
	}

	if err := s.UnspendOutputsAbove(ctx, 55); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetOutput(ctx, o.KeyImage)
	if got.IsSpent {
		t.Fatal("badger unspend did not revert")
	}

	if err := s.SetSyncHeight(ctx, 61); err != nil {
		t.Fatal(err)
	}
	if h, _ := s.SyncHeight(ctx); h != 61 {
		t.Fatalf("badger sync height %d", h)
	}
}
