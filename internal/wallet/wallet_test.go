package wallet

import (
	"context"
	"testing"

	"github.com/rawblock/veilwallet/internal/address"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/keys"
	"github.com/rawblock/veilwallet/pkg/models"
)

func testWallet(t *testing.T, seed keys.Seed) (*Wallet, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	w := Open(seed, store, nil, nil, Config{
		Network:     models.Mainnet,
		MajorWindow: 2,
		MinorWindow: 4,
	})
	return w, store
}

func TestZeroSeedAddressRoundTrip(t *testing.T) {
	// All-zero seed: the canonical known-answer wallet.
	w, _ := testWallet(t, keys.Seed{})

	encoded, err := w.PrimaryAddress()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := address.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse(%q): %v", encoded, err)
	}
	if parsed.Network != models.Mainnet || parsed.Scheme != models.SchemeLegacy || parsed.Kind != models.KindStandard {
		t.Fatalf("parsed %s/%s/%s", parsed.Network, parsed.Scheme, parsed.Kind)
	}

	derived := keys.LegacyFromSeed(keys.Seed{})
	if parsed.SpendPub != derived.SpendPub || parsed.ViewPub != derived.ViewPub {
		t.Fatal("address keys do not match the derivation")
	}

	// Subaddress (0,1): kind changes, spend public differs.
	subEnc, err := w.SubaddressAt(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := address.Parse(subEnc)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Kind != models.KindSubaddress {
		t.Fatalf("subaddress kind %s", sub.Kind)
	}
	if sub.SpendPub == parsed.SpendPub {
		t.Fatal("subaddress spend public equals the main address")
	}

	// (0,0) short-circuits back to the standard kind.
	mainEnc, err := w.SubaddressAt(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if mainEnc != encoded {
		t.Fatal("(0,0) is not the primary address")
	}
}

func TestCarrotAddress(t *testing.T) {
	w, _ := testWallet(t, keys.Seed{3})
	enc, err := w.CarrotAddress()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := address.Parse(enc)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Scheme != models.SchemeNew || parsed.Kind != models.KindStandard {
		t.Fatalf("parsed %s/%s", parsed.Scheme, parsed.Kind)
	}
}

func TestBalance(t *testing.T) {
	w, store := testWallet(t, keys.Seed{4})
	ctx := context.Background()

	if err := store.SetSyncHeight(ctx, 1000); err != nil {
		t.Fatal(err)
	}

	unlockedOut := models.OwnedOutput{KeyImage: [32]byte{1}, Amount: 700, AssetType: "SAL", BlockHeight: 100}
	lockedOut := models.OwnedOutput{KeyImage: [32]byte{2}, Amount: 300, AssetType: "SAL", BlockHeight: 998}
	spentOut := models.OwnedOutput{KeyImage: [32]byte{3}, Amount: 900, AssetType: "SAL", BlockHeight: 100, IsSpent: true, SpentTxID: [32]byte{9}, SpentHeight: 500}
	otherAsset := models.OwnedOutput{KeyImage: [32]byte{4}, Amount: 50, AssetType: "VSD", BlockHeight: 100}
	for _, o := range []models.OwnedOutput{unlockedOut, lockedOut, spentOut, otherAsset} {
		if err := store.PutOutput(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	total, unlocked, err := w.Balance(ctx, "SAL")
	if err != nil {
		t.Fatal(err)
	}
	if total != 1000 {
		t.Errorf("total %d, want 1000", total)
	}
	if unlocked != 700 {
		t.Errorf("unlocked %d, want 700", unlocked)
	}

	vsdTotal, _, err := w.Balance(ctx, "VSD")
	if err != nil {
		t.Fatal(err)
	}
	if vsdTotal != 50 {
		t.Errorf("VSD total %d", vsdTotal)
	}
}

func TestExportImportEncrypted(t *testing.T) {
	w, store := testWallet(t, keys.Seed{5})
	ctx := context.Background()

	if err := store.PutOutput(ctx, models.OwnedOutput{KeyImage: [32]byte{7}, Amount: 123, AssetType: "SAL"}); err != nil {
		t.Fatal(err)
	}
	sealed, err := w.ExportEncrypted(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A wallet with the same seed (same view-balance key) can restore it.
	w2, store2 := testWallet(t, keys.Seed{5})
	if err := w2.ImportEncrypted(ctx, sealed); err != nil {
		t.Fatal(err)
	}
	got, err := store2.GetOutput(ctx, [32]byte{7})
	if err != nil || got == nil || got.Amount != 123 {
		t.Fatalf("restore: %+v %v", got, err)
	}

	// A different seed cannot.
	w3, _ := testWallet(t, keys.Seed{6})
	if err := w3.ImportEncrypted(ctx, sealed); err == nil {
		t.Fatal("foreign wallet decrypted the snapshot")
	}
}
