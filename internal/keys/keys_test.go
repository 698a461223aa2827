package keys

import (
	"testing"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

func TestLegacyFromSeedInvariants(t *testing.T) {
	var seed Seed // all-zero seed, the S1 fixture
	k := LegacyFromSeed(seed)

	if !k.SpendSecret.IsCanonical() || !k.ViewSecret.IsCanonical() {
		t.Fatal("derived secrets must be canonical")
	}
	if k.SpendPub != crypto.ScalarMultBase(k.SpendSecret) {
		t.Error("spend_public != spend_secret·G")
	}
	if k.ViewPub != crypto.ScalarMultBase(k.ViewSecret) {
		t.Error("view_public != view_secret·G")
	}

	// Determinism: same seed, same keys.
	if k2 := LegacyFromSeed(seed); k2 != k {
		t.Error("derivation is not deterministic")
	}
	// A different seed gives different keys.
	if k3 := LegacyFromSeed(Seed{1}); k3.SpendPub == k.SpendPub {
		t.Error("distinct seeds collided")
	}
}

func TestCarrotHierarchy(t *testing.T) {
	master := crypto.HnLabel("carrot-test-master")
	c := CarrotFromMaster(master)

	// account_spend_pub = generate_image·G + prove_spend·T
	gi := crypto.ScalarMultBase(c.GenerateImage)
	pt, err := crypto.ScalarMult(c.ProveSpend, crypto.GeneratorT())
	if err != nil {
		t.Fatal(err)
	}
	want, err := crypto.PointAdd(gi, pt)
	if err != nil {
		t.Fatal(err)
	}
	if c.AccountSpendPub != want {
		t.Fatal("account spend pubkey does not mix G and T parts")
	}

	// The balance tier alone reconstructs everything but ProveSpend.
	view := CarrotViewFromBalance(c.ViewBalance, c.AccountSpendPub)
	if view.ViewIncoming != c.ViewIncoming ||
		view.GenerateImage != c.GenerateImage ||
		view.GenerateAddress != c.GenerateAddress {
		t.Fatal("balance tier does not rebuild the view keys")
	}

	// Spot check: prove-spend, view-incoming and generate-image do not collide.
	if c.ProveSpend == c.ViewIncoming || c.ViewIncoming == c.GenerateImage {
		t.Fatal("hierarchy keys collided")
	}
}

func TestLegacySubaddress(t *testing.T) {
	k := LegacyFromSeed(Seed{42})

	mainSpend, mainView := k.Subaddress(0, 0)
	if mainSpend != k.SpendPub || mainView != k.ViewPub {
		t.Fatal("(0,0) must be the main address")
	}

	s01, _ := k.Subaddress(0, 1)
	s10, _ := k.Subaddress(1, 0)
	if s01 == mainSpend || s10 == mainSpend || s01 == s10 {
		t.Fatal("subaddress spend keys must be distinct")
	}

	// D = spend_pub + m·G, C = view_sec·D
	spend, view := k.Subaddress(3, 7)
	wantView, err := crypto.ScalarMult(k.ViewSecret, spend)
	if err != nil {
		t.Fatal(err)
	}
	if view != wantView {
		t.Fatal("subaddress view key is not view_sec·D")
	}
}

func TestCarrotSubaddress(t *testing.T) {
	c := CarrotFromMaster(crypto.HnLabel("carrot-sub-test"))

	mainSpend, _ := c.Subaddress(0, 0)
	if mainSpend != c.AccountSpendPub {
		t.Fatal("(0,0) must be the account spend pubkey")
	}

	spend, view := c.Subaddress(2, 5)
	s := c.SubaddressScalar(2, 5)
	wantSpend, err := crypto.ScalarMult(s, c.AccountSpendPub)
	if err != nil {
		t.Fatal(err)
	}
	if spend != wantSpend {
		t.Fatal("K_spend^sub != s_index·account_spend_pub")
	}
	wantView, err := crypto.ScalarMult(c.ViewScalar(), spend)
	if err != nil {
		t.Fatal(err)
	}
	if view != wantView {
		t.Fatal("K_view^sub != view_incoming·K_spend^sub")
	}
}

func TestSubaddressMapLookup(t *testing.T) {
	k := LegacyFromSeed(Seed{7})
	m := NewSubaddressMap(LegacyDerive(k), 4, 8)

	if m.Size() != 32 {
		t.Fatalf("window size = %d, want 32", m.Size())
	}

	spend, _ := k.Subaddress(2, 3)
	idx, ok := m.Lookup(spend)
	if !ok {
		t.Fatal("precomputed subaddress not found")
	}
	if idx != (models.SubaddressIndex{Major: 2, Minor: 3}) {
		t.Fatalf("wrong index %+v", idx)
	}

	outside, _ := k.Subaddress(9, 9)
	if _, ok := m.Lookup(outside); ok {
		t.Fatal("index outside the window must miss")
	}

	pub, ok := m.SpendPub(models.SubaddressIndex{Major: 0, Minor: 0})
	if !ok || pub != k.SpendPub {
		t.Fatal("(0,0) entry must map to the main spend pub")
	}
}

func TestMnemonicRoundTrip(t *testing.T) {
	seeds := []Seed{{}, {0xff}, {1, 2, 3, 4}}
	for _, seed := range seeds {
		phrase, err := SeedToMnemonic(seed)
		if err != nil {
			t.Fatal(err)
		}
		back, err := SeedFromMnemonic(phrase)
		if err != nil {
			t.Fatal(err)
		}
		if back != seed {
			t.Fatalf("seed %x did not round-trip", seed)
		}
	}

	if _, err := SeedFromMnemonic("not a real phrase"); err == nil {
		t.Fatal("junk phrase accepted")
	}
}
