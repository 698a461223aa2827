package keys

import (
	"github.com/rawblock/veilwallet/internal/crypto"
)

// Seed is the 32-byte root of all key derivation. Generated once per wallet
// and kept only in memory unless the wallet explicitly serializes secrets.
type Seed [32]byte

// NewSeed draws a fresh random seed.
func NewSeed() Seed {
	s := crypto.RandomScalar()
	return Seed(s)
}

// LegacyKeys is the classic CryptoNote two-key wallet.
type LegacyKeys struct {
	SpendSecret crypto.Scalar
	ViewSecret  crypto.Scalar
	SpendPub    crypto.Point
	ViewPub     crypto.Point
}

// LegacyFromSeed derives the legacy key pair:
// spend = reduce(seed), view = reduce(keccak(spend)).
func LegacyFromSeed(seed Seed) LegacyKeys {
	spend := crypto.Reduce32([32]byte(seed))
	view := crypto.Reduce32(crypto.Keccak256(spend[:]))
	return LegacyKeys{
		SpendSecret: spend,
		ViewSecret:  view,
		SpendPub:    crypto.ScalarMultBase(spend),
		ViewPub:     crypto.ScalarMultBase(view),
	}
}

// CarrotKeys is the new scheme's five-key hierarchy, rooted in the legacy
// spend secret. Two view tiers fall out of it: the balance tier (ViewBalance
// and everything below) reveals all owned outputs including change; the
// incoming tier (ViewIncoming alone) reveals only payments to you.
type CarrotKeys struct {
	ProveSpend crypto.Scalar // authorizes spends
	CarrotViewKeys
}

// CarrotViewKeys is the balance-tier subset, derivable without the master.
type CarrotViewKeys struct {
	ViewBalance     [32]byte      // reveals all owned outputs and amounts
	ViewIncoming    crypto.Scalar // detects incoming outputs
	GenerateImage   crypto.Scalar // derives key images
	GenerateAddress [32]byte      // derives subaddress scalars
	AccountSpendPub crypto.Point
}

// CarrotFromMaster derives the full hierarchy from the master secret
// (the legacy spend secret).
func CarrotFromMaster(master crypto.Scalar) CarrotKeys {
	vb32 := [32]byte{}
	copy(vb32[:], crypto.HsCarrot("view-balance", 32, master[:]))

	prove := crypto.HnCarrot("prove-spend", master[:])

	view := carrotViewFromBalance(vb32, prove)
	return CarrotKeys{ProveSpend: prove, CarrotViewKeys: view}
}

// CarrotViewFromBalance rebuilds the balance tier from the view-balance
// secret plus the (public) account spend key.
func CarrotViewFromBalance(viewBalance [32]byte, accountSpendPub crypto.Point) CarrotViewKeys {
	v := carrotViewParts(viewBalance)
	v.AccountSpendPub = accountSpendPub
	return v
}

func carrotViewFromBalance(viewBalance [32]byte, prove crypto.Scalar) CarrotViewKeys {
	v := carrotViewParts(viewBalance)

	// account_spend_pub = generate_image·G + prove_spend·T
	gi := crypto.ScalarMultBase(v.GenerateImage)
	pt, err := crypto.ScalarMult(prove, crypto.GeneratorT())
	if err != nil {
		panic("keys: generator T rejected: " + err.Error())
	}
	v.AccountSpendPub, err = crypto.PointAdd(gi, pt)
	if err != nil {
		panic("keys: account spend pubkey: " + err.Error())
	}
	return v
}

func carrotViewParts(viewBalance [32]byte) CarrotViewKeys {
	v := CarrotViewKeys{ViewBalance: viewBalance}
	v.ViewIncoming = crypto.HnCarrot("incoming-view", viewBalance[:])
	v.GenerateImage = crypto.HnCarrot("generate-image", viewBalance[:])
	copy(v.GenerateAddress[:], crypto.HsCarrot("generate-address", 32, viewBalance[:]))
	return v
}

// IncomingViewPub is the X25519 public key a sender ECDHs against.
func (v CarrotViewKeys) IncomingViewPub() crypto.MontgomeryPoint {
	pub, err := crypto.X25519([32]byte(v.ViewIncoming), crypto.MontgomeryBase())
	if err != nil {
		panic("keys: incoming view key maps to a low-order point")
	}
	return pub
}
