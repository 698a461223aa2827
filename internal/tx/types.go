package tx

import (
	"encoding/hex"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Hash is a plain 32-byte chain hash, printed forward (no byte reversal).
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// HashFromHex parses a 64-character hex hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return h, models.Errorf(models.ErrInvalidEncoding, "bad hash hex %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// Size and structure bounds enforced by the codec.
const (
	MaxTxSize    = 1_000_000
	MaxExtraSize = 1060
)

// Input tags on the wire.
const (
	inputTagCoinbase = 0xff
	inputTagKey      = 0x02
)

// Output target tags on the wire.
const (
	outputTagKey       = 0x02
	outputTagTaggedKey = 0x03
	outputTagCarrotV1  = 0x04
)

// RctType values across the chain's hard-fork history.
const (
	RctTypeNull            byte = 0
	RctTypeFull            byte = 1
	RctTypeSimple          byte = 2
	RctTypeFullProofs      byte = 3
	RctTypeCLSAG           byte = 5
	RctTypeBulletproofPlus byte = 6
	RctTypeSalviumZero     byte = 7
	RctTypeSalviumOne      byte = 8
)

// Input is either a coinbase mint or a ring spend.
type Input interface{ isInput() }

// InputCoinbase mints the block reward at a height.
type InputCoinbase struct {
	Height uint64
}

// InputKey spends one of the ring members identified by cumulative offsets.
type InputKey struct {
	Amount      uint64
	RingOffsets []uint64 // first absolute, rest positive deltas
	KeyImage    crypto.Point
}

func (InputCoinbase) isInput() {}
func (InputKey) isInput()      {}

// OutputTarget is the destination variant of an output.
type OutputTarget interface{ isTarget() }

// TargetKey is the pre-view-tag stealth output.
type TargetKey struct {
	Key crypto.Point
}

// TargetTaggedKey carries a 1-byte view tag.
type TargetTaggedKey struct {
	Key     crypto.Point
	ViewTag byte
}

// TargetCarrotV1 carries a 3-byte view tag and an encrypted anchor.
type TargetCarrotV1 struct {
	Key             crypto.Point
	ViewTag         [3]byte
	EncryptedAnchor [16]byte
}

func (TargetKey) isTarget()       {}
func (TargetTaggedKey) isTarget() {}
func (TargetCarrotV1) isTarget()  {}

// Output pairs a clear amount (0 under RingCT) with its target.
type Output struct {
	Amount uint64
	Target OutputTarget
}

// Prefix is the unsigned transaction body.
type Prefix struct {
	Version    uint64
	UnlockTime uint64

	// Present when Version >= 4.
	TxType      models.TxType
	SourceAsset string
	DestAsset   string
	AmountBurnt uint64

	Inputs  []Input
	Outputs []Output
	Extra   []byte
}

// BorromeanRange is the pre-bulletproof range proof, carried opaque:
// parse/emit are byte-exact, verification is out of scope.
type BorromeanRange struct {
	S0 [64][32]byte
	S1 [64][32]byte
	EE [32]byte
	Ci [64][32]byte
}

// Bulletproof is the original (non-plus) proof, carried for rct type 5
// transactions. Parse/emit only.
type Bulletproof struct {
	A, S, T1, T2 crypto.Point
	Taux, Mu     crypto.Scalar
	L, R         []crypto.Point
	Aa, Bb, Tt   crypto.Scalar
}

// RctSignatures is the confidential section of a v2+ transaction.
type RctSignatures struct {
	RctType byte
	TxFee   uint64

	EcdhInfo       [][8]byte      // encrypted amount per output
	OutCommitments []crypto.Point // per output

	// Prunable members; presence depends on RctType.
	PseudoOuts       []crypto.Point
	BulletproofsPlus []*ringct.BulletproofPlus
	Bulletproofs     []*Bulletproof
	BorromeanRanges  []*BorromeanRange
	Clsags           []*ringct.Clsag
	TwinClsags       []*ringct.TwinClsag // SalviumOne rings over G and T
	Mlsags           []*ringct.Mlsag
}

// Transaction is a full parsed transaction.
type Transaction struct {
	Prefix Prefix
	Rct    *RctSignatures // nil for version 1
}

// usesClsag reports whether the rct type carries CLSAG ring signatures.
func usesClsag(rctType byte) bool {
	switch rctType {
	case RctTypeCLSAG, RctTypeBulletproofPlus, RctTypeSalviumZero, RctTypeSalviumOne:
		return true
	}
	return false
}

// usesBulletproofPlus reports whether the rct type carries BP+ range proofs.
func usesBulletproofPlus(rctType byte) bool {
	switch rctType {
	case RctTypeBulletproofPlus, RctTypeSalviumZero, RctTypeSalviumOne:
		return true
	}
	return false
}
