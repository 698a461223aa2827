package keys

import (
	"encoding/binary"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// Subaddress returns the legacy subaddress key pair for (major, minor).
// (0,0) short-circuits to the main address keys.
func (k LegacyKeys) Subaddress(major, minor uint32) (spendPub, viewPub crypto.Point) {
	if major == 0 && minor == 0 {
		return k.SpendPub, k.ViewPub
	}

	m := crypto.HnLabel("SubAddr", k.ViewSecret[:], u32le(major), u32le(minor))
	mg := crypto.ScalarMultBase(m)
	d, err := crypto.PointAdd(k.SpendPub, mg)
	if err != nil {
		panic("keys: legacy subaddress: " + err.Error())
	}
	c, err := crypto.ScalarMult(k.ViewSecret, d)
	if err != nil {
		panic("keys: legacy subaddress view: " + err.Error())
	}
	return d, c
}

// SubaddressScalar returns the per-index scalar mixed into the account spend
// pubkey by the new scheme.
func (v CarrotViewKeys) SubaddressScalar(major, minor uint32) crypto.Scalar {
	gen := crypto.HsCarrot("carrot-index-ext", 32, v.GenerateAddress[:], u32le(major), u32le(minor))
	return crypto.HnCarrot("carrot-subaddress-scalar", gen, v.AccountSpendPub[:])
}

// Subaddress returns the new-scheme subaddress key pair for (major, minor).
// (0,0) short-circuits to the account keys. The view key multiplies with the
// clamped incoming scalar so the Edwards pair and the X25519 ladder agree on
// the shared secret.
func (v CarrotViewKeys) Subaddress(major, minor uint32) (spendPub, viewPub crypto.Point) {
	spend := v.AccountSpendPub
	if major != 0 || minor != 0 {
		s := v.SubaddressScalar(major, minor)
		var err error
		spend, err = crypto.ScalarMult(s, v.AccountSpendPub)
		if err != nil {
			panic("keys: carrot subaddress: " + err.Error())
		}
	}
	view, err := crypto.ScalarMult(v.ViewScalar(), spend)
	if err != nil {
		panic("keys: carrot subaddress view: " + err.Error())
	}
	return spend, view
}

// ViewScalar is the clamped form of ViewIncoming, the scalar actually used
// for ECDH on both curve forms.
func (v CarrotViewKeys) ViewScalar() crypto.Scalar {
	return crypto.Clamp([32]byte(v.ViewIncoming))
}

// DefaultMajorWindow and DefaultMinorWindow bound the precomputed
// subaddress lookup window.
const (
	DefaultMajorWindow = 50
	DefaultMinorWindow = 200
)

// SubaddressMap precomputes a window of subaddress spend publics so that
// per-output scanning is a single map lookup. Immutable after construction;
// safe to share by reference.
type SubaddressMap struct {
	byPub   map[crypto.Point]models.SubaddressIndex
	byIndex map[models.SubaddressIndex]crypto.Point
}

// Derive produces the spend public for one index; both schemes satisfy it.
type Derive func(major, minor uint32) crypto.Point

// LegacyDerive adapts LegacyKeys to the Derive shape.
func LegacyDerive(k LegacyKeys) Derive {
	return func(major, minor uint32) crypto.Point {
		spend, _ := k.Subaddress(major, minor)
		return spend
	}
}

// CarrotDerive adapts CarrotViewKeys to the Derive shape.
func CarrotDerive(v CarrotViewKeys) Derive {
	return func(major, minor uint32) crypto.Point {
		spend, _ := v.Subaddress(major, minor)
		return spend
	}
}

// NewSubaddressMap fills the window [0,majors)×[0,minors).
func NewSubaddressMap(derive Derive, majors, minors uint32) *SubaddressMap {
	m := &SubaddressMap{
		byPub:   make(map[crypto.Point]models.SubaddressIndex, majors*minors),
		byIndex: make(map[models.SubaddressIndex]crypto.Point, majors*minors),
	}
	for maj := uint32(0); maj < majors; maj++ {
		for min := uint32(0); min < minors; min++ {
			idx := models.SubaddressIndex{Major: maj, Minor: min}
			pub := derive(maj, min)
			m.byPub[pub] = idx
			m.byIndex[idx] = pub
		}
	}
	return m
}

// Lookup resolves a candidate spend public to its index.
func (m *SubaddressMap) Lookup(pub crypto.Point) (models.SubaddressIndex, bool) {
	idx, ok := m.byPub[pub]
	return idx, ok
}

// SpendPub returns the spend public for an index inside the window.
func (m *SubaddressMap) SpendPub(idx models.SubaddressIndex) (crypto.Point, bool) {
	p, ok := m.byIndex[idx]
	return p, ok
}

// Size reports the number of precomputed entries.
func (m *SubaddressMap) Size() int { return len(m.byIndex) }
