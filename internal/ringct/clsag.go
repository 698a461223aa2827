package ringct

import (
	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// RingMember is one (destination key, commitment) pair of a ring.
type RingMember struct {
	Dest       crypto.Point
	Commitment crypto.Point
}

// Clsag is a concise linkable spontaneous anonymous group signature over a
// ring of (key, commitment) pairs: it proves knowledge of the secret for one
// member and that that member's commitment minus the pseudo-output commits
// to zero, without revealing which member.
type Clsag struct {
	C1 crypto.Scalar
	S  []crypto.Scalar
	D  crypto.Point // z·Hp(P_π), the commitment key image
	I  crypto.Point // x·Hp(P_π), the linkable key image
}

// KeyImage derives the linkable key image x·Hp(P) for a one-time key pair.
func KeyImage(x crypto.Scalar, pub crypto.Point) crypto.Point {
	hp := crypto.HashToPoint(pub[:])
	img, err := crypto.ScalarMult(x, hp)
	if err != nil {
		panic("ringct: hash-to-point output rejected: " + err.Error())
	}
	return img
}

func clsagAgg(label string, ring []RingMember, img, d, pseudo crypto.Point) crypto.Scalar {
	parts := make([][]byte, 0, 2*len(ring)+3)
	for i := range ring {
		parts = append(parts, ring[i].Dest[:])
	}
	for i := range ring {
		parts = append(parts, ring[i].Commitment[:])
	}
	parts = append(parts, img[:], d[:], pseudo[:])
	return crypto.HnLabel(label, parts...)
}

func clsagRound(ring []RingMember, pseudo crypto.Point, message [32]byte, l, r crypto.Point) crypto.Scalar {
	parts := make([][]byte, 0, 2*len(ring)+4)
	for i := range ring {
		parts = append(parts, ring[i].Dest[:])
	}
	for i := range ring {
		parts = append(parts, ring[i].Commitment[:])
	}
	parts = append(parts, pseudo[:], message[:], l[:], r[:])
	return crypto.HnLabel("CLSAG_round", parts...)
}

// SignClsag signs message over the ring. x is the one-time secret for
// ring[realIndex].Dest, z the commitment-difference secret such that
// ring[realIndex].Commitment − pseudoOut = z·G. With duplicate ring entries
// the signer commits to the exact position realIndex, not any equal member.
func SignClsag(message [32]byte, ring []RingMember, realIndex int,
	x, z crypto.Scalar, pseudoOut crypto.Point) (*Clsag, error) {

	n := len(ring)
	if n == 0 || realIndex < 0 || realIndex >= n {
		return nil, models.Errorf(models.ErrInternal, "clsag: real index %d outside ring of %d", realIndex, n)
	}

	// The secrets must open the exact member at realIndex.
	if crypto.ScalarMultBase(x) != ring[realIndex].Dest {
		return nil, models.Errorf(models.ErrCryptoVerification, "clsag: secret does not open ring member %d", realIndex)
	}
	diff, err := crypto.PointSub(ring[realIndex].Commitment, pseudoOut)
	if err != nil {
		return nil, err
	}
	if crypto.ScalarMultBase(z) != diff {
		return nil, models.Errorf(models.ErrCryptoVerification, "clsag: mask does not open commitment %d", realIndex)
	}

	hpReal := crypto.HashToPoint(ring[realIndex].Dest[:])
	img, err := crypto.ScalarMult(x, hpReal)
	if err != nil {
		return nil, err
	}
	d, err := crypto.ScalarMult(z, hpReal)
	if err != nil {
		return nil, err
	}

	muP := clsagAgg("CLSAG_agg_0", ring, img, d, pseudoOut)
	muC := clsagAgg("CLSAG_agg_1", ring, img, d, pseudoOut)

	sig := &Clsag{S: make([]crypto.Scalar, n), I: img, D: d}

	alpha := crypto.RandomScalar()
	l := crypto.ScalarMultBase(alpha)
	r, err := crypto.ScalarMult(alpha, hpReal)
	if err != nil {
		return nil, err
	}

	c := clsagRound(ring, pseudoOut, message, l, r) // c_{π+1}
	if realIndex == n-1 {
		sig.C1 = c
	}

	// Combined per-member aggregates W_i = μP·P_i + μC·(C_i − pseudo) and
	// the fixed image part μP·I + μC·D.
	imgAgg, err := clsagCombine(muP, img, muC, d)
	if err != nil {
		return nil, err
	}

	for off := 1; off < n; off++ {
		i := (realIndex + off) % n
		sig.S[i] = crypto.RandomScalar()

		wi, err := clsagMemberAgg(muP, muC, ring[i], pseudoOut)
		if err != nil {
			return nil, err
		}
		// L = s_i·G + c·W_i
		li, err := crypto.DoubleScalarMultBase(c, wi, sig.S[i])
		if err != nil {
			return nil, err
		}
		// R = s_i·Hp(P_i) + c·(μP·I + μC·D)
		hpi := crypto.HashToPoint(ring[i].Dest[:])
		sHp, err := crypto.ScalarMult(sig.S[i], hpi)
		if err != nil {
			return nil, err
		}
		cAgg, err := crypto.ScalarMult(c, imgAgg)
		if err != nil {
			return nil, err
		}
		ri, err := crypto.PointAdd(sHp, cAgg)
		if err != nil {
			return nil, err
		}

		c = clsagRound(ring, pseudoOut, message, li, ri)
		if i == n-1 {
			sig.C1 = c
		}
	}

	// Close the chain: s_π = α − c_π·(μP·x + μC·z).
	cp := c // challenge at the real index
	w := crypto.ScAdd(crypto.ScMul(muP, x), crypto.ScMul(muC, z))
	sig.S[realIndex] = crypto.ScSub(alpha, crypto.ScMul(cp, w))
	return sig, nil
}

func clsagCombine(a crypto.Scalar, p crypto.Point, b crypto.Scalar, q crypto.Point) (crypto.Point, error) {
	ap, err := crypto.ScalarMult(a, p)
	if err != nil {
		return crypto.Point{}, err
	}
	bq, err := crypto.ScalarMult(b, q)
	if err != nil {
		return crypto.Point{}, err
	}
	return crypto.PointAdd(ap, bq)
}

func clsagMemberAgg(muP, muC crypto.Scalar, m RingMember, pseudo crypto.Point) (crypto.Point, error) {
	diff, err := crypto.PointSub(m.Commitment, pseudo)
	if err != nil {
		return crypto.Point{}, err
	}
	return clsagCombine(muP, m.Dest, muC, diff)
}

// VerifyClsag recomputes the challenge chain and checks closure back to C1.
func VerifyClsag(sig *Clsag, message [32]byte, ring []RingMember, pseudoOut crypto.Point) error {
	n := len(ring)
	if n == 0 || len(sig.S) != n {
		return models.Errorf(models.ErrCryptoVerification, "clsag: ring/response size mismatch")
	}
	if crypto.IsIdentity(sig.I) {
		return models.Errorf(models.ErrCryptoVerification, "clsag: identity key image")
	}
	if !crypto.OnMainSubgroup(sig.I) {
		return models.Errorf(models.ErrCryptoVerification, "clsag: key image off the main subgroup")
	}

	muP := clsagAgg("CLSAG_agg_0", ring, sig.I, sig.D, pseudoOut)
	muC := clsagAgg("CLSAG_agg_1", ring, sig.I, sig.D, pseudoOut)

	imgAgg, err := clsagCombine(muP, sig.I, muC, sig.D)
	if err != nil {
		return err
	}

	c := sig.C1
	for i := 0; i < n; i++ {
		wi, err := clsagMemberAgg(muP, muC, ring[i], pseudoOut)
		if err != nil {
			return err
		}
		li, err := crypto.DoubleScalarMultBase(c, wi, sig.S[i])
		if err != nil {
			return err
		}
		hpi := crypto.HashToPoint(ring[i].Dest[:])
		sHp, err := crypto.ScalarMult(sig.S[i], hpi)
		if err != nil {
			return err
		}
		cAgg, err := crypto.ScalarMult(c, imgAgg)
		if err != nil {
			return err
		}
		ri, err := crypto.PointAdd(sHp, cAgg)
		if err != nil {
			return err
		}
		c = clsagRound(ring, pseudoOut, message, li, ri)
	}

	if c != sig.C1 {
		return models.Errorf(models.ErrCryptoVerification, "clsag: challenge chain does not close")
	}
	return nil
}
