package ringct

import (
	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// TwinClsag extends CLSAG to one-time keys of the form P = x·G + t·T, the
// shape produced by the new address scheme (the account spend key carries a
// T component). A second response vector covers the T part; linkability
// still keys off the G-part secret only, so key images stay compatible with
// the chain's spent set.
type TwinClsag struct {
	C1 crypto.Scalar
	S  []crypto.Scalar // G responses
	U  []crypto.Scalar // T responses
	D  crypto.Point
	I  crypto.Point
}

func twinRound(ring []RingMember, pseudo crypto.Point, message [32]byte, l, r crypto.Point) crypto.Scalar {
	parts := make([][]byte, 0, 2*len(ring)+4)
	for i := range ring {
		parts = append(parts, ring[i].Dest[:])
	}
	for i := range ring {
		parts = append(parts, ring[i].Commitment[:])
	}
	parts = append(parts, pseudo[:], message[:], l[:], r[:])
	return crypto.HnLabel("CLSAG_twin_round", parts...)
}

// SignTwinClsag signs with secrets (x, t, z) where ring[realIndex].Dest =
// x·G + t·T and ring[realIndex].Commitment − pseudoOut = z·G.
func SignTwinClsag(message [32]byte, ring []RingMember, realIndex int,
	x, t, z crypto.Scalar, pseudoOut crypto.Point) (*TwinClsag, error) {

	n := len(ring)
	if n == 0 || realIndex < 0 || realIndex >= n {
		return nil, models.Errorf(models.ErrInternal, "twin clsag: real index %d outside ring of %d", realIndex, n)
	}

	xg := crypto.ScalarMultBase(x)
	tt, err := crypto.ScalarMult(t, crypto.GeneratorT())
	if err != nil {
		return nil, err
	}
	open, err := crypto.PointAdd(xg, tt)
	if err != nil {
		return nil, err
	}
	if open != ring[realIndex].Dest {
		return nil, models.Errorf(models.ErrCryptoVerification, "twin clsag: secrets do not open ring member %d", realIndex)
	}
	diff, err := crypto.PointSub(ring[realIndex].Commitment, pseudoOut)
	if err != nil {
		return nil, err
	}
	if crypto.ScalarMultBase(z) != diff {
		return nil, models.Errorf(models.ErrCryptoVerification, "twin clsag: mask does not open commitment %d", realIndex)
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

	muP := clsagAgg("CLSAG_twin_agg_0", ring, img, d, pseudoOut)
	muC := clsagAgg("CLSAG_twin_agg_1", ring, img, d, pseudoOut)

	sig := &TwinClsag{S: make([]crypto.Scalar, n), U: make([]crypto.Scalar, n), I: img, D: d}

	alpha := crypto.RandomScalar()
	beta := crypto.RandomScalar()
	ag := crypto.ScalarMultBase(alpha)
	bt, err := crypto.ScalarMult(beta, crypto.GeneratorT())
	if err != nil {
		return nil, err
	}
	l, err := crypto.PointAdd(ag, bt)
	if err != nil {
		return nil, err
	}
	r, err := crypto.ScalarMult(alpha, hpReal)
	if err != nil {
		return nil, err
	}

	c := twinRound(ring, pseudoOut, message, l, r)
	if realIndex == n-1 {
		sig.C1 = c
	}

	imgAgg, err := clsagCombine(muP, img, muC, d)
	if err != nil {
		return nil, err
	}

	for off := 1; off < n; off++ {
		i := (realIndex + off) % n
		sig.S[i] = crypto.RandomScalar()
		sig.U[i] = crypto.RandomScalar()

		li, ri, err := twinMemberPoints(sig.S[i], sig.U[i], c, muP, muC, ring[i], pseudoOut, imgAgg)
		if err != nil {
			return nil, err
		}
		c = twinRound(ring, pseudoOut, message, li, ri)
		if i == n-1 {
			sig.C1 = c
		}
	}

	w := crypto.ScAdd(crypto.ScMul(muP, x), crypto.ScMul(muC, z))
	sig.S[realIndex] = crypto.ScSub(alpha, crypto.ScMul(c, w))
	sig.U[realIndex] = crypto.ScSub(beta, crypto.ScMul(c, crypto.ScMul(muP, t)))
	return sig, nil
}

func twinMemberPoints(s, u, c, muP, muC crypto.Scalar, m RingMember,
	pseudo, imgAgg crypto.Point) (crypto.Point, crypto.Point, error) {

	wi, err := clsagMemberAgg(muP, muC, m, pseudo)
	if err != nil {
		return crypto.Point{}, crypto.Point{}, err
	}
	// L = s·G + u·T + c·W
	li, err := crypto.DoubleScalarMultBase(c, wi, s)
	if err != nil {
		return crypto.Point{}, crypto.Point{}, err
	}
	ut, err := crypto.ScalarMult(u, crypto.GeneratorT())
	if err != nil {
		return crypto.Point{}, crypto.Point{}, err
	}
	li, err = crypto.PointAdd(li, ut)
	if err != nil {
		return crypto.Point{}, crypto.Point{}, err
	}
	// R = s·Hp(P) + c·(μP·I + μC·D)
	hp := crypto.HashToPoint(m.Dest[:])
	sHp, err := crypto.ScalarMult(s, hp)
	if err != nil {
		return crypto.Point{}, crypto.Point{}, err
	}
	cAgg, err := crypto.ScalarMult(c, imgAgg)
	if err != nil {
		return crypto.Point{}, crypto.Point{}, err
	}
	ri, err := crypto.PointAdd(sHp, cAgg)
	if err != nil {
		return crypto.Point{}, crypto.Point{}, err
	}
	return li, ri, nil
}

// VerifyTwinClsag recomputes the chain and checks closure.
func VerifyTwinClsag(sig *TwinClsag, message [32]byte, ring []RingMember, pseudoOut crypto.Point) error {
	n := len(ring)
	if n == 0 || len(sig.S) != n || len(sig.U) != n {
		return models.Errorf(models.ErrCryptoVerification, "twin clsag: ring/response size mismatch")
	}
	if crypto.IsIdentity(sig.I) {
		return models.Errorf(models.ErrCryptoVerification, "twin clsag: identity key image")
	}

	muP := clsagAgg("CLSAG_twin_agg_0", ring, sig.I, sig.D, pseudoOut)
	muC := clsagAgg("CLSAG_twin_agg_1", ring, sig.I, sig.D, pseudoOut)
	imgAgg, err := clsagCombine(muP, sig.I, muC, sig.D)
	if err != nil {
		return err
	}

	c := sig.C1
	for i := 0; i < n; i++ {
		li, ri, err := twinMemberPoints(sig.S[i], sig.U[i], c, muP, muC, ring[i], pseudoOut, imgAgg)
		if err != nil {
			return err
		}
		c = twinRound(ring, pseudoOut, message, li, ri)
	}
	if c != sig.C1 {
		return models.Errorf(models.ErrCryptoVerification, "twin clsag: challenge chain does not close")
	}
	return nil
}
