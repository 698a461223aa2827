package ringct

import (
	"encoding/binary"
	"math/bits"
	"sync"

	"filippo.io/edwards25519"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Bulletproof+ aggregated range proof over [0, 2⁶⁴) with the reduced
// weighted-inner-product argument: per recursion round one L/R pair instead
// of the original protocol's two. Aggregation sizes 1, 2, 4, 8 or 16.

const (
	rangeBits     = 64
	maxAggregate  = 16
	maxGenerators = rangeBits * maxAggregate
)

// BulletproofPlus carries the proof plus the commitments it ranges over.
type BulletproofPlus struct {
	V  []crypto.Point // amount commitments (mask·G + amount·H)
	A  crypto.Point
	A1 crypto.Point
	B  crypto.Point
	R1 crypto.Scalar
	S1 crypto.Scalar
	D1 crypto.Scalar
	L  []crypto.Point
	R  []crypto.Point
}

// ─── generator caches ───────────────────────────────────────────────

var bpGenOnce sync.Once
var bpGi, bpHi []*edwards25519.Point
var bpH, bpG *edwards25519.Point

func bpGenerators() {
	h := crypto.CommitmentH()
	bpGi = make([]*edwards25519.Point, maxGenerators)
	bpHi = make([]*edwards25519.Point, maxGenerators)
	for i := 0; i < maxGenerators; i++ {
		bpHi[i] = mustExtended(bpExponent(h, uint64(2*i)))
		bpGi[i] = mustExtended(bpExponent(h, uint64(2*i+1)))
	}
	bpH = mustExtended(h)
	bpG = mustExtended(crypto.BasePoint())
}

func bpExponent(base crypto.Point, idx uint64) crypto.Point {
	var vi [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vi[:], idx)
	data := make([]byte, 0, 32+16+n)
	data = append(data, base[:]...)
	data = append(data, []byte("bulletproof_plus")...)
	data = append(data, vi[:n]...)
	return crypto.HashToPoint(data)
}

func mustExtended(p crypto.Point) *edwards25519.Point {
	ep, err := p.ToExtended()
	if err != nil {
		panic("ringct: generator rejected: " + err.Error())
	}
	return ep
}

// ─── scalar helpers on the library type ─────────────────────────────

func scFrom(s crypto.Scalar) *edwards25519.Scalar {
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	if err != nil {
		panic("ringct: non-canonical internal scalar")
	}
	return sc
}

func scTo(sc *edwards25519.Scalar) crypto.Scalar {
	var out crypto.Scalar
	copy(out[:], sc.Bytes())
	return out
}

func scU64(v uint64) *edwards25519.Scalar {
	var b [32]byte
	binary.LittleEndian.PutUint64(b[:8], v)
	sc, _ := edwards25519.NewScalar().SetCanonicalBytes(b[:])
	return sc
}

func scInvert(s *edwards25519.Scalar) *edwards25519.Scalar {
	return edwards25519.NewScalar().Invert(s)
}

// scPowers returns x¹..xⁿ.
func scPowers(x *edwards25519.Scalar, n int) []*edwards25519.Scalar {
	out := make([]*edwards25519.Scalar, n)
	if n == 0 {
		return out
	}
	out[0] = edwards25519.NewScalar().Set(x)
	for i := 1; i < n; i++ {
		out[i] = edwards25519.NewScalar().Multiply(out[i-1], x)
	}
	return out
}

// scPow returns xⁿ for small n.
func scPow(x *edwards25519.Scalar, n int) *edwards25519.Scalar {
	r := scU64(1)
	for i := 0; i < n; i++ {
		r.Multiply(r, x)
	}
	return r
}

// weightedInner returns Σ a_i·b_i·y^{i+1}.
func weightedInner(a, b []*edwards25519.Scalar, yPow []*edwards25519.Scalar) *edwards25519.Scalar {
	sum := edwards25519.NewScalar()
	t := edwards25519.NewScalar()
	for i := range a {
		t.Multiply(a[i], b[i])
		t.Multiply(t, yPow[i])
		sum.Add(sum, t)
	}
	return sum
}

// transcript chaining: each challenge is Hn over the running state.
func bpChallenge(state *crypto.Scalar, parts ...[]byte) *edwards25519.Scalar {
	args := make([][]byte, 0, len(parts)+1)
	args = append(args, state[:])
	args = append(args, parts...)
	c := crypto.HnLabel("bulletproof_plus_transcript", args...)
	*state = c
	return scFrom(c)
}

// ─── prove ──────────────────────────────────────────────────────────

// ProveRange builds an aggregated Bulletproof+ for the given amounts and
// masks. len(amounts) must be a power of two in [1, 16]; the builder pads
// with zero-amount, random-mask entries before calling.
func ProveRange(amounts []uint64, masks []crypto.Scalar) (*BulletproofPlus, error) {
	m := len(amounts)
	if m == 0 || m > maxAggregate || bits.OnesCount(uint(m)) != 1 {
		return nil, models.Errorf(models.ErrInternal, "bulletproof+: aggregate size %d", m)
	}
	if len(masks) != m {
		return nil, models.Errorf(models.ErrInternal, "bulletproof+: %d masks for %d amounts", len(masks), m)
	}
	bpGenOnce.Do(bpGenerators)

	mn := m * rangeBits
	proof := &BulletproofPlus{V: make([]crypto.Point, m)}
	for j := range amounts {
		proof.V[j] = Commit(masks[j], amounts[j])
	}

	// Bit decomposition: aL ∈ {0,1}, aR = aL − 1.
	aL := make([]*edwards25519.Scalar, mn)
	aR := make([]*edwards25519.Scalar, mn)
	one := scU64(1)
	for j := 0; j < m; j++ {
		for i := 0; i < rangeBits; i++ {
			k := j*rangeBits + i
			if amounts[j]>>uint(i)&1 == 1 {
				aL[k] = scU64(1)
				aR[k] = edwards25519.NewScalar()
			} else {
				aL[k] = edwards25519.NewScalar()
				aR[k] = edwards25519.NewScalar().Negate(one)
			}
		}
	}

	alpha := scFrom(crypto.RandomScalar())
	aPoint := multiScalarMult(
		append(append([]*edwards25519.Scalar{}, aL...), append(aR, alpha)...),
		append(append([]*edwards25519.Point{}, bpGi[:mn]...), append(append([]*edwards25519.Point{}, bpHi[:mn]...), bpG)...),
	)
	proof.A = crypto.FromExtended(aPoint)

	// Transcript: seed with the commitments, then A.
	var state crypto.Scalar
	vParts := make([][]byte, m)
	for j := range proof.V {
		vParts[j] = proof.V[j][:]
	}
	bpChallenge(&state, vParts...)
	y := bpChallenge(&state, proof.A[:])
	z := bpChallenge(&state)

	yPow := scPowers(y, mn+1) // y¹..y^{MN+1}
	yMN1 := yPow[mn]          // y^{MN+1}

	// d_i = z^{2(j+1)}·2^{i mod N}
	zSq := edwards25519.NewScalar().Multiply(z, z)
	d := make([]*edwards25519.Scalar, mn)
	zPow := edwards25519.NewScalar().Set(zSq)
	two := scU64(2)
	for j := 0; j < m; j++ {
		p := edwards25519.NewScalar().Set(zPow)
		for i := 0; i < rangeBits; i++ {
			d[j*rangeBits+i] = edwards25519.NewScalar().Set(p)
			p.Multiply(p, two)
		}
		zPow.Multiply(zPow, zSq)
	}

	// aL̂ = aL − z·1 ; aR̂_i = aR_i + z + d_i·y^{MN−i}
	a := make([]*edwards25519.Scalar, mn)
	b := make([]*edwards25519.Scalar, mn)
	for i := 0; i < mn; i++ {
		a[i] = edwards25519.NewScalar().Subtract(aL[i], z)
		t := edwards25519.NewScalar().Multiply(d[i], yPowAt(yPow, mn-i))
		t.Add(t, z)
		b[i] = edwards25519.NewScalar().Add(aR[i], t)
	}

	// α̂ = α + y^{MN+1}·Σ z^{2(j+1)}·γ_j
	alphaHat := edwards25519.NewScalar().Set(alpha)
	zPow.Set(zSq)
	for j := 0; j < m; j++ {
		t := edwards25519.NewScalar().Multiply(zPow, yMN1)
		t.Multiply(t, scFrom(masks[j]))
		alphaHat.Add(alphaHat, t)
		zPow.Multiply(zPow, zSq)
	}

	// Working generator slices.
	gi := append([]*edwards25519.Point{}, bpGi[:mn]...)
	hi := append([]*edwards25519.Point{}, bpHi[:mn]...)

	// Recursive halving with one L/R pair per round.
	n := mn
	for n > 1 {
		np := n / 2
		a1, a2 := a[:np], a[np:n]
		b1, b2 := b[:np], b[np:n]
		g1, g2 := gi[:np], gi[np:n]
		h1, h2 := hi[:np], hi[np:n]

		yNP := yPowAt(yPow, np)
		yNPInv := scInvert(yNP)

		cL := weightedInner(a1, b2, yPow)
		a2w := scaleVec(a2, yNP)
		cR := weightedInner(a2w, b1, yPow)

		dL := scFrom(crypto.RandomScalar())
		dR := scFrom(crypto.RandomScalar())

		lPoint := lrPoint(scaleVec(a1, yNPInv), g2, b2, h1, cL, dL)
		rPoint := lrPoint(a2w, g1, b1, h2, cR, dR)

		lEnc := crypto.FromExtended(lPoint)
		rEnc := crypto.FromExtended(rPoint)
		proof.L = append(proof.L, lEnc)
		proof.R = append(proof.R, rEnc)

		e := bpChallenge(&state, lEnc[:], rEnc[:])
		eInv := scInvert(e)
		eSq := edwards25519.NewScalar().Multiply(e, e)
		eInvSq := edwards25519.NewScalar().Multiply(eInv, eInv)

		// Fold witness, blinding and generators.
		for i := 0; i < np; i++ {
			t1 := edwards25519.NewScalar().Multiply(a1[i], e)
			t2 := edwards25519.NewScalar().Multiply(a2[i], yNP)
			t2.Multiply(t2, eInv)
			a[i] = t1.Add(t1, t2)

			t3 := edwards25519.NewScalar().Multiply(b1[i], eInv)
			t4 := edwards25519.NewScalar().Multiply(b2[i], e)
			b[i] = t3.Add(t3, t4)

			gi[i] = foldPoint(g1[i], eInv, g2[i], edwards25519.NewScalar().Multiply(e, yNPInv))
			hi[i] = foldPoint(h1[i], e, h2[i], eInv)
		}

		t := edwards25519.NewScalar().Multiply(dL, eSq)
		alphaHat.Add(alphaHat, t)
		t.Multiply(dR, eInvSq)
		alphaHat.Add(alphaHat, t)

		n = np
	}

	// Base case: n == 1.
	r := scFrom(crypto.RandomScalar())
	s := scFrom(crypto.RandomScalar())
	delta := scFrom(crypto.RandomScalar())
	eta := scFrom(crypto.RandomScalar())

	y1 := yPow[0]
	ryb := edwards25519.NewScalar().Multiply(r, y1)
	ryb.Multiply(ryb, b[0])
	sya := edwards25519.NewScalar().Multiply(s, y1)
	sya.Multiply(sya, a[0])
	mid := edwards25519.NewScalar().Add(ryb, sya)

	a1Pt := multiScalarMult(
		[]*edwards25519.Scalar{r, s, mid, delta},
		[]*edwards25519.Point{gi[0], hi[0], bpH, bpG},
	)
	rys := edwards25519.NewScalar().Multiply(r, y1)
	rys.Multiply(rys, s)
	bPt := multiScalarMult(
		[]*edwards25519.Scalar{rys, eta},
		[]*edwards25519.Point{bpH, bpG},
	)

	proof.A1 = crypto.FromExtended(a1Pt)
	proof.B = crypto.FromExtended(bPt)

	e := bpChallenge(&state, proof.A1[:], proof.B[:])
	eSq := edwards25519.NewScalar().Multiply(e, e)

	r1 := edwards25519.NewScalar().Multiply(a[0], e)
	r1.Add(r1, r)
	s1 := edwards25519.NewScalar().Multiply(b[0], e)
	s1.Add(s1, s)
	d1 := edwards25519.NewScalar().Multiply(delta, e)
	d1.Add(d1, eta)
	t := edwards25519.NewScalar().Multiply(alphaHat, eSq)
	d1.Add(d1, t)

	proof.R1 = scTo(r1)
	proof.S1 = scTo(s1)
	proof.D1 = scTo(d1)
	return proof, nil
}

func yPowAt(yPow []*edwards25519.Scalar, n int) *edwards25519.Scalar {
	// yPow[i] = y^{i+1}; y⁰ = 1.
	if n == 0 {
		return scU64(1)
	}
	return yPow[n-1]
}

func scaleVec(v []*edwards25519.Scalar, s *edwards25519.Scalar) []*edwards25519.Scalar {
	out := make([]*edwards25519.Scalar, len(v))
	for i := range v {
		out[i] = edwards25519.NewScalar().Multiply(v[i], s)
	}
	return out
}

func lrPoint(aScaled []*edwards25519.Scalar, g []*edwards25519.Point,
	b []*edwards25519.Scalar, h []*edwards25519.Point,
	c, d *edwards25519.Scalar) *edwards25519.Point {

	scalars := make([]*edwards25519.Scalar, 0, len(aScaled)+len(b)+2)
	points := make([]*edwards25519.Point, 0, len(aScaled)+len(b)+2)
	scalars = append(scalars, aScaled...)
	points = append(points, g...)
	scalars = append(scalars, b...)
	points = append(points, h...)
	scalars = append(scalars, c, d)
	points = append(points, bpH, bpG)
	return multiScalarMult(scalars, points)
}

func foldPoint(p1 *edwards25519.Point, s1 *edwards25519.Scalar,
	p2 *edwards25519.Point, s2 *edwards25519.Scalar) *edwards25519.Point {
	return multiScalarMult(
		[]*edwards25519.Scalar{s1, s2},
		[]*edwards25519.Point{p1, p2},
	)
}

func multiScalarMult(scalars []*edwards25519.Scalar, points []*edwards25519.Point) *edwards25519.Point {
	return new(edwards25519.Point).VarTimeMultiScalarMult(scalars, points)
}

// ─── verify ─────────────────────────────────────────────────────────

// VerifyRange checks an aggregated Bulletproof+ against its commitments.
func VerifyRange(proof *BulletproofPlus) error {
	m := len(proof.V)
	if m == 0 || m > maxAggregate || bits.OnesCount(uint(m)) != 1 {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: bad aggregate size %d", m)
	}
	mn := m * rangeBits
	rounds := bits.TrailingZeros(uint(mn))
	if len(proof.L) != rounds || len(proof.R) != rounds {
		return models.Errorf(models.ErrCryptoVerification,
			"bulletproof+: %d/%d rounds, want %d", len(proof.L), len(proof.R), rounds)
	}
	bpGenOnce.Do(bpGenerators)

	// Replay the transcript.
	var state crypto.Scalar
	vParts := make([][]byte, m)
	for j := range proof.V {
		vParts[j] = proof.V[j][:]
	}
	bpChallenge(&state, vParts...)
	y := bpChallenge(&state, proof.A[:])
	z := bpChallenge(&state)

	yPow := scPowers(y, mn+1)
	yMN1 := yPow[mn]

	zSq := edwards25519.NewScalar().Multiply(z, z)
	d := make([]*edwards25519.Scalar, mn)
	zPow := edwards25519.NewScalar().Set(zSq)
	two := scU64(2)
	for j := 0; j < m; j++ {
		p := edwards25519.NewScalar().Set(zPow)
		for i := 0; i < rangeBits; i++ {
			d[j*rangeBits+i] = edwards25519.NewScalar().Set(p)
			p.Multiply(p, two)
		}
		zPow.Multiply(zPow, zSq)
	}

	// sum_y = Σ y^{1..MN}; Σ_j z^{2(j+1)}; (2^N − 1).
	sumY := edwards25519.NewScalar()
	for i := 0; i < mn; i++ {
		sumY.Add(sumY, yPow[i])
	}
	sumZ := edwards25519.NewScalar()
	zPow.Set(zSq)
	for j := 0; j < m; j++ {
		sumZ.Add(sumZ, zPow)
		zPow.Multiply(zPow, zSq)
	}
	twoN1 := scU64(0xffffffffffffffff) // 2⁶⁴ − 1

	// Â = A + Σ z^{2(j+1)}y^{MN+1}·V_j − z·ΣGi + Σ(z + d_i·y^{MN−i})·Hi + hScalar·H
	scalars := make([]*edwards25519.Scalar, 0, 2*mn+m+2)
	points := make([]*edwards25519.Point, 0, 2*mn+m+2)

	aPt, err := proof.A.ToExtended()
	if err != nil {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: bad A encoding")
	}
	scalars = append(scalars, scU64(1))
	points = append(points, aPt)

	zPow.Set(zSq)
	for j := 0; j < m; j++ {
		vPt, err := proof.V[j].ToExtended()
		if err != nil {
			return models.Errorf(models.ErrCryptoVerification, "bulletproof+: bad V encoding")
		}
		w := edwards25519.NewScalar().Multiply(zPow, yMN1)
		scalars = append(scalars, w)
		points = append(points, vPt)
		zPow.Multiply(zPow, zSq)
	}

	negZ := edwards25519.NewScalar().Negate(z)
	for i := 0; i < mn; i++ {
		scalars = append(scalars, negZ)
		points = append(points, bpGi[i])

		w := edwards25519.NewScalar().Multiply(d[i], yPowAt(yPow, mn-i))
		w.Add(w, z)
		scalars = append(scalars, w)
		points = append(points, bpHi[i])
	}

	// hScalar = z·sum_y − z²·sum_y − z·y^{MN+1}·(2^N−1)·Σz^{2(j+1)}
	hScalar := edwards25519.NewScalar().Multiply(z, sumY)
	t := edwards25519.NewScalar().Multiply(zSq, sumY)
	hScalar.Subtract(hScalar, t)
	t.Multiply(z, yMN1)
	t.Multiply(t, twoN1)
	t.Multiply(t, sumZ)
	hScalar.Subtract(hScalar, t)
	scalars = append(scalars, hScalar)
	points = append(points, bpH)

	p := multiScalarMult(scalars, points)

	// Fold through the rounds: P ← e²·L + P + e⁻²·R, generators likewise.
	gi := append([]*edwards25519.Point{}, bpGi[:mn]...)
	hi := append([]*edwards25519.Point{}, bpHi[:mn]...)
	n := mn
	for k := 0; k < rounds; k++ {
		np := n / 2
		lPt, err := proof.L[k].ToExtended()
		if err != nil {
			return models.Errorf(models.ErrCryptoVerification, "bulletproof+: bad L encoding")
		}
		rPt, err := proof.R[k].ToExtended()
		if err != nil {
			return models.Errorf(models.ErrCryptoVerification, "bulletproof+: bad R encoding")
		}

		e := bpChallenge(&state, proof.L[k][:], proof.R[k][:])
		eInv := scInvert(e)
		eSq := edwards25519.NewScalar().Multiply(e, e)
		eInvSq := edwards25519.NewScalar().Multiply(eInv, eInv)

		p = multiScalarMult(
			[]*edwards25519.Scalar{eSq, scU64(1), eInvSq},
			[]*edwards25519.Point{lPt, p, rPt},
		)

		yNPInv := scInvert(yPowAt(yPow, np))
		eYInv := edwards25519.NewScalar().Multiply(e, yNPInv)
		for i := 0; i < np; i++ {
			gi[i] = foldPoint(gi[i], eInv, gi[np+i], eYInv)
			hi[i] = foldPoint(hi[i], e, hi[np+i], eInv)
		}
		n = np
	}

	// Base-case equation: e²·P + e·A1 + B == r1·e·g + s1·e·h + r1·y·s1·H + d1·G.
	a1Pt, err := proof.A1.ToExtended()
	if err != nil {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: bad A1 encoding")
	}
	bPt, err := proof.B.ToExtended()
	if err != nil {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: bad B encoding")
	}

	e := bpChallenge(&state, proof.A1[:], proof.B[:])
	eSq := edwards25519.NewScalar().Multiply(e, e)

	lhs := multiScalarMult(
		[]*edwards25519.Scalar{eSq, e, scU64(1)},
		[]*edwards25519.Point{p, a1Pt, bPt},
	)

	r1, err := edwards25519.NewScalar().SetCanonicalBytes(proof.R1[:])
	if err != nil {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: non-canonical r1")
	}
	s1, err := edwards25519.NewScalar().SetCanonicalBytes(proof.S1[:])
	if err != nil {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: non-canonical s1")
	}
	d1, err := edwards25519.NewScalar().SetCanonicalBytes(proof.D1[:])
	if err != nil {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: non-canonical d1")
	}
	r1e := edwards25519.NewScalar().Multiply(r1, e)
	s1e := edwards25519.NewScalar().Multiply(s1, e)
	rys := edwards25519.NewScalar().Multiply(r1, yPow[0])
	rys.Multiply(rys, s1)

	rhs := multiScalarMult(
		[]*edwards25519.Scalar{r1e, s1e, rys, d1},
		[]*edwards25519.Point{gi[0], hi[0], bpH, bpG},
	)

	if lhs.Equal(rhs) != 1 {
		return models.Errorf(models.ErrCryptoVerification, "bulletproof+: final check failed")
	}
	return nil
}
