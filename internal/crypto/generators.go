package crypto

import (
	"sync"

	"filippo.io/edwards25519"
)

// The three generators in play:
//
//	G — the Ed25519 base point; secret keys and masks live here.
//	H — hash_to_point(G), the value generator of Pedersen commitments.
//	T — hash_to_point("T_generator"), the second key generator the new
//	    address scheme mixes into the account spend pubkey.
//
// H and T are nothing-up-my-sleeve: publicly derivable, with no known
// discrete log relative to G or each other.

var genOnce sync.Once
var genG, genH, genT Point

func computeGenerators() {
	genG = ptEncode(edwards25519.NewGeneratorPoint())
	genH = HashToPoint(genG[:])
	genT = HashToPoint([]byte("T_generator"))
}

// BasePoint returns the compressed Ed25519 base point G.
func BasePoint() Point {
	genOnce.Do(computeGenerators)
	return genG
}

// CommitmentH returns the Pedersen value generator H.
func CommitmentH() Point {
	genOnce.Do(computeGenerators)
	return genH
}

// GeneratorT returns the auxiliary key generator T.
func GeneratorT() Point {
	genOnce.Do(computeGenerators)
	return genT
}
