package ringct

import (
	"github.com/rawblock/veilwallet/internal/crypto"
)

// Commit computes the Pedersen commitment mask·G + amount·H.
func Commit(mask crypto.Scalar, amount uint64) crypto.Point {
	c, err := crypto.DoubleScalarMultBase(crypto.ScFromUint64(amount), crypto.CommitmentH(), mask)
	if err != nil {
		panic("ringct: commitment generator rejected: " + err.Error())
	}
	return c
}

// CommitVerify reports whether commitment == mask·G + amount·H.
func CommitVerify(commitment crypto.Point, mask crypto.Scalar, amount uint64) bool {
	return Commit(mask, amount) == commitment
}

// ZeroCommit is the deterministic commitment to an amount with mask 1, used
// for pre-RingCT outputs folded into rings.
func ZeroCommit(amount uint64) crypto.Point {
	one := crypto.ScFromUint64(1)
	return Commit(one, amount)
}
