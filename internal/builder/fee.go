package builder

import (
	"github.com/rawblock/veilwallet/internal/consensus"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Priority scales the base fee rate.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

// Multiplier returns the fee multiplier for a priority tier.
func (p Priority) Multiplier() uint64 {
	switch p {
	case PriorityLow:
		return 4
	case PriorityMedium:
		return 20
	case PriorityHigh:
		return 166
	default:
		return 1
	}
}

// Per-part weight approximations. An input is dominated by its ring
// offsets plus the ring signature; an output by its commitment and
// bulletproof share.
const (
	weightPerInput  = consensus.RingSize*32 + 2500
	weightPerOutput = 32 + 8 + 32 + 700
	weightBase      = 600
)

// TxWeight approximates the serialized weight of a spend.
func TxWeight(numInputs, numOutputs int) uint64 {
	return uint64(weightBase + numInputs*weightPerInput + numOutputs*weightPerOutput)
}

// EstimateFee computes fee = fee_per_byte · weight · priority.
func EstimateFee(numInputs, numOutputs int, priority Priority) uint64 {
	return consensus.FeePerByte * TxWeight(numInputs, numOutputs) * priority.Multiplier()
}

// checkFee guards the degenerate case where the fee alone exceeds what the
// selected inputs carry.
func checkFee(inputTotal, target, fee uint64) error {
	if fee >= inputTotal {
		return models.Errorf(models.ErrFeeExceedsInputs, "fee %d >= inputs %d", fee, inputTotal)
	}
	if target+fee > inputTotal {
		return models.Errorf(models.ErrInsufficientFunds, "need %d, have %d", target+fee, inputTotal)
	}
	return nil
}
