package builder

import (
	"crypto/rand"

	"github.com/rawblock/veilwallet/internal/address"
	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/internal/scanner"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Destination is one payment target.
type Destination struct {
	Address address.Address
	Amount  uint64
}

// builtOutput pairs a wire output with its confidential companions.
type builtOutput struct {
	Output     tx.Output
	Ecdh       [8]byte
	Commitment crypto.Point
	Mask       crypto.Scalar
	Amount     uint64
}

// outputSet is everything the RingCT section needs about the outputs.
type outputSet struct {
	Outputs []builtOutput
	Extra   tx.ExtraFields
}

// buildOutputs constructs one-time addresses, view tags, encrypted amounts
// and commitments for every destination. Legacy destinations share one tx
// ephemeral; carrot destinations get an X25519 ephemeral in extra.
// inputContext binds carrot derivations to the spend (first key image).
func buildOutputs(dests []Destination, inputContext []byte) (*outputSet, error) {
	set := &outputSet{}

	// One Edwards ephemeral for the legacy outputs; per-output additional
	// keys when a legacy subaddress destination shares the tx with others
	// (its shared secret needs R = r·D, which cannot serve the rest).
	r := crypto.RandomScalar()
	txPub := crypto.ScalarMultBase(r)

	legacyCount, legacySubCount := 0, 0
	for i := range dests {
		if dests[i].Address.Scheme == models.SchemeLegacy {
			legacyCount++
			if dests[i].Address.Kind == models.KindSubaddress {
				legacySubCount++
			}
		}
	}
	perOutputKeys := legacySubCount > 0 && len(dests) > 1
	if legacyCount == 1 && legacySubCount == 1 && !perOutputKeys {
		p, err := crypto.ScalarMult(r, dests[0].Address.SpendPub)
		if err != nil {
			return nil, models.Wrap(models.ErrInvalidDestination, err, "subaddress spend key")
		}
		txPub = p
	}
	set.Extra.TxPubKey = &txPub

	// One X25519 ephemeral shared by the carrot outputs.
	var dE crypto.Scalar
	var carrotUsed bool

	for i, dest := range dests {
		idx := uint64(i)
		rOut := r
		if perOutputKeys {
			rOut = crypto.RandomScalar()
			addl := crypto.ScalarMultBase(rOut)
			if dest.Address.Scheme == models.SchemeLegacy && dest.Address.Kind == models.KindSubaddress {
				p, err := crypto.ScalarMult(rOut, dest.Address.SpendPub)
				if err != nil {
					return nil, models.Wrap(models.ErrInvalidDestination, err, "subaddress spend key")
				}
				addl = p
			}
			set.Extra.AdditionalPubKeys = append(set.Extra.AdditionalPubKeys, addl)
		}

		switch dest.Address.Scheme {
		case models.SchemeLegacy:
			out, err := buildLegacyOutput(dest, rOut, idx)
			if err != nil {
				return nil, err
			}
			set.Outputs = append(set.Outputs, *out)

		case models.SchemeNew:
			if !carrotUsed {
				dE = crypto.RandomScalar()
				carrotUsed = true
			}
			out, ephPub, err := buildCarrotOutput(dest, dE, idx, inputContext)
			if err != nil {
				return nil, err
			}
			set.Extra.EphemeralPub = ephPub
			set.Outputs = append(set.Outputs, *out)

		default:
			return nil, models.Errorf(models.ErrInvalidDestination, "unknown address scheme")
		}
	}
	return set, nil
}

func buildLegacyOutput(dest Destination, r crypto.Scalar, idx uint64) (*builtOutput, error) {
	shared, err := crypto.ScalarMult(r, dest.Address.ViewPub)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidDestination, err, "destination view key")
	}

	d := scanner.LegacyDerivation(shared, idx)
	dg := crypto.ScalarMultBase(d)
	oneTime, err := crypto.PointAdd(dg, dest.Address.SpendPub)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidDestination, err, "destination spend key")
	}

	mask := ringct.LegacyCommitmentMask(d)
	return &builtOutput{
		Output: tx.Output{Target: tx.TargetTaggedKey{
			Key:     oneTime,
			ViewTag: scanner.LegacyViewTag(shared, idx),
		}},
		Ecdh:       ringct.EncryptAmountLegacy(dest.Amount, d),
		Commitment: ringct.Commit(mask, dest.Amount),
		Mask:       mask,
		Amount:     dest.Amount,
	}, nil
}

func buildCarrotOutput(dest Destination, dE crypto.Scalar, idx uint64, inputContext []byte) (*builtOutput, *crypto.MontgomeryPoint, error) {
	// D_e = d_e·K_spend on the u-line; shared = d_e·K_view. The recipient's
	// clamped incoming key recovers the same shared point from D_e.
	ephEd, err := crypto.ScalarMult(dE, dest.Address.SpendPub)
	if err != nil {
		return nil, nil, models.Wrap(models.ErrInvalidDestination, err, "destination spend key")
	}
	ephPub, err := crypto.EdwardsToMontgomery(ephEd)
	if err != nil {
		return nil, nil, models.Wrap(models.ErrInvalidDestination, err, "ephemeral conversion")
	}
	sharedEd, err := crypto.ScalarMult(dE, dest.Address.ViewPub)
	if err != nil {
		return nil, nil, models.Wrap(models.ErrInvalidDestination, err, "destination view key")
	}
	shared, err := crypto.EdwardsToMontgomery(sharedEd)
	if err != nil {
		return nil, nil, models.Wrap(models.ErrInvalidDestination, err, "shared conversion")
	}

	d := scanner.CarrotDerivation(shared, idx, inputContext)
	dg := crypto.ScalarMultBase(d)
	oneTime, err := crypto.PointAdd(dg, dest.Address.SpendPub)
	if err != nil {
		return nil, nil, models.Wrap(models.ErrInvalidDestination, err, "one-time address")
	}

	var anchor [16]byte
	if _, err := rand.Read(anchor[:]); err != nil {
		return nil, nil, models.Wrap(models.ErrInternal, err, "anchor")
	}
	pad := crypto.HsCarrot("anchor-enc", 16, shared[:], oneTime[:])
	for i := range anchor {
		anchor[i] ^= pad[i]
	}

	mask := ringct.CarrotCommitmentMask(shared, oneTime)
	return &builtOutput{
		Output: tx.Output{Target: tx.TargetCarrotV1{
			Key:             oneTime,
			ViewTag:         scanner.CarrotViewTag(shared, idx),
			EncryptedAnchor: anchor,
		}},
		Ecdh:       ringct.EncryptAmountCarrot(dest.Amount, shared, oneTime),
		Commitment: ringct.Commit(mask, dest.Amount),
		Mask:       mask,
		Amount:     dest.Amount,
	}, &ephPub, nil
}
