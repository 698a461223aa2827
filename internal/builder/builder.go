package builder

import (
	"context"
	"log"

	"github.com/rawblock/veilwallet/internal/address"
	"github.com/rawblock/veilwallet/internal/consensus"
	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/keys"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// SignerKeys holds everything needed to open owned outputs of both schemes.
type SignerKeys struct {
	Legacy keys.LegacyKeys
	Carrot keys.CarrotKeys
}

// Options tunes a build.
type Options struct {
	Strategy    Strategy
	Priority    Priority
	AssetType   string // defaults to the chain's base asset
	ChainHeight uint64 // for unlock checks
	Now         int64  // unix seconds, for timestamp unlocks
}

// Result is a fully signed spend ready for broadcast.
type Result struct {
	Tx     *tx.Transaction
	TxID   tx.Hash
	Fee    uint64
	Change uint64
}

// Build selects UTXOs, assembles rings, signs every input and proves every
// output amount in range.
func Build(ctx context.Context, store db.Store, node daemon.Client, signer SignerKeys,
	dests []Destination, changeAddr address.Address, opts Options) (*Result, error) {

	if len(dests) == 0 {
		return nil, models.Errorf(models.ErrInvalidDestination, "no destinations")
	}
	asset := opts.AssetType
	if asset == "" {
		asset = consensus.DefaultAssetType
	}

	var target uint64
	for _, d := range dests {
		if d.Amount == 0 {
			return nil, models.Errorf(models.ErrInvalidDestination, "zero-amount destination")
		}
		target += d.Amount
	}

	candidates, err := spendableOutputs(ctx, store, asset, opts)
	if err != nil {
		return nil, err
	}

	// Fee depends on the input count which depends on the fee; two rounds
	// converge because adding the fee can only grow the selection.
	numOuts := len(dests) + 1 // plus change
	fee := EstimateFee(1, numOuts, opts.Priority)
	var sel Selection
	for round := 0; round < 3; round++ {
		sel = SelectOutputs(candidates, target+fee, opts.Strategy)
		if !sel.Sufficient {
			var have uint64
			for _, o := range candidates {
				have += o.Amount
			}
			return nil, models.Errorf(models.ErrInsufficientFunds, "need %d, have %d", target+fee, have)
		}
		next := EstimateFee(len(sel.Selected), numOuts, opts.Priority)
		if next == fee {
			break
		}
		fee = next
	}
	if err := checkFee(sel.Total, target, fee); err != nil {
		return nil, err
	}
	change := sel.Total - target - fee

	// Outputs: destinations plus change back to us.
	allDests := append(append([]Destination{}, dests...), Destination{Address: changeAddr, Amount: change})
	inputContext := sel.Selected[0].KeyImage
	outSet, err := buildOutputs(allDests, inputContext[:])
	if err != nil {
		return nil, err
	}

	// Ring assembly against the chain's output distribution.
	rings, err := assembleRings(ctx, node, sel.Selected)
	if err != nil {
		return nil, err
	}

	anyCarrot := false
	for _, o := range sel.Selected {
		if isCarrotOutput(o, signer) {
			anyCarrot = true
			break
		}
	}

	txn, err := assembleTransaction(sel, rings, outSet, fee, asset, anyCarrot)
	if err != nil {
		return nil, err
	}

	if err := signTransaction(txn, sel, rings, outSet, signer, fee, anyCarrot); err != nil {
		return nil, err
	}

	id, err := tx.TxHash(txn)
	if err != nil {
		return nil, err
	}
	log.Printf("[Builder] Built tx %s: %d inputs, %d outputs, fee %d, change %d",
		id, len(sel.Selected), len(allDests), fee, change)
	return &Result{Tx: txn, TxID: id, Fee: fee, Change: change}, nil
}

func spendableOutputs(ctx context.Context, store db.Store, asset string, opts Options) ([]models.OwnedOutput, error) {
	spent := false
	frozen := false
	outs, err := store.GetOutputs(ctx, models.OutputFilter{
		IsSpent:   &spent,
		IsFrozen:  &frozen,
		AssetType: asset,
	})
	if err != nil {
		return nil, err
	}
	var usable []models.OwnedOutput
	for _, o := range outs {
		if !consensus.IsUnlocked(o.UnlockTime, o.IsCoinbase, o.BlockHeight, opts.ChainHeight, opts.Now) {
			continue
		}
		usable = append(usable, o)
	}
	return usable, nil
}

// ringData is the assembled ring for one input.
type ringData struct {
	Members []ringct.RingMember
	Offsets []uint64
	RealPos int
}

func assembleRings(ctx context.Context, node daemon.Client, inputs []models.OwnedOutput) ([]ringData, error) {
	dist, err := node.GetOutputDistribution(ctx, 0, 0, true)
	if err != nil {
		return nil, err
	}
	if len(dist) == 0 || len(dist[0].Distribution) == 0 {
		return nil, models.Errorf(models.ErrRingAssemblyFailed, "empty output distribution")
	}
	total := dist[0].Base + dist[0].Distribution[len(dist[0].Distribution)-1]

	rings := make([]ringData, len(inputs))
	for i, in := range inputs {
		decoys, err := SampleDecoys(total, in.GlobalIndex, consensus.RingSize)
		if err != nil {
			return nil, err
		}
		indices, realPos := AssembleRing(in.GlobalIndex, decoys)

		reqs := make([]daemon.OutRequest, 0, len(indices)-1)
		for _, gi := range indices {
			if gi == in.GlobalIndex {
				continue
			}
			reqs = append(reqs, daemon.OutRequest{Amount: 0, Index: gi})
		}
		entries, err := node.GetOuts(ctx, reqs)
		if err != nil {
			return nil, err
		}
		if len(entries) != len(reqs) {
			return nil, models.Errorf(models.ErrRingAssemblyFailed,
				"daemon returned %d of %d ring members", len(entries), len(reqs))
		}

		members := make([]ringct.RingMember, len(indices))
		ei := 0
		for pos, gi := range indices {
			if gi == in.GlobalIndex {
				members[pos] = ringct.RingMember{
					Dest:       in.OneTimeAddress,
					Commitment: in.Commitment,
				}
				continue
			}
			members[pos] = ringct.RingMember{
				Dest:       entries[ei].Key,
				Commitment: entries[ei].Mask,
			}
			ei++
		}
		rings[i] = ringData{Members: members, Offsets: RingOffsets(indices), RealPos: realPos}
	}
	return rings, nil
}

func isCarrotOutput(o models.OwnedOutput, signer SignerKeys) bool {
	// Carrot-scheme outputs were stored with the account-key derivation; the
	// reliable marker is that the legacy opening does not reproduce the
	// one-time address while the carrot one does.
	x := legacySecret(o, signer)
	return crypto.ScalarMultBase(x) != crypto.Point(o.OneTimeAddress)
}

func legacySecret(o models.OwnedOutput, signer SignerKeys) crypto.Scalar {
	x := crypto.ScAdd(crypto.Scalar(o.SenderExtension), signer.Legacy.SpendSecret)
	if o.Subaddress.Major != 0 || o.Subaddress.Minor != 0 {
		m := crypto.HnLabel("SubAddr", signer.Legacy.ViewSecret[:],
			u32le(o.Subaddress.Major), u32le(o.Subaddress.Minor))
		x = crypto.ScAdd(x, m)
	}
	return x
}

func carrotSecrets(o models.OwnedOutput, signer SignerKeys) (x, t crypto.Scalar) {
	subScalar := crypto.ScFromUint64(1)
	if o.Subaddress.Major != 0 || o.Subaddress.Minor != 0 {
		subScalar = signer.Carrot.SubaddressScalar(o.Subaddress.Major, o.Subaddress.Minor)
	}
	x = crypto.ScAdd(crypto.ScMul(signer.Carrot.GenerateImage, subScalar), crypto.Scalar(o.SenderExtension))
	t = crypto.ScMul(signer.Carrot.ProveSpend, subScalar)
	return x, t
}

func assembleTransaction(sel Selection, rings []ringData, outSet *outputSet,
	fee uint64, asset string, anyCarrot bool) (*tx.Transaction, error) {

	extra, err := tx.BuildExtra(outSet.Extra)
	if err != nil {
		return nil, err
	}

	prefix := tx.Prefix{
		Version: 2,
		Extra:   extra,
	}
	rctType := tx.RctTypeBulletproofPlus
	if anyCarrot || asset != consensus.DefaultAssetType {
		prefix.Version = 4
		prefix.TxType = models.TxTypeTransfer
		prefix.SourceAsset = asset
		prefix.DestAsset = asset
		rctType = tx.RctTypeSalviumOne
	}

	for i, in := range sel.Selected {
		prefix.Inputs = append(prefix.Inputs, tx.InputKey{
			Amount:      0,
			RingOffsets: rings[i].Offsets,
			KeyImage:    in.KeyImage,
		})
	}
	for _, out := range outSet.Outputs {
		prefix.Outputs = append(prefix.Outputs, out.Output)
	}

	rct := &tx.RctSignatures{RctType: rctType, TxFee: fee}
	for _, out := range outSet.Outputs {
		rct.EcdhInfo = append(rct.EcdhInfo, out.Ecdh)
		rct.OutCommitments = append(rct.OutCommitments, out.Commitment)
	}
	return &tx.Transaction{Prefix: prefix, Rct: rct}, nil
}

func signTransaction(txn *tx.Transaction, sel Selection, rings []ringData,
	outSet *outputSet, signer SignerKeys, fee uint64, anyCarrot bool) error {

	n := len(sel.Selected)

	// Pseudo-output masks: the first n−1 random, the last chosen so that
	// Σ pseudo masks = Σ output masks, making Σ C_pseudo − Σ C_out − fee·H
	// commit to zero.
	var outMaskSum crypto.Scalar
	for _, out := range outSet.Outputs {
		outMaskSum = crypto.ScAdd(outMaskSum, out.Mask)
	}
	pseudoMasks := make([]crypto.Scalar, n)
	var acc crypto.Scalar
	for i := 0; i < n-1; i++ {
		pseudoMasks[i] = crypto.RandomScalar()
		acc = crypto.ScAdd(acc, pseudoMasks[i])
	}
	pseudoMasks[n-1] = crypto.ScSub(outMaskSum, acc)

	for i, in := range sel.Selected {
		txn.Rct.PseudoOuts = append(txn.Rct.PseudoOuts, ringct.Commit(pseudoMasks[i], in.Amount))
	}

	// Range proofs over the output amounts, padded to a power of two.
	amounts := make([]uint64, 0, len(outSet.Outputs))
	masks := make([]crypto.Scalar, 0, len(outSet.Outputs))
	for _, out := range outSet.Outputs {
		amounts = append(amounts, out.Amount)
		masks = append(masks, out.Mask)
	}
	for len(amounts)&(len(amounts)-1) != 0 {
		amounts = append(amounts, 0)
		masks = append(masks, crypto.RandomScalar())
	}
	proof, err := ringct.ProveRange(amounts, masks)
	if err != nil {
		return err
	}
	txn.Rct.BulletproofsPlus = []*ringct.BulletproofPlus{proof}

	msgHash, err := tx.SigningHash(txn)
	if err != nil {
		return err
	}
	msg := [32]byte(msgHash)

	for i, in := range sel.Selected {
		z := crypto.ScSub(crypto.Scalar(in.Mask), pseudoMasks[i])
		pseudo := txn.Rct.PseudoOuts[i]

		if anyCarrot {
			x, t := carrotSecrets(in, signer)
			if !isCarrotOutput(in, signer) {
				x = legacySecret(in, signer)
				t = crypto.Scalar{}
			}
			sig, err := ringct.SignTwinClsag(msg, rings[i].Members, rings[i].RealPos, x, t, z, pseudo)
			if err != nil {
				return err
			}
			txn.Rct.TwinClsags = append(txn.Rct.TwinClsags, sig)
		} else {
			x := legacySecret(in, signer)
			sig, err := ringct.SignClsag(msg, rings[i].Members, rings[i].RealPos, x, z, pseudo)
			if err != nil {
				return err
			}
			txn.Rct.Clsags = append(txn.Rct.Clsags, sig)
		}
	}
	return nil
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	return b
}
