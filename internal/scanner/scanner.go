package scanner

import (
	"encoding/binary"
	"log"

	"github.com/rawblock/veilwallet/internal/consensus"
	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/keys"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Scanner walks transactions with the wallet's view keys and decides which
// outputs belong to it. Both address schemes are scanned: the legacy
// stealth path off the tx pubkey and the new path off the X25519 ephemeral
// key. Misses are silent; only real protocol violations surface.
type Scanner struct {
	legacy    keys.LegacyKeys
	legacyMap *keys.SubaddressMap

	carrot    keys.CarrotViewKeys
	carrotMap *keys.SubaddressMap
}

// New builds a scanner over precomputed subaddress windows. The maps are
// immutable and shared by reference.
func New(legacy keys.LegacyKeys, legacyMap *keys.SubaddressMap,
	carrot keys.CarrotViewKeys, carrotMap *keys.SubaddressMap) *Scanner {
	return &Scanner{legacy: legacy, legacyMap: legacyMap, carrot: carrot, carrotMap: carrotMap}
}

// ScanResult is everything one transaction yielded.
type ScanResult struct {
	Outputs        []models.OwnedOutput
	SpentKeyImages [][32]byte // key images consumed by the tx's inputs
}

func varintBytes(v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return tmp[:n]
}

// LegacyViewTag computes the 1-byte tag both sender and scanner derive.
func LegacyViewTag(shared crypto.Point, index uint64) byte {
	h := crypto.Keccak256([]byte("view_tag"), shared[:], varintBytes(index))
	return h[0]
}

// CarrotViewTag computes the 3-byte tag of the new scheme.
func CarrotViewTag(shared crypto.MontgomeryPoint, index uint64) [3]byte {
	var vt [3]byte
	copy(vt[:], crypto.HsCarrot("view-tag", 3, shared[:], varintBytes(index)))
	return vt
}

// LegacyDerivation is the per-output scalar d_i off the DH shared point.
func LegacyDerivation(shared crypto.Point, index uint64) crypto.Scalar {
	return crypto.HnLabel("derivation", shared[:], varintBytes(index))
}

// CarrotDerivation is the per-output scalar of the new scheme, bound to the
// transaction's input context so derivations cannot be replayed across txs.
func CarrotDerivation(shared crypto.MontgomeryPoint, index uint64, inputContext []byte) crypto.Scalar {
	return crypto.HnCarrot("carrot-per-output", shared[:], varintBytes(index), inputContext)
}

// CarrotInputContext is the domain-binding bytes for carrot derivations:
// the first spend's key image, or the mint height for coinbase.
func CarrotInputContext(txn *tx.Transaction) []byte {
	for _, in := range txn.Prefix.Inputs {
		switch v := in.(type) {
		case tx.InputKey:
			return v.KeyImage[:]
		case tx.InputCoinbase:
			return varintBytes(v.Height)
		}
	}
	return nil
}

// ScanTransaction inspects every output and input of one parsed transaction.
func (s *Scanner) ScanTransaction(txn *tx.Transaction, txid tx.Hash, height uint64) (*ScanResult, error) {
	res := &ScanResult{}

	extra, err := tx.ParseExtra(txn.Prefix.Extra)
	if err != nil {
		// A malformed extra cannot pay us; treat like a miss but log it.
		log.Printf("[Scanner] tx %s: unparseable extra: %v", txid, err)
		extra = tx.ExtraFields{}
	}

	// Legacy shared secret: view_sec · R.
	var legacyShared *crypto.Point
	if extra.TxPubKey != nil {
		if p, err := crypto.ScalarMult(s.legacy.ViewSecret, *extra.TxPubKey); err == nil {
			legacyShared = &p
		}
	}
	addlShared := make([]*crypto.Point, len(extra.AdditionalPubKeys))
	for i := range extra.AdditionalPubKeys {
		if p, err := crypto.ScalarMult(s.legacy.ViewSecret, extra.AdditionalPubKeys[i]); err == nil {
			addlShared[i] = &p
		}
	}

	// New-scheme shared secret: X25519(view_incoming, D_e).
	var carrotShared *crypto.MontgomeryPoint
	if extra.EphemeralPub != nil {
		if sh, err := crypto.X25519([32]byte(s.carrot.ViewIncoming), *extra.EphemeralPub); err == nil {
			carrotShared = &sh
		}
	}

	isCoinbase := false
	if len(txn.Prefix.Inputs) == 1 {
		_, isCoinbase = txn.Prefix.Inputs[0].(tx.InputCoinbase)
	}

	for i, out := range txn.Prefix.Outputs {
		idx := uint64(i)
		shared := legacyShared
		if i < len(addlShared) && addlShared[i] != nil {
			shared = addlShared[i]
		}

		switch target := out.Target.(type) {
		case tx.TargetKey:
			if shared == nil {
				continue
			}
			s.scanLegacyOutput(res, txn, txid, height, idx, target.Key, *shared, out.Amount, isCoinbase)

		case tx.TargetTaggedKey:
			if shared == nil {
				continue
			}
			// View-tag fast path: one byte kills ~255/256 of foreign outputs
			// before any point arithmetic.
			if LegacyViewTag(*shared, idx) != target.ViewTag {
				continue
			}
			s.scanLegacyOutput(res, txn, txid, height, idx, target.Key, *shared, out.Amount, isCoinbase)

		case tx.TargetCarrotV1:
			if carrotShared == nil {
				continue
			}
			if CarrotViewTag(*carrotShared, idx) != target.ViewTag {
				continue
			}
			s.scanCarrotOutput(res, txn, txid, height, idx, target.Key, *carrotShared, CarrotInputContext(txn), isCoinbase)
		}
	}

	// Spend detection: surface every input key image; the sync engine
	// matches them against the owned-output set.
	for _, in := range txn.Prefix.Inputs {
		if key, ok := in.(tx.InputKey); ok {
			res.SpentKeyImages = append(res.SpentKeyImages, key.KeyImage)
		}
	}
	return res, nil
}

func (s *Scanner) scanLegacyOutput(res *ScanResult, txn *tx.Transaction, txid tx.Hash,
	height, idx uint64, oneTime crypto.Point, shared crypto.Point, clearAmount uint64, isCoinbase bool) {

	d := LegacyDerivation(shared, idx)
	dg := crypto.ScalarMultBase(d)
	candidate, err := crypto.PointSub(oneTime, dg)
	if err != nil {
		return
	}
	subIdx, ok := s.legacyMap.Lookup(candidate)
	if !ok {
		return // SubaddressNotOwned: next output
	}

	amount := clearAmount
	var mask crypto.Scalar
	var commitment crypto.Point
	if txn.Rct != nil && txn.Rct.RctType != tx.RctTypeNull && int(idx) < len(txn.Rct.EcdhInfo) {
		amount = ringct.DecryptAmountLegacy(txn.Rct.EcdhInfo[idx], d)
		mask = ringct.LegacyCommitmentMask(d)
		commitment = txn.Rct.OutCommitments[idx]
		if !ringct.CommitVerify(commitment, mask, amount) {
			// Wrong opening: not a payment to us (possibly a Janus probe).
			log.Printf("[Scanner] tx %s out %d: commitment mismatch, rejecting", txid, idx)
			return
		}
	} else {
		mask = crypto.ScFromUint64(1)
		commitment = ringct.ZeroCommit(amount)
	}

	// One-time secret x = d + spend_sec (+ subaddress scalar); key image
	// x·Hp(P) is what the chain's spent set tracks.
	x := crypto.ScAdd(d, s.legacy.SpendSecret)
	if subIdx.Major != 0 || subIdx.Minor != 0 {
		m := crypto.HnLabel("SubAddr", s.legacy.ViewSecret[:],
			u32le(subIdx.Major), u32le(subIdx.Minor))
		x = crypto.ScAdd(x, m)
	}
	keyImage := ringct.KeyImage(x, oneTime)

	res.Outputs = append(res.Outputs, models.OwnedOutput{
		TxID:            txid,
		OutputIndex:     uint32(idx),
		OneTimeAddress:  oneTime,
		Amount:          amount,
		AssetType:       assetFor(txn),
		Commitment:      commitment,
		Mask:            mask,
		KeyImage:        keyImage,
		Subaddress:      subIdx,
		UnlockTime:      txn.Prefix.UnlockTime,
		BlockHeight:     height,
		TxType:          txn.Prefix.TxType,
		SenderExtension: d,
		IsCoinbase:      isCoinbase,
	})
}

func (s *Scanner) scanCarrotOutput(res *ScanResult, txn *tx.Transaction, txid tx.Hash,
	height, idx uint64, oneTime crypto.Point, shared crypto.MontgomeryPoint, inputContext []byte, isCoinbase bool) {

	d := CarrotDerivation(shared, idx, inputContext)
	dg := crypto.ScalarMultBase(d)
	candidate, err := crypto.PointSub(oneTime, dg)
	if err != nil {
		return
	}
	subIdx, ok := s.carrotMap.Lookup(candidate)
	if !ok {
		return
	}

	if txn.Rct == nil || txn.Rct.RctType == tx.RctTypeNull || int(idx) >= len(txn.Rct.EcdhInfo) {
		return // carrot outputs are always confidential
	}
	amount := ringct.DecryptAmountCarrot(txn.Rct.EcdhInfo[idx], shared, oneTime)
	mask := ringct.CarrotCommitmentMask(shared, oneTime)
	commitment := txn.Rct.OutCommitments[idx]
	if !ringct.CommitVerify(commitment, mask, amount) {
		log.Printf("[Scanner] tx %s out %d: carrot commitment mismatch, rejecting", txid, idx)
		return
	}

	// Key image secret: generate_image·s_index + d. The T component of the
	// one-time key never enters the spent set.
	subScalar := crypto.ScFromUint64(1)
	if subIdx.Major != 0 || subIdx.Minor != 0 {
		subScalar = s.carrot.SubaddressScalar(subIdx.Major, subIdx.Minor)
	}
	x := crypto.ScAdd(crypto.ScMul(s.carrot.GenerateImage, subScalar), d)
	keyImage := ringct.KeyImage(x, oneTime)

	res.Outputs = append(res.Outputs, models.OwnedOutput{
		TxID:            txid,
		OutputIndex:     uint32(idx),
		OneTimeAddress:  oneTime,
		Amount:          amount,
		AssetType:       assetFor(txn),
		Commitment:      commitment,
		Mask:            mask,
		KeyImage:        keyImage,
		Subaddress:      subIdx,
		UnlockTime:      txn.Prefix.UnlockTime,
		BlockHeight:     height,
		TxType:          txn.Prefix.TxType,
		SenderExtension: d,
		IsCoinbase:      isCoinbase,
	})
}

func assetFor(txn *tx.Transaction) string {
	if txn.Prefix.DestAsset != "" {
		return txn.Prefix.DestAsset
	}
	return consensus.DefaultAssetType
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// BlockScan holds the ordered results for a whole block.
type BlockScan struct {
	Results []*ScanResult // miner, protocol (if present), then user txs
	TxIDs   []tx.Hash     // aligned with Results
}

// ScanBlock scans in the canonical intra-block order: miner_tx first,
// protocol_tx second when present, then user transactions in tx_hashes
// order. userTxs must align with block.TxHashes.
func (s *Scanner) ScanBlock(block *tx.Block, userTxs []*tx.Transaction, height uint64) (*BlockScan, error) {
	if len(userTxs) != len(block.TxHashes) {
		return nil, models.Errorf(models.ErrInternal,
			"block carries %d tx hashes but %d bodies", len(block.TxHashes), len(userTxs))
	}
	scan := &BlockScan{}

	minerID, err := tx.TxHash(&block.MinerTx)
	if err != nil {
		return nil, err
	}
	minerRes, err := s.ScanTransaction(&block.MinerTx, minerID, height)
	if err != nil {
		return nil, err
	}
	scan.Results = append(scan.Results, minerRes)
	scan.TxIDs = append(scan.TxIDs, minerID)

	if block.ProtocolTx != nil {
		protoID, err := tx.TxHash(block.ProtocolTx)
		if err != nil {
			return nil, err
		}
		protoRes, err := s.ScanTransaction(block.ProtocolTx, protoID, height)
		if err != nil {
			return nil, err
		}
		scan.Results = append(scan.Results, protoRes)
		scan.TxIDs = append(scan.TxIDs, protoID)
	}

	for i, userTx := range userTxs {
		res, err := s.ScanTransaction(userTx, block.TxHashes[i], height)
		if err != nil {
			return nil, err
		}
		scan.Results = append(scan.Results, res)
		scan.TxIDs = append(scan.TxIDs, block.TxHashes[i])
	}
	return scan, nil
}
