package wallet

import (
	"context"
	"encoding/hex"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/veilwallet/internal/address"
	"github.com/rawblock/veilwallet/internal/builder"
	"github.com/rawblock/veilwallet/internal/consensus"
	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/keys"
	"github.com/rawblock/veilwallet/internal/mining"
	"github.com/rawblock/veilwallet/internal/scanner"
	"github.com/rawblock/veilwallet/internal/syncer"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Config selects the wallet's environment.
type Config struct {
	Network     models.Network
	MajorWindow uint32
	MinorWindow uint32
	SyncConfig  syncer.Config
}

// Wallet ties the key hierarchy, scanner, sync engine, storage and builder
// into one account.
type Wallet struct {
	cfg    Config
	legacy keys.LegacyKeys
	carrot keys.CarrotKeys

	store  db.Store
	node   daemon.Client
	scan   *scanner.Scanner
	engine *syncer.Engine
}

// Open derives all keys from the seed and prepares the scanner windows.
func Open(seed keys.Seed, store db.Store, node daemon.Client, sink models.EventSink, cfg Config) *Wallet {
	if cfg.MajorWindow == 0 {
		cfg.MajorWindow = keys.DefaultMajorWindow
	}
	if cfg.MinorWindow == 0 {
		cfg.MinorWindow = keys.DefaultMinorWindow
	}

	legacy := keys.LegacyFromSeed(seed)
	carrot := keys.CarrotFromMaster(legacy.SpendSecret)

	log.Printf("[Wallet] Precomputing %d×%d subaddress window", cfg.MajorWindow, cfg.MinorWindow)
	legacyMap := keys.NewSubaddressMap(keys.LegacyDerive(legacy), cfg.MajorWindow, cfg.MinorWindow)
	carrotMap := keys.NewSubaddressMap(keys.CarrotDerive(carrot.CarrotViewKeys), cfg.MajorWindow, cfg.MinorWindow)

	sc := scanner.New(legacy, legacyMap, carrot.CarrotViewKeys, carrotMap)
	w := &Wallet{
		cfg:    cfg,
		legacy: legacy,
		carrot: carrot,
		store:  store,
		node:   node,
		scan:   sc,
	}
	w.engine = syncer.New(node, store, sc, sink, cfg.SyncConfig)
	return w
}

// OpenFromMnemonic recovers the seed from its word form first.
func OpenFromMnemonic(phrase string, store db.Store, node daemon.Client, sink models.EventSink, cfg Config) (*Wallet, error) {
	seed, err := keys.SeedFromMnemonic(phrase)
	if err != nil {
		return nil, err
	}
	return Open(seed, store, node, sink, cfg), nil
}

// PrimaryAddress is the wallet's legacy standard address.
func (w *Wallet) PrimaryAddress() (string, error) {
	a, err := address.New(w.cfg.Network, models.SchemeLegacy, models.KindStandard,
		w.legacy.SpendPub, w.legacy.ViewPub)
	if err != nil {
		return "", err
	}
	return a.Encode()
}

// SubaddressAt encodes the legacy subaddress for an index.
func (w *Wallet) SubaddressAt(major, minor uint32) (string, error) {
	spend, view := w.legacy.Subaddress(major, minor)
	kind := models.KindSubaddress
	if major == 0 && minor == 0 {
		kind = models.KindStandard
	}
	a, err := address.New(w.cfg.Network, models.SchemeLegacy, kind, spend, view)
	if err != nil {
		return "", err
	}
	return a.Encode()
}

// CarrotAddress is the wallet's new-scheme standard address.
func (w *Wallet) CarrotAddress() (string, error) {
	spend, view := w.carrot.Subaddress(0, 0)
	a, err := address.New(w.cfg.Network, models.SchemeNew, models.KindStandard, spend, view)
	if err != nil {
		return "", err
	}
	return a.Encode()
}

// Balance sums owned outputs for an asset: (total, unlocked).
func (w *Wallet) Balance(ctx context.Context, asset string) (uint64, uint64, error) {
	if asset == "" {
		asset = consensus.DefaultAssetType
	}
	spent := false
	outs, err := w.store.GetOutputs(ctx, models.OutputFilter{IsSpent: &spent, AssetType: asset})
	if err != nil {
		return 0, 0, err
	}

	height, err := w.store.SyncHeight(ctx)
	if err != nil {
		return 0, 0, err
	}
	now := time.Now().Unix()

	var total, unlocked uint64
	for _, o := range outs {
		total += o.Amount
		if o.IsFrozen {
			continue
		}
		if consensus.IsUnlocked(o.UnlockTime, o.IsCoinbase, o.BlockHeight, height, now) {
			unlocked += o.Amount
		}
	}
	return total, unlocked, nil
}

// Sync runs the engine until caught up or stopped.
func (w *Wallet) Sync(ctx context.Context) error {
	return w.engine.Run(ctx)
}

// StopSync requests a cooperative stop.
func (w *Wallet) StopSync() { w.engine.Stop() }

// SyncProgress reports (synced, target) heights.
func (w *Wallet) SyncProgress() (uint64, uint64) { return w.engine.Progress() }

// SyncState reports the engine lifecycle phase.
func (w *Wallet) SyncState() string { return w.engine.State().String() }

// Transfer builds, signs and broadcasts a payment, then marks the consumed
// outputs spent locally so they cannot be double-selected before the next
// block confirms them.
func (w *Wallet) Transfer(ctx context.Context, destAddr string, amount uint64, opts builder.Options) (*builder.Result, error) {
	parsed, err := address.Parse(destAddr)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidDestination, err, "destination %q", destAddr)
	}
	if parsed.Network != w.cfg.Network {
		return nil, models.Errorf(models.ErrInvalidDestination, "destination is on %s, wallet on %s",
			parsed.Network, w.cfg.Network)
	}

	changeStr, err := w.PrimaryAddress()
	if err != nil {
		return nil, err
	}
	change, err := address.Parse(changeStr)
	if err != nil {
		return nil, err
	}

	if opts.ChainHeight == 0 {
		opts.ChainHeight, _ = w.store.SyncHeight(ctx)
	}
	if opts.Now == 0 {
		opts.Now = time.Now().Unix()
	}

	signer := builder.SignerKeys{Legacy: w.legacy, Carrot: w.carrot}
	res, err := builder.Build(ctx, w.store, w.node, signer,
		[]builder.Destination{{Address: parsed, Amount: amount}}, change, opts)
	if err != nil {
		return nil, err
	}

	blob, err := tx.Serialize(res.Tx)
	if err != nil {
		return nil, err
	}
	if err := w.node.SendRawTransaction(ctx, hex.EncodeToString(blob)); err != nil {
		return nil, err
	}

	// Mark inputs spent (height 0 = unconfirmed) and record the outgoing tx.
	for _, in := range res.Tx.Prefix.Inputs {
		key, ok := in.(tx.InputKey)
		if !ok {
			continue
		}
		if err := w.store.MarkOutputSpent(ctx, key.KeyImage, res.TxID, 0); err != nil {
			log.Printf("[Wallet] Failed to mark %x spent: %v", key.KeyImage[:8], err)
		}
	}
	rec := models.WalletTransaction{
		RecordID:  uuid.NewString(),
		TxID:      res.TxID,
		Timestamp: time.Now().Unix(),
		Fee:       res.Fee,
		AmountOut: amount,
		AssetType: opts.AssetType,
		TxType:    models.TxTypeTransfer,
		InPool:    true,
	}
	if rec.AssetType == "" {
		rec.AssetType = consensus.DefaultAssetType
	}
	if err := w.store.PutTransaction(ctx, rec); err != nil {
		log.Printf("[Wallet] Failed to record outgoing tx: %v", err)
	}

	log.Printf("[Wallet] Sent %d atomic to %s… (tx %s, fee %d)", amount, destAddr[:16], res.TxID, res.Fee)
	return res, nil
}

// NewMiner builds a miner paying this wallet.
func (w *Wallet) NewMiner(hasher mining.Hasher, payoutAddress string) *mining.Miner {
	return mining.New(w.node, hasher, payoutAddress)
}

// ExportEncrypted dumps storage sealed under a key derived from the
// view-balance secret.
func (w *Wallet) ExportEncrypted(ctx context.Context) ([]byte, error) {
	plain, err := w.store.Dump(ctx)
	if err != nil {
		return nil, err
	}
	return db.EncryptSnapshot(db.SnapshotKey(w.carrot.ViewBalance), plain)
}

// ImportEncrypted restores a sealed snapshot into storage.
func (w *Wallet) ImportEncrypted(ctx context.Context, sealed []byte) error {
	plain, err := db.DecryptSnapshot(db.SnapshotKey(w.carrot.ViewBalance), sealed)
	if err != nil {
		return err
	}
	return w.store.Load(ctx, plain)
}
