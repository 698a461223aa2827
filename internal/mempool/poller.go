package mempool

import (
	"context"
	"encoding/hex"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/scanner"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Poller watches the node's transaction pool and pre-scans unconfirmed
// transactions so incoming payments surface before their block lands. Pool
// detections are provisional: the sync engine re-scans them on confirmation
// and the keyed upserts collapse the duplicates.
type Poller struct {
	node    daemon.Client
	store   db.Store
	scanner *scanner.Scanner
	sink    models.EventSink

	interval time.Duration
	seenTXs  map[string]bool
}

// NewPoller wires a pool watcher; Run starts the loop.
func NewPoller(node daemon.Client, store db.Store, sc *scanner.Scanner, sink models.EventSink) *Poller {
	if sink == nil {
		sink = models.EventFunc(func(models.SyncEvent) {})
	}
	return &Poller{
		node:     node,
		store:    store,
		scanner:  sc,
		sink:     sink,
		interval: 3 * time.Second,
		seenTXs:  make(map[string]bool),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if p.node == nil {
		log.Println("[Poller] Daemon client is nil; poller will not start")
		return
	}
	log.Println("[Poller] Starting transaction pool watcher...")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Poller] Stopped")
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				log.Printf("[Poller] Poll failed: %v", err)
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	hashes, err := p.node.GetPoolTxHashes(ctx)
	if err != nil {
		return err
	}

	var fresh []string
	live := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		live[h] = true
		if !p.seenTXs[h] {
			fresh = append(fresh, h)
		}
	}
	// Forget txs that left the pool so the map stays bounded.
	for h := range p.seenTXs {
		if !live[h] {
			delete(p.seenTXs, h)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	entries, err := p.node.GetTransactions(ctx, fresh, false)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		p.seenTXs[entry.TxHash] = true
		if !entry.InPool {
			continue
		}
		blob, err := hex.DecodeString(entry.AsHex)
		if err != nil {
			log.Printf("[Poller] tx %s: bad hex from daemon", entry.TxHash)
			continue
		}
		parsed, err := tx.Parse(blob)
		if err != nil {
			log.Printf("[Poller] tx %s: %v", entry.TxHash, err)
			continue
		}
		txid, err := tx.HashFromHex(entry.TxHash)
		if err != nil {
			continue
		}

		res, err := p.scanner.ScanTransaction(parsed, txid, 0)
		if err != nil {
			log.Printf("[Poller] tx %s: scan failed: %v", entry.TxHash, err)
			continue
		}
		if len(res.Outputs) == 0 {
			continue
		}

		var amountIn uint64
		for _, out := range res.Outputs {
			amountIn += out.Amount
			o := out
			p.sink.OnEvent(models.SyncEvent{Type: models.EventPoolOutput, Output: &o})
		}
		rec := models.WalletTransaction{
			RecordID:  uuid.NewString(),
			TxID:      txid,
			Timestamp: time.Now().Unix(),
			AmountIn:  amountIn,
			AssetType: res.Outputs[0].AssetType,
			InPool:    true,
		}
		if err := p.store.PutTransaction(ctx, rec); err != nil {
			log.Printf("[Poller] tx %s: persist failed: %v", entry.TxHash, err)
			continue
		}
		log.Printf("[Poller] Unconfirmed incoming tx %s: %d atomic", entry.TxHash, amountIn)
	}
	return nil
}
