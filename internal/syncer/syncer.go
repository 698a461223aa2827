package syncer

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/scanner"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// State is the engine's lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return "IDLE"
	}
}

// Config tunes the fetch loop.
type Config struct {
	MinBatch        int    // floor for adaptive batching
	MaxBatch        int    // ceiling
	ReorgDepth      uint64 // how far back a reorg may reach
	LowWaterMs      int64  // per-block ms under which the batch doubles
	HighWaterMs     int64  // per-block ms over which the batch halves
	BatchByteBudget int    // soft cap on bytes fetched per batch
}

// DefaultConfig matches the values the chain's reference wallet ships.
func DefaultConfig() Config {
	return Config{
		MinBatch:        20,
		MaxBatch:        1000,
		ReorgDepth:      100,
		LowWaterMs:      4,
		HighWaterMs:     40,
		BatchByteBudget: 8 << 20,
	}
}

// Engine pulls blocks from the remote node, dispatches them to the scanner,
// and keeps storage consistent across reorgs. Single-threaded cooperative:
// the state shared with other goroutines (stop flag, lifecycle state and
// progress counters) is held in atomics.
type Engine struct {
	node    daemon.Client
	store   db.Store
	scanner *scanner.Scanner
	sink    models.EventSink
	cfg     Config

	state      atomic.Int32
	stopFlag   atomic.Bool
	height     atomic.Uint64
	target     atomic.Uint64
	avgBlockSz atomic.Int64
}

// New wires an engine; Run does the work.
func New(node daemon.Client, store db.Store, sc *scanner.Scanner, sink models.EventSink, cfg Config) *Engine {
	if cfg.MinBatch == 0 {
		cfg = DefaultConfig()
	}
	if sink == nil {
		sink = models.EventFunc(func(models.SyncEvent) {})
	}
	return &Engine{node: node, store: store, scanner: sc, sink: sink, cfg: cfg}
}

// State reports the current lifecycle phase.
func (e *Engine) State() State { return State(e.state.Load()) }

// Progress returns (synced height, target height).
func (e *Engine) Progress() (uint64, uint64) { return e.height.Load(), e.target.Load() }

// Stop requests a cooperative stop; in-flight network I/O completes first.
func (e *Engine) Stop() {
	if e.State() == StateRunning {
		e.state.Store(int32(StateStopping))
	}
	e.stopFlag.Store(true)
}

// Run executes the sync loop until caught up, stopped, or failed. A second
// Run while RUNNING fails with SyncAlreadyRunning.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return models.Errorf(models.ErrSyncAlreadyRunning, "sync engine is %s", e.State())
	}
	e.stopFlag.Store(false)

	err := e.run(ctx)
	switch {
	case err == nil:
		e.state.Store(int32(StateIdle))
	case models.IsKind(err, models.ErrCancelled):
		e.state.Store(int32(StateIdle))
	default:
		e.state.Store(int32(StateError))
	}
	return err
}

func (e *Engine) run(ctx context.Context) error {
	syncHeight, err := e.store.SyncHeight(ctx)
	if err != nil {
		return err
	}
	e.height.Store(syncHeight)

	batch := e.cfg.MinBatch
	for {
		if e.stopFlag.Load() {
			return models.Errorf(models.ErrCancelled, "stop requested at height %d", e.height.Load())
		}

		info, err := e.node.GetInfo(ctx)
		if err != nil {
			return err
		}
		target := info.TargetHeight
		if info.Height > target {
			target = info.Height
		}
		e.target.Store(target)

		syncHeight = e.height.Load()
		if target <= 1 || syncHeight >= target-1 {
			log.Printf("[Sync] Caught up at height %d (target %d)", syncHeight, target)
			return nil
		}

		n := batch
		if remaining := target - syncHeight; uint64(n) > remaining {
			n = int(remaining)
		}
		if avg := e.avgBlockSz.Load(); avg > 0 && e.cfg.BatchByteBudget > 0 {
			if maxByBytes := e.cfg.BatchByteBudget / int(avg); maxByBytes >= 1 && n > maxByBytes {
				n = maxByBytes
			}
		}

		heights := make([]uint64, n)
		for i := range heights {
			heights[i] = syncHeight + uint64(i)
		}

		started := time.Now()
		blocks, err := e.node.GetBlocksByHeight(ctx, heights)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			return models.Errorf(models.ErrRemoteNode, "empty batch for heights %d..%d", heights[0], heights[len(heights)-1])
		}

		var bytesSeen int
		reorged := false
		for i, raw := range blocks {
			if e.stopFlag.Load() {
				return models.Errorf(models.ErrCancelled, "stop requested at height %d", e.height.Load())
			}
			height := heights[i]
			bytesSeen += len(raw.Block)
			for _, t := range raw.Txs {
				bytesSeen += len(t)
			}

			reorg, err := e.processBlock(ctx, height, raw)
			if err != nil {
				return err
			}
			if reorg {
				reorged = true
				break
			}
		}
		if reorged {
			continue
		}

		// Adaptive batching on wall-clock ms per block.
		perBlockMs := time.Since(started).Milliseconds() / int64(len(blocks))
		if perBlockMs < e.cfg.LowWaterMs && batch < e.cfg.MaxBatch {
			batch *= 2
			if batch > e.cfg.MaxBatch {
				batch = e.cfg.MaxBatch
			}
		} else if perBlockMs > e.cfg.HighWaterMs && batch > e.cfg.MinBatch {
			batch /= 2
			if batch < e.cfg.MinBatch {
				batch = e.cfg.MinBatch
			}
		}
		e.avgBlockSz.Store(int64(bytesSeen / len(blocks)))
	}
}

// processBlock verifies linkage, scans, and commits one block. Returns true
// when a reorg was handled and the loop must restart from the new height.
func (e *Engine) processBlock(ctx context.Context, height uint64, raw daemon.RawBlock) (bool, error) {
	block, err := tx.ParseBlock(raw.Block)
	if err != nil {
		return false, err
	}
	hash, err := tx.BlockHash(block)
	if err != nil {
		return false, err
	}

	// Linkage check against the stored predecessor.
	if height > 0 {
		stored, err := e.store.GetBlockHash(ctx, height-1)
		if err != nil {
			return false, err
		}
		if stored != nil && tx.Hash(*stored) != block.Header.PrevID {
			if err := e.handleReorg(ctx, height); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	userTxs := make([]*tx.Transaction, len(raw.Txs))
	for i, blob := range raw.Txs {
		parsed, err := tx.Parse(blob)
		if err != nil {
			return false, err
		}
		userTxs[i] = parsed
	}

	scan, err := e.scanner.ScanBlock(block, userTxs, height)
	if err != nil {
		return false, err
	}

	if err := e.store.PutBlockHash(ctx, height, hash); err != nil {
		return false, err
	}

	e.sink.OnEvent(models.SyncEvent{Type: models.EventNewBlock, Height: height, BlockHash: hash, TargetHeight: e.target.Load()})

	if err := e.commitScan(ctx, height, block.Header.Timestamp, scan); err != nil {
		return false, err
	}

	if err := e.store.SetSyncHeight(ctx, height+1); err != nil {
		return false, err
	}
	e.height.Store(height + 1)
	return false, nil
}

// commitScan persists detections in intra-block order: received outputs of
// each tx before the spends that same tx performs.
func (e *Engine) commitScan(ctx context.Context, height, timestamp uint64, scan *scanner.BlockScan) error {
	for ri, res := range scan.Results {
		txid := scan.TxIDs[ri]

		var amountIn uint64
		for _, out := range res.Outputs {
			if err := e.store.PutOutput(ctx, out); err != nil {
				return err
			}
			amountIn += out.Amount
			o := out
			e.sink.OnEvent(models.SyncEvent{Type: models.EventOutputReceived, Height: height, Output: &o})
		}

		var amountOut uint64
		for _, ki := range res.SpentKeyImages {
			owned, err := e.store.GetOutput(ctx, ki)
			if err != nil {
				return err
			}
			if owned == nil || owned.IsSpent {
				continue
			}
			if err := e.store.MarkOutputSpent(ctx, ki, txid, height); err != nil {
				return err
			}
			amountOut += owned.Amount
			spent := *owned
			spent.IsSpent = true
			spent.SpentHeight = height
			spent.SpentTxID = txid
			e.sink.OnEvent(models.SyncEvent{Type: models.EventOutputSpent, Height: height, Output: &spent, SpentTxID: txid})
		}

		if amountIn > 0 || amountOut > 0 {
			rec := models.WalletTransaction{
				RecordID:    uuid.NewString(),
				TxID:        txid,
				BlockHeight: height,
				Timestamp:   int64(timestamp),
				AmountIn:    amountIn,
				AmountOut:   amountOut,
			}
			if len(res.Outputs) > 0 {
				rec.AssetType = res.Outputs[0].AssetType
				rec.TxType = res.Outputs[0].TxType
			}
			if err := e.store.PutTransaction(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleReorg walks back from the mismatch, finds the common ancestor via
// the stored block-hash ring buffer, rolls storage back and repoints the
// sync height. State is committed per block, so a reorg never tears records.
func (e *Engine) handleReorg(ctx context.Context, mismatchHeight uint64) error {
	log.Printf("[Sync] Reorg detected at height %d, walking back up to %d blocks", mismatchHeight, e.cfg.ReorgDepth)

	var ancestor uint64
	found := false
	low := uint64(0)
	if mismatchHeight > e.cfg.ReorgDepth {
		low = mismatchHeight - e.cfg.ReorgDepth
	}
	for h := mismatchHeight - 1; h+1 > low; h-- {
		stored, err := e.store.GetBlockHash(ctx, h)
		if err != nil {
			return err
		}
		if stored == nil {
			// Past our ring buffer; treat as ancestor.
			ancestor = h
			found = true
			break
		}
		remote, err := e.node.GetBlocksByHeight(ctx, []uint64{h})
		if err != nil {
			return err
		}
		if len(remote) != 1 {
			return models.Errorf(models.ErrRemoteNode, "missing block %d during reorg walk", h)
		}
		block, err := tx.ParseBlock(remote[0].Block)
		if err != nil {
			return err
		}
		hash, err := tx.BlockHash(block)
		if err != nil {
			return err
		}
		if tx.Hash(*stored) == hash {
			ancestor = h
			found = true
			break
		}
		if h == 0 {
			break
		}
	}
	if !found {
		return models.Errorf(models.ErrReorgDetected,
			"no common ancestor within %d blocks of %d", e.cfg.ReorgDepth, mismatchHeight)
	}

	if err := e.store.DeleteOutputsAbove(ctx, ancestor); err != nil {
		return err
	}
	if err := e.store.DeleteTransactionsAbove(ctx, ancestor); err != nil {
		return err
	}
	if err := e.store.UnspendOutputsAbove(ctx, ancestor); err != nil {
		return err
	}
	if err := e.store.DeleteBlockHashesAbove(ctx, ancestor); err != nil {
		return err
	}
	if err := e.store.SetSyncHeight(ctx, ancestor+1); err != nil {
		return err
	}
	e.height.Store(ancestor + 1)

	depth := mismatchHeight - ancestor
	log.Printf("[Sync] Rolled back to common ancestor %d (depth %d), resuming from %d", ancestor, depth, ancestor+1)
	e.sink.OnEvent(models.SyncEvent{Type: models.EventReorg, Height: ancestor + 1, ReorgDepth: depth})
	return nil
}
