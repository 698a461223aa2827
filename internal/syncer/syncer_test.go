package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/keys"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/internal/scanner"
	"github.com/rawblock/veilwallet/internal/tx"
	"github.com/rawblock/veilwallet/pkg/models"
)

// chainSim is an in-memory chain the fake daemon serves.
type chainSim struct {
	mu     sync.Mutex
	blocks []*tx.Block
	txs    map[tx.Hash]*tx.Transaction
}

func newChainSim() *chainSim {
	return &chainSim{txs: make(map[tx.Hash]*tx.Transaction)}
}

func minerTx(height uint64, salt byte) *tx.Transaction {
	return &tx.Transaction{Prefix: tx.Prefix{
		Version:    1,
		UnlockTime: height + 60,
		Inputs:     []tx.Input{tx.InputCoinbase{Height: height}},
		Outputs: []tx.Output{{
			Amount: 600_000_000,
			Target: tx.TargetKey{Key: crypto.ScalarMultBase(crypto.HnLabel("miner", []byte{salt, byte(height)}))},
		}},
	}}
}

// appendBlock extends the chain with user txs; salt differentiates forks.
func (c *chainSim) appendBlock(t *testing.T, salt byte, userTxs ...*tx.Transaction) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	height := uint64(len(c.blocks))
	var prev tx.Hash
	if height > 0 {
		var err error
		prev, err = tx.BlockHash(c.blocks[height-1])
		if err != nil {
			t.Fatal(err)
		}
	}

	b := &tx.Block{
		Header: tx.BlockHeader{
			MajorVersion: 2,
			Timestamp:    1_722_000_000 + height*120,
			PrevID:       prev,
		},
		MinerTx: *minerTx(height, salt),
	}
	for _, ut := range userTxs {
		id, err := tx.TxHash(ut)
		if err != nil {
			t.Fatal(err)
		}
		b.TxHashes = append(b.TxHashes, id)
		c.txs[id] = ut
	}
	c.blocks = append(c.blocks, b)
}

// truncate drops blocks at and above height (fork point).
func (c *chainSim) truncate(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = c.blocks[:height]
}

type fakeChainNode struct {
	daemon.Client
	chain *chainSim
}

func (f *fakeChainNode) GetInfo(_ context.Context) (*daemon.Info, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	h := uint64(len(f.chain.blocks))
	return &daemon.Info{Height: h, TargetHeight: h, Synchronized: true}, nil
}

func (f *fakeChainNode) GetBlocksByHeight(_ context.Context, heights []uint64) ([]daemon.RawBlock, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	var out []daemon.RawBlock
	for _, h := range heights {
		if h >= uint64(len(f.chain.blocks)) {
			break
		}
		b := f.chain.blocks[h]
		blob, err := tx.SerializeBlock(b)
		if err != nil {
			return nil, err
		}
		rb := daemon.RawBlock{Block: blob}
		for _, id := range b.TxHashes {
			txBlob, err := tx.Serialize(f.chain.txs[id])
			if err != nil {
				return nil, err
			}
			rb.Txs = append(rb.Txs, txBlob)
		}
		out = append(out, rb)
	}
	return out, nil
}

func walletScanner(seed byte) (keys.LegacyKeys, *scanner.Scanner) {
	legacy := keys.LegacyFromSeed(keys.Seed{seed})
	carrot := keys.CarrotFromMaster(legacy.SpendSecret)
	return legacy, scanner.New(legacy,
		keys.NewSubaddressMap(keys.LegacyDerive(legacy), 2, 4),
		carrot.CarrotViewKeys,
		keys.NewSubaddressMap(keys.CarrotDerive(carrot.CarrotViewKeys), 2, 4))
}

// paymentTx pays the wallet's main address.
func paymentTx(t *testing.T, recipient keys.LegacyKeys, amount uint64, salt byte) *tx.Transaction {
	t.Helper()
	r := crypto.HnLabel("eph", []byte{salt})
	txPub := crypto.ScalarMultBase(r)
	shared, err := crypto.ScalarMult(r, recipient.ViewPub)
	if err != nil {
		t.Fatal(err)
	}
	d := scanner.LegacyDerivation(shared, 0)
	oneTime, err := crypto.PointAdd(crypto.ScalarMultBase(d), recipient.SpendPub)
	if err != nil {
		t.Fatal(err)
	}
	mask := ringct.LegacyCommitmentMask(d)
	extra, err := tx.BuildExtra(tx.ExtraFields{TxPubKey: &txPub})
	if err != nil {
		t.Fatal(err)
	}
	return &tx.Transaction{
		Prefix: tx.Prefix{
			Version: 2,
			Inputs: []tx.Input{tx.InputKey{
				RingOffsets: []uint64{1, 1},
				KeyImage:    crypto.ScalarMultBase(crypto.HnLabel("foreign-ki", []byte{salt})),
			}},
			Outputs: []tx.Output{{Target: tx.TargetTaggedKey{
				Key:     oneTime,
				ViewTag: scanner.LegacyViewTag(shared, 0),
			}}},
			Extra: extra,
		},
		Rct: &tx.RctSignatures{
			RctType:        tx.RctTypeBulletproofPlus,
			EcdhInfo:       [][8]byte{ringct.EncryptAmountLegacy(amount, d)},
			OutCommitments: []crypto.Point{ringct.Commit(mask, amount)},
		},
	}
}

// spendTx consumes the given key image.
func spendTx(keyImage [32]byte) *tx.Transaction {
	return &tx.Transaction{
		Prefix: tx.Prefix{
			Version: 2,
			Inputs: []tx.Input{tx.InputKey{
				RingOffsets: []uint64{2, 3},
				KeyImage:    keyImage,
			}},
			Outputs: []tx.Output{{Target: tx.TargetTaggedKey{
				Key: crypto.ScalarMultBase(crypto.RandomScalar()),
			}}},
		},
		Rct: &tx.RctSignatures{
			RctType:        tx.RctTypeBulletproofPlus,
			EcdhInfo:       [][8]byte{{}},
			OutCommitments: []crypto.Point{ringct.Commit(crypto.RandomScalar(), 0)},
		},
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []models.SyncEvent
}

func (l *eventLog) OnEvent(ev models.SyncEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t models.SyncEventType) []models.SyncEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.SyncEvent
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestSyncReceiveAndSpend(t *testing.T) {
	wallet, sc := walletScanner(1)
	chain := newChainSim()
	chain.appendBlock(t, 0) // block 0
	chain.appendBlock(t, 0) // block 1
	pay := paymentTx(t, wallet, 123_456, 7)
	chain.appendBlock(t, 0, pay) // block 2 pays us

	// Scan the payment to learn its key image, then spend it in block 4.
	payID, err := tx.TxHash(pay)
	if err != nil {
		t.Fatal(err)
	}
	pre, err := sc.ScanTransaction(pay, payID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pre.Outputs) != 1 {
		t.Fatal("fixture broken: payment not detected")
	}
	ki := pre.Outputs[0].KeyImage

	chain.appendBlock(t, 0) // block 3
	spend := spendTx(ki)
	chain.appendBlock(t, 0, spend) // block 4 spends us
	chain.appendBlock(t, 0)        // block 5
	chain.appendBlock(t, 0)        // block 6 (tip stays unfetched)

	store := db.NewMemoryStore()
	events := &eventLog{}
	eng := New(&fakeChainNode{chain: chain}, store, sc, events, DefaultConfig())

	if err := eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	out, err := store.GetOutput(ctx, ki)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("owned output not persisted")
	}
	if out.Amount != 123_456 || out.BlockHeight != 2 {
		t.Fatalf("stored output %+v", out)
	}
	if !out.IsSpent || out.SpentHeight != 4 {
		t.Fatalf("spend not marked: %+v", out)
	}
	spendID, _ := tx.TxHash(spend)
	if out.SpentTxID != [32]byte(spendID) {
		t.Fatal("spent txid mismatch")
	}

	// Events: newBlock strictly ascending; received precedes spent.
	var lastHeight int64 = -1
	for _, ev := range events.ofType(models.EventNewBlock) {
		if int64(ev.Height) <= lastHeight {
			t.Fatal("newBlock heights not strictly ascending")
		}
		lastHeight = int64(ev.Height)
	}
	recv := events.ofType(models.EventOutputReceived)
	spent := events.ofType(models.EventOutputSpent)
	if len(recv) != 1 || len(spent) != 1 {
		t.Fatalf("events: %d received, %d spent", len(recv), len(spent))
	}
	if recv[0].Height > spent[0].Height {
		t.Fatal("outputReceived after outputSpent")
	}

	// Wallet transaction records exist for both.
	recs, err := store.GetTransactions(ctx, models.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("%d wallet tx records", len(recs))
	}
}

func TestSyncReorgRollback(t *testing.T) {
	wallet, sc := walletScanner(2)
	chain := newChainSim()
	for i := 0; i < 5; i++ {
		chain.appendBlock(t, 0) // blocks 0..4
	}
	doomedPay := paymentTx(t, wallet, 999, 3)
	chain.appendBlock(t, 0, doomedPay) // block 5 pays us on the doomed branch
	chain.appendBlock(t, 0)            // block 6
	chain.appendBlock(t, 0)            // block 7
	chain.appendBlock(t, 0)            // block 8 (tip)

	store := db.NewMemoryStore()
	eng := New(&fakeChainNode{chain: chain}, store, sc, nil, DefaultConfig())
	if err := eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if h, _ := store.SyncHeight(ctx); h != 8 {
		t.Fatalf("pre-reorg sync height %d", h)
	}
	outs, _ := store.GetOutputs(ctx, models.OutputFilter{})
	if len(outs) != 1 {
		t.Fatalf("pre-reorg outputs %d", len(outs))
	}

	// Fork: replace blocks 5.. with a different branch, longer than before.
	chain.truncate(5)
	for i := 0; i < 7; i++ {
		chain.appendBlock(t, 9) // new blocks 5..11 with different hashes
	}

	events := &eventLog{}
	eng2 := New(&fakeChainNode{chain: chain}, store, sc, events, DefaultConfig())
	if err := eng2.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Rolled back to ancestor 4 and resumed on the new branch.
	if h, _ := store.SyncHeight(ctx); h != 11 {
		t.Fatalf("post-reorg sync height %d", h)
	}
	outs, _ = store.GetOutputs(ctx, models.OutputFilter{})
	if len(outs) != 0 {
		t.Fatal("doomed-branch output survived the rollback")
	}
	reorgs := events.ofType(models.EventReorg)
	if len(reorgs) != 1 {
		t.Fatalf("%d reorg events", len(reorgs))
	}

	// The stored hashes now match the new branch.
	for h := uint64(4); h < 10; h++ {
		stored, _ := store.GetBlockHash(ctx, h)
		if stored == nil {
			t.Fatalf("missing stored hash at %d", h)
		}
		want, err := tx.BlockHash(chain.blocks[h])
		if err != nil {
			t.Fatal(err)
		}
		if tx.Hash(*stored) != want {
			t.Fatalf("stored hash at %d is from the abandoned branch", h)
		}
	}
}

func TestSyncAlreadyRunning(t *testing.T) {
	_, sc := walletScanner(3)
	chain := newChainSim()
	for i := 0; i < 100; i++ {
		chain.appendBlock(t, 0)
	}
	store := db.NewMemoryStore()
	eng := New(&slowNode{fakeChainNode{chain: chain}}, store, sc, nil, DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	// Wait for the engine to enter RUNNING.
	deadline := time.Now().Add(2 * time.Second)
	for eng.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if eng.State() != StateRunning {
		t.Fatal("engine never started")
	}

	err := eng.Run(context.Background())
	if err == nil || !models.IsKind(err, models.ErrSyncAlreadyRunning) {
		t.Fatalf("want SyncAlreadyRunning, got %v", err)
	}

	eng.Stop()
	if err := <-done; err != nil && !models.IsKind(err, models.ErrCancelled) {
		t.Fatalf("run exit: %v", err)
	}
	if eng.State() != StateIdle {
		t.Fatalf("state after stop: %s", eng.State())
	}
}

// slowNode delays GetInfo so the engine stays RUNNING long enough to race.
type slowNode struct {
	fakeChainNode
}

func (s *slowNode) GetInfo(ctx context.Context) (*daemon.Info, error) {
	time.Sleep(30 * time.Millisecond)
	return s.fakeChainNode.GetInfo(ctx)
}

func TestSyncRestartable(t *testing.T) {
	_, sc := walletScanner(4)
	chain := newChainSim()
	for i := 0; i < 6; i++ {
		chain.appendBlock(t, 0)
	}
	store := db.NewMemoryStore()

	eng := New(&fakeChainNode{chain: chain}, store, sc, nil, DefaultConfig())
	if err := eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	h1, _ := store.SyncHeight(ctx)
	if h1 != 5 {
		t.Fatalf("first pass sync height %d", h1)
	}

	// Extend the chain; a fresh engine resumes from stored state.
	for i := 0; i < 4; i++ {
		chain.appendBlock(t, 0)
	}
	eng2 := New(&fakeChainNode{chain: chain}, store, sc, nil, DefaultConfig())
	if err := eng2.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	h2, _ := store.SyncHeight(ctx)
	if h2 != 9 {
		t.Fatalf("second pass sync height %d", h2)
	}
}
