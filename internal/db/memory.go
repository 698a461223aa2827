package db

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rawblock/veilwallet/pkg/models"
)

// MemoryStore is the reference Store: everything in maps, guarded by one
// mutex. It is the backend the engine tests run against and the fallback
// when no persistent backend is configured.
type MemoryStore struct {
	mu sync.Mutex

	outputs      map[[32]byte]models.OwnedOutput
	transactions map[[32]byte]models.WalletTransaction
	spentImages  map[[32]byte]struct{}
	blockHashes  map[uint64][32]byte
	syncHeight   uint64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outputs:      make(map[[32]byte]models.OwnedOutput),
		transactions: make(map[[32]byte]models.WalletTransaction),
		spentImages:  make(map[[32]byte]struct{}),
		blockHashes:  make(map[uint64][32]byte),
	}
}

func (s *MemoryStore) PutOutput(_ context.Context, out models.OwnedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.outputs[out.KeyImage]; ok {
		out = mergeOutput(existing, out)
	}
	s.outputs[out.KeyImage] = out
	if out.IsSpent {
		s.spentImages[out.KeyImage] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) GetOutput(_ context.Context, keyImage [32]byte) (*models.OwnedOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.outputs[keyImage]; ok {
		cp := out
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetOutputs(_ context.Context, filter models.OutputFilter) ([]models.OwnedOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OwnedOutput
	for _, o := range s.outputs {
		if filter.Match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkOutputSpent(_ context.Context, keyImage [32]byte, txid [32]byte, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outputs[keyImage]
	if !ok {
		return models.Errorf(models.ErrInternal, "mark spent: unknown key image")
	}
	o.IsSpent = true
	o.SpentTxID = txid
	o.SpentHeight = height
	s.outputs[keyImage] = o
	s.spentImages[keyImage] = struct{}{}
	return nil
}

func (s *MemoryStore) HasSpentKeyImage(_ context.Context, keyImage [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.spentImages[keyImage]
	return ok, nil
}

func (s *MemoryStore) FreezeOutput(_ context.Context, keyImage [32]byte, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outputs[keyImage]
	if !ok {
		return models.Errorf(models.ErrInternal, "freeze: unknown key image")
	}
	o.IsFrozen = frozen
	s.outputs[keyImage] = o
	return nil
}

func (s *MemoryStore) PutTransaction(_ context.Context, rec models.WalletTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[rec.TxID] = rec
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, txid [32]byte) (*models.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.transactions[txid]; ok {
		cp := rec
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetTransactions(_ context.Context, filter models.TransactionFilter) ([]models.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WalletTransaction
	for _, rec := range s.transactions {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) SyncHeight(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncHeight, nil
}

func (s *MemoryStore) SetSyncHeight(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncHeight = height
	return nil
}

func (s *MemoryStore) PutBlockHash(_ context.Context, height uint64, hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockHashes[height] = hash
	if height >= BlockHashWindow {
		delete(s.blockHashes, height-BlockHashWindow)
	}
	return nil
}

func (s *MemoryStore) GetBlockHash(_ context.Context, height uint64) (*[32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.blockHashes[height]; ok {
		cp := h
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) DeleteBlockHashesAbove(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.blockHashes {
		if h > height {
			delete(s.blockHashes, h)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteOutputsAbove(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ki, o := range s.outputs {
		if o.BlockHeight > height {
			delete(s.outputs, ki)
			delete(s.spentImages, ki)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteTransactionsAbove(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.transactions {
		if rec.BlockHeight > height {
			delete(s.transactions, id)
		}
	}
	return nil
}

func (s *MemoryStore) UnspendOutputsAbove(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ki, o := range s.outputs {
		if o.IsSpent && o.SpentHeight > height {
			o.IsSpent = false
			o.SpentHeight = 0
			o.SpentTxID = [32]byte{}
			s.outputs[ki] = o
			delete(s.spentImages, ki)
		}
	}
	return nil
}

// snapshot is the dump/load wire form shared by MemoryStore and the badger
// backend.
type snapshot struct {
	Outputs      []models.OwnedOutput       `json:"outputs"`
	Transactions []models.WalletTransaction `json:"transactions"`
	BlockHashes  map[uint64][32]byte        `json:"blockHashes"`
	SyncHeight   uint64                     `json:"syncHeight"`
}

func (s *MemoryStore) Dump(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		BlockHashes: make(map[uint64][32]byte, len(s.blockHashes)),
		SyncHeight:  s.syncHeight,
	}
	for _, o := range s.outputs {
		snap.Outputs = append(snap.Outputs, o)
	}
	for _, rec := range s.transactions {
		snap.Transactions = append(snap.Transactions, rec)
	}
	for h, hash := range s.blockHashes {
		snap.BlockHashes[h] = hash
	}
	return json.Marshal(snap)
}

func (s *MemoryStore) Load(_ context.Context, data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Wrap(models.ErrInvalidEncoding, err, "storage snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = make(map[[32]byte]models.OwnedOutput, len(snap.Outputs))
	s.spentImages = make(map[[32]byte]struct{})
	for _, o := range snap.Outputs {
		s.outputs[o.KeyImage] = o
		if o.IsSpent {
			s.spentImages[o.KeyImage] = struct{}{}
		}
	}
	s.transactions = make(map[[32]byte]models.WalletTransaction, len(snap.Transactions))
	for _, rec := range snap.Transactions {
		s.transactions[rec.TxID] = rec
	}
	s.blockHashes = snap.BlockHashes
	if s.blockHashes == nil {
		s.blockHashes = make(map[uint64][32]byte)
	}
	s.syncHeight = snap.SyncHeight
	return nil
}

func (s *MemoryStore) Close() error { return nil }
