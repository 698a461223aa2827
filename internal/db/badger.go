package db

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/dgraph-io/badger/v3"

	"github.com/rawblock/veilwallet/pkg/models"
)

// BadgerStore is the embedded persistent backend. Records are JSON values
// under prefixed keys:
//
//	o/<key image>   owned outputs
//	t/<txid>        wallet transactions
//	b/<height BE8>  block hashes
//	s/sync_height   sync state
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens or creates the wallet database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "open wallet db")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func outputKey(ki [32]byte) []byte { return append([]byte("o/"), ki[:]...) }
func txKey(id [32]byte) []byte     { return append([]byte("t/"), id[:]...) }

func blockKey(height uint64) []byte {
	k := make([]byte, 2+8)
	copy(k, "b/")
	binary.BigEndian.PutUint64(k[2:], height)
	return k
}

var syncHeightKey = []byte("s/sync_height")

func (s *BadgerStore) getJSON(key []byte, dst interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, models.Wrap(models.ErrInternal, err, "wallet db read")
	}
	return true, nil
}

func (s *BadgerStore) putJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "wallet db encode")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) PutOutput(_ context.Context, out models.OwnedOutput) error {
	var existing models.OwnedOutput
	found, err := s.getJSON(outputKey(out.KeyImage), &existing)
	if err != nil {
		return err
	}
	if found {
		out = mergeOutput(existing, out)
	}
	return s.putJSON(outputKey(out.KeyImage), out)
}

func (s *BadgerStore) GetOutput(_ context.Context, keyImage [32]byte) (*models.OwnedOutput, error) {
	var out models.OwnedOutput
	found, err := s.getJSON(outputKey(keyImage), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) forEachOutput(fn func(models.OwnedOutput) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("o/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var out models.OwnedOutput
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &out)
			})
			if err != nil {
				return err
			}
			if err := fn(out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetOutputs(_ context.Context, filter models.OutputFilter) ([]models.OwnedOutput, error) {
	var outs []models.OwnedOutput
	err := s.forEachOutput(func(o models.OwnedOutput) error {
		if filter.Match(o) {
			outs = append(outs, o)
		}
		return nil
	})
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "wallet db scan")
	}
	return outs, nil
}

func (s *BadgerStore) MarkOutputSpent(ctx context.Context, keyImage [32]byte, txid [32]byte, height uint64) error {
	out, err := s.GetOutput(ctx, keyImage)
	if err != nil {
		return err
	}
	if out == nil {
		return models.Errorf(models.ErrInternal, "mark spent: unknown key image")
	}
	out.IsSpent = true
	out.SpentTxID = txid
	out.SpentHeight = height
	return s.putJSON(outputKey(keyImage), out)
}

func (s *BadgerStore) HasSpentKeyImage(ctx context.Context, keyImage [32]byte) (bool, error) {
	out, err := s.GetOutput(ctx, keyImage)
	if err != nil {
		return false, err
	}
	return out != nil && out.IsSpent, nil
}

func (s *BadgerStore) FreezeOutput(ctx context.Context, keyImage [32]byte, frozen bool) error {
	out, err := s.GetOutput(ctx, keyImage)
	if err != nil {
		return err
	}
	if out == nil {
		return models.Errorf(models.ErrInternal, "freeze: unknown key image")
	}
	out.IsFrozen = frozen
	return s.putJSON(outputKey(keyImage), out)
}

func (s *BadgerStore) PutTransaction(_ context.Context, rec models.WalletTransaction) error {
	return s.putJSON(txKey(rec.TxID), rec)
}

func (s *BadgerStore) GetTransaction(_ context.Context, txid [32]byte) (*models.WalletTransaction, error) {
	var rec models.WalletTransaction
	found, err := s.getJSON(txKey(txid), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) GetTransactions(_ context.Context, filter models.TransactionFilter) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("t/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec models.WalletTransaction
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if filter.Match(rec) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "wallet db scan")
	}
	return out, nil
}

func (s *BadgerStore) SyncHeight(_ context.Context) (uint64, error) {
	var h uint64
	_, err := s.getJSON(syncHeightKey, &h)
	return h, err
}

func (s *BadgerStore) SetSyncHeight(_ context.Context, height uint64) error {
	return s.putJSON(syncHeightKey, height)
}

func (s *BadgerStore) PutBlockHash(_ context.Context, height uint64, hash [32]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(height), hash[:]); err != nil {
			return err
		}
		if height >= BlockHashWindow {
			err := txn.Delete(blockKey(height - BlockHashWindow))
			if err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetBlockHash(_ context.Context, height uint64) (*[32]byte, error) {
	var hash [32]byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(height))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			copy(hash[:], val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "wallet db read")
	}
	return &hash, nil
}

func (s *BadgerStore) DeleteBlockHashesAbove(_ context.Context, height uint64) error {
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(blockKey(height + 1)); it.ValidForPrefix([]byte("b/")); it.Next() {
			doomed = append(doomed, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "wallet db scan")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) DeleteOutputsAbove(_ context.Context, height uint64) error {
	var doomed [][32]byte
	err := s.forEachOutput(func(o models.OwnedOutput) error {
		if o.BlockHeight > height {
			doomed = append(doomed, o.KeyImage)
		}
		return nil
	})
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "wallet db scan")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, ki := range doomed {
			if err := txn.Delete(outputKey(ki)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) DeleteTransactionsAbove(ctx context.Context, height uint64) error {
	recs, err := s.GetTransactions(ctx, models.TransactionFilter{MinHeight: height + 1})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			if err := txn.Delete(txKey(rec.TxID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) UnspendOutputsAbove(_ context.Context, height uint64) error {
	var revert []models.OwnedOutput
	err := s.forEachOutput(func(o models.OwnedOutput) error {
		if o.IsSpent && o.SpentHeight > height {
			o.IsSpent = false
			o.SpentHeight = 0
			o.SpentTxID = [32]byte{}
			revert = append(revert, o)
		}
		return nil
	})
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "wallet db scan")
	}
	for _, o := range revert {
		if err := s.putJSON(outputKey(o.KeyImage), o); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) Dump(ctx context.Context) ([]byte, error) {
	snap := snapshot{BlockHashes: make(map[uint64][32]byte)}

	if err := s.forEachOutput(func(o models.OwnedOutput) error {
		snap.Outputs = append(snap.Outputs, o)
		return nil
	}); err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "wallet db dump")
	}
	recs, err := s.GetTransactions(ctx, models.TransactionFilter{})
	if err != nil {
		return nil, err
	}
	snap.Transactions = recs

	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("b/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			height := binary.BigEndian.Uint64(it.Item().Key()[2:])
			var hash [32]byte
			if err := it.Item().Value(func(val []byte) error {
				copy(hash[:], val)
				return nil
			}); err != nil {
				return err
			}
			snap.BlockHashes[height] = hash
		}
		return nil
	})
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "wallet db dump")
	}

	if snap.SyncHeight, err = s.SyncHeight(ctx); err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

func (s *BadgerStore) Load(ctx context.Context, data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Wrap(models.ErrInvalidEncoding, err, "storage snapshot")
	}
	if err := s.db.DropAll(); err != nil {
		return models.Wrap(models.ErrInternal, err, "wallet db reset")
	}
	for _, o := range snap.Outputs {
		if err := s.putJSON(outputKey(o.KeyImage), o); err != nil {
			return err
		}
	}
	for _, rec := range snap.Transactions {
		if err := s.PutTransaction(ctx, rec); err != nil {
			return err
		}
	}
	for h, hash := range snap.BlockHashes {
		if err := s.PutBlockHash(ctx, h, hash); err != nil {
			return err
		}
	}
	return s.SetSyncHeight(ctx, snap.SyncHeight)
}
