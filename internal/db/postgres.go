package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/veilwallet/pkg/models"
)

// PostgresStore backs Store with PostgreSQL for deployments that
// already run one. Records are stored as JSONB next to the columns queries
// filter on, so the schema survives record-shape evolution.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS wallet_outputs (
	key_image    BYTEA PRIMARY KEY,
	block_height BIGINT NOT NULL,
	spent_height BIGINT NOT NULL DEFAULT 0,
	is_spent     BOOLEAN NOT NULL DEFAULT FALSE,
	record       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS wallet_outputs_height_idx ON wallet_outputs (block_height);

CREATE TABLE IF NOT EXISTS wallet_transactions (
	txid         BYTEA PRIMARY KEY,
	block_height BIGINT NOT NULL,
	record       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS wallet_transactions_height_idx ON wallet_transactions (block_height);

CREATE TABLE IF NOT EXISTS wallet_block_hashes (
	height BIGINT PRIMARY KEY,
	hash   BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_state (
	key   TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);
`

// ConnectPostgres initializes the pgx pool and the wallet schema.
func ConnectPostgres(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	log.Println("[DB] Connected to PostgreSQL wallet store")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) PutOutput(ctx context.Context, out models.OwnedOutput) error {
	existing, err := s.GetOutput(ctx, out.KeyImage)
	if err != nil {
		return err
	}
	if existing != nil {
		out = mergeOutput(*existing, out)
	}
	rec, err := json.Marshal(out)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "encode output")
	}
	sql := `
		INSERT INTO wallet_outputs (key_image, block_height, spent_height, is_spent, record)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_image) DO UPDATE
		SET block_height = EXCLUDED.block_height,
		    spent_height = EXCLUDED.spent_height,
		    is_spent = EXCLUDED.is_spent,
		    record = EXCLUDED.record;
	`
	_, err = s.pool.Exec(ctx, sql, out.KeyImage[:], int64(out.BlockHeight), int64(out.SpentHeight), out.IsSpent, rec)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "upsert output")
	}
	return nil
}

func (s *PostgresStore) GetOutput(ctx context.Context, keyImage [32]byte) (*models.OwnedOutput, error) {
	var rec []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM wallet_outputs WHERE key_image = $1`, keyImage[:]).Scan(&rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "query output")
	}
	var out models.OwnedOutput
	if err := json.Unmarshal(rec, &out); err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "decode output")
	}
	return &out, nil
}

func (s *PostgresStore) GetOutputs(ctx context.Context, filter models.OutputFilter) ([]models.OwnedOutput, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM wallet_outputs`)
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "query outputs")
	}
	defer rows.Close()

	var outs []models.OwnedOutput
	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			return nil, models.Wrap(models.ErrInternal, err, "scan output")
		}
		var out models.OwnedOutput
		if err := json.Unmarshal(rec, &out); err != nil {
			return nil, models.Wrap(models.ErrInternal, err, "decode output")
		}
		if filter.Match(out) {
			outs = append(outs, out)
		}
	}
	return outs, rows.Err()
}

func (s *PostgresStore) MarkOutputSpent(ctx context.Context, keyImage [32]byte, txid [32]byte, height uint64) error {
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
	return s.PutOutput(ctx, *out)
}

func (s *PostgresStore) HasSpentKeyImage(ctx context.Context, keyImage [32]byte) (bool, error) {
	var spent bool
	err := s.pool.QueryRow(ctx,
		`SELECT is_spent FROM wallet_outputs WHERE key_image = $1`, keyImage[:]).Scan(&spent)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, models.Wrap(models.ErrInternal, err, "query key image")
	}
	return spent, nil
}

func (s *PostgresStore) FreezeOutput(ctx context.Context, keyImage [32]byte, frozen bool) error {
	out, err := s.GetOutput(ctx, keyImage)
	if err != nil {
		return err
	}
	if out == nil {
		return models.Errorf(models.ErrInternal, "freeze: unknown key image")
	}
	out.IsFrozen = frozen
	// PutOutput's merge never clears the flag; write the record directly.
	rec, err := json.Marshal(out)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "encode output")
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE wallet_outputs SET record = $2 WHERE key_image = $1`, keyImage[:], rec); err != nil {
		return models.Wrap(models.ErrInternal, err, "freeze output")
	}
	return nil
}

func (s *PostgresStore) PutTransaction(ctx context.Context, rec models.WalletTransaction) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "encode transaction")
	}
	sql := `
		INSERT INTO wallet_transactions (txid, block_height, record)
		VALUES ($1, $2, $3)
		ON CONFLICT (txid) DO UPDATE
		SET block_height = EXCLUDED.block_height, record = EXCLUDED.record;
	`
	_, err = s.pool.Exec(ctx, sql, rec.TxID[:], int64(rec.BlockHeight), blob)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "upsert transaction")
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, txid [32]byte) (*models.WalletTransaction, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM wallet_transactions WHERE txid = $1`, txid[:]).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "query transaction")
	}
	var rec models.WalletTransaction
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "decode transaction")
	}
	return &rec, nil
}

func (s *PostgresStore) GetTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.WalletTransaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM wallet_transactions`)
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "query transactions")
	}
	defer rows.Close()

	var recs []models.WalletTransaction
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, models.Wrap(models.ErrInternal, err, "scan transaction")
		}
		var rec models.WalletTransaction
		if err := json.Unmarshal(blob, &rec); err != nil {
			return nil, models.Wrap(models.ErrInternal, err, "decode transaction")
		}
		if filter.Match(rec) {
			recs = append(recs, rec)
		}
	}
	return recs, rows.Err()
}

func (s *PostgresStore) SyncHeight(ctx context.Context) (uint64, error) {
	var h int64
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM wallet_state WHERE key = 'sync_height'`).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, models.Wrap(models.ErrInternal, err, "query sync height")
	}
	return uint64(h), nil
}

func (s *PostgresStore) SetSyncHeight(ctx context.Context, height uint64) error {
	sql := `
		INSERT INTO wallet_state (key, value) VALUES ('sync_height', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value;
	`
	if _, err := s.pool.Exec(ctx, sql, int64(height)); err != nil {
		return models.Wrap(models.ErrInternal, err, "set sync height")
	}
	return nil
}

func (s *PostgresStore) PutBlockHash(ctx context.Context, height uint64, hash [32]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_block_hashes (height, hash) VALUES ($1, $2)
		ON CONFLICT (height) DO UPDATE SET hash = EXCLUDED.hash;
	`, int64(height), hash[:])
	if err != nil {
		return models.Wrap(models.ErrInternal, err, "upsert block hash")
	}
	if height >= BlockHashWindow {
		_, err = tx.Exec(ctx,
			`DELETE FROM wallet_block_hashes WHERE height <= $1`, int64(height-BlockHashWindow))
		if err != nil {
			return models.Wrap(models.ErrInternal, err, "trim block hashes")
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetBlockHash(ctx context.Context, height uint64) (*[32]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT hash FROM wallet_block_hashes WHERE height = $1`, int64(height)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "query block hash")
	}
	var hash [32]byte
	copy(hash[:], raw)
	return &hash, nil
}

func (s *PostgresStore) DeleteBlockHashesAbove(ctx context.Context, height uint64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM wallet_block_hashes WHERE height > $1`, int64(height)); err != nil {
		return models.Wrap(models.ErrInternal, err, "delete block hashes")
	}
	return nil
}

func (s *PostgresStore) DeleteOutputsAbove(ctx context.Context, height uint64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM wallet_outputs WHERE block_height > $1`, int64(height)); err != nil {
		return models.Wrap(models.ErrInternal, err, "delete outputs")
	}
	return nil
}

func (s *PostgresStore) DeleteTransactionsAbove(ctx context.Context, height uint64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM wallet_transactions WHERE block_height > $1`, int64(height)); err != nil {
		return models.Wrap(models.ErrInternal, err, "delete transactions")
	}
	return nil
}

func (s *PostgresStore) UnspendOutputsAbove(ctx context.Context, height uint64) error {
	outs, err := s.GetOutputs(ctx, models.OutputFilter{})
	if err != nil {
		return err
	}
	for _, o := range outs {
		if o.IsSpent && o.SpentHeight > height {
			o.IsSpent = false
			o.SpentHeight = 0
			o.SpentTxID = [32]byte{}
			// PutOutput's merge would keep the spent flag; write the record directly.
			rec, err := json.Marshal(o)
			if err != nil {
				return models.Wrap(models.ErrInternal, err, "encode output")
			}
			if _, err := s.pool.Exec(ctx,
				`UPDATE wallet_outputs SET is_spent = FALSE, spent_height = 0, record = $2 WHERE key_image = $1`,
				o.KeyImage[:], rec); err != nil {
				return models.Wrap(models.ErrInternal, err, "unspend output")
			}
		}
	}
	return nil
}

func (s *PostgresStore) Dump(ctx context.Context) ([]byte, error) {
	snap := snapshot{BlockHashes: make(map[uint64][32]byte)}
	var err error
	if snap.Outputs, err = s.GetOutputs(ctx, models.OutputFilter{}); err != nil {
		return nil, err
	}
	if snap.Transactions, err = s.GetTransactions(ctx, models.TransactionFilter{}); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT height, hash FROM wallet_block_hashes`)
	if err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "query block hashes")
	}
	defer rows.Close()
	for rows.Next() {
		var h int64
		var raw []byte
		if err := rows.Scan(&h, &raw); err != nil {
			return nil, models.Wrap(models.ErrInternal, err, "scan block hash")
		}
		var hash [32]byte
		copy(hash[:], raw)
		snap.BlockHashes[uint64(h)] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, models.Wrap(models.ErrInternal, err, "iterate block hashes")
	}
	if snap.SyncHeight, err = s.SyncHeight(ctx); err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

func (s *PostgresStore) Load(ctx context.Context, data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Wrap(models.ErrInvalidEncoding, err, "storage snapshot")
	}
	for _, table := range []string{"wallet_outputs", "wallet_transactions", "wallet_block_hashes", "wallet_state"} {
		if _, err := s.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return models.Wrap(models.ErrInternal, err, "reset %s", table)
		}
	}
	for _, o := range snap.Outputs {
		if err := s.PutOutput(ctx, o); err != nil {
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
