package db

import (
	"context"

	"github.com/rawblock/veilwallet/pkg/models"
)

// BlockHashWindow is how many recent block hashes each backend retains for
// reorg detection (a ring buffer keyed by height).
const BlockHashWindow = 10_000

// Store is the wallet storage consumed by the sync engine, scanner and
// builder. Every method except Close takes a context so async backends can
// conform. All
// mutations are idempotent keyed upserts; a second PutOutput with the same
// key image updates mutable fields only.
type Store interface {
	PutOutput(ctx context.Context, out models.OwnedOutput) error
	GetOutput(ctx context.Context, keyImage [32]byte) (*models.OwnedOutput, error)
	GetOutputs(ctx context.Context, filter models.OutputFilter) ([]models.OwnedOutput, error)
	MarkOutputSpent(ctx context.Context, keyImage [32]byte, txid [32]byte, height uint64) error
	HasSpentKeyImage(ctx context.Context, keyImage [32]byte) (bool, error)
	FreezeOutput(ctx context.Context, keyImage [32]byte, frozen bool) error

	PutTransaction(ctx context.Context, rec models.WalletTransaction) error
	GetTransaction(ctx context.Context, txid [32]byte) (*models.WalletTransaction, error)
	GetTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.WalletTransaction, error)

	SyncHeight(ctx context.Context) (uint64, error)
	SetSyncHeight(ctx context.Context, height uint64) error

	PutBlockHash(ctx context.Context, height uint64, hash [32]byte) error
	GetBlockHash(ctx context.Context, height uint64) (*[32]byte, error)
	DeleteBlockHashesAbove(ctx context.Context, height uint64) error

	// Reorg rollback: drop or revert everything above the common ancestor.
	DeleteOutputsAbove(ctx context.Context, height uint64) error
	DeleteTransactionsAbove(ctx context.Context, height uint64) error
	UnspendOutputsAbove(ctx context.Context, height uint64) error

	// Whole-database serialization for external persistence.
	Dump(ctx context.Context) ([]byte, error)
	Load(ctx context.Context, data []byte) error

	Close() error
}

// mergeOutput applies the idempotent-upsert rule: the stored record keeps
// its identity fields. The confirmation height is filled in only when the
// stored one is unset, a non-zero global index replaces the stored one, and
// the spent and frozen flags are ORed, so an upsert can set them but never
// clear them; spend height and txid follow an update that is spent.
func mergeOutput(existing, update models.OwnedOutput) models.OwnedOutput {
	merged := existing
	if existing.BlockHeight == 0 && update.BlockHeight != 0 {
		merged.BlockHeight = update.BlockHeight
	}
	if update.GlobalIndex != 0 {
		merged.GlobalIndex = update.GlobalIndex
	}
	merged.IsSpent = update.IsSpent || existing.IsSpent
	if update.IsSpent {
		merged.SpentHeight = update.SpentHeight
		merged.SpentTxID = update.SpentTxID
	}
	// A re-scan never thaws an output the user froze.
	merged.IsFrozen = existing.IsFrozen || update.IsFrozen
	return merged
}
