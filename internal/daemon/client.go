package daemon

import (
	"context"
)

// Info is the daemon's view of the chain.
type Info struct {
	Height       uint64 `json:"height"`
	TargetHeight uint64 `json:"target_height"`
	Difficulty   uint64 `json:"difficulty"`
	Nettype      string `json:"nettype"`
	Synchronized bool   `json:"synchronized"`
}

// BlockTemplate is a mining work unit.
type BlockTemplate struct {
	BlockTemplateBlob string `json:"blocktemplate_blob"`
	BlockHashingBlob  string `json:"blockhashing_blob"`
	Difficulty        uint64 `json:"difficulty"`
	Height            uint64 `json:"height"`
	SeedHash          string `json:"seed_hash"`
	ExpectedReward    uint64 `json:"expected_reward"`
}

// RawBlock is one block blob plus its transaction blobs.
type RawBlock struct {
	Block []byte
	Txs   [][]byte
}

// TxEntry is one result of get_transactions.
type TxEntry struct {
	TxHash      string   `json:"tx_hash"`
	AsHex       string   `json:"as_hex"`
	AsJSON      string   `json:"as_json"`
	BlockHeight uint64   `json:"block_height"`
	OutputIdxs  []uint64 `json:"output_indices"`
	InPool      bool     `json:"in_pool"`
}

// Distribution is the chain's output-count distribution for one amount
// (amount 0 covers all RingCT outputs).
type Distribution struct {
	Amount       uint64   `json:"amount"`
	Distribution []uint64 `json:"distribution"`
	StartHeight  uint64   `json:"start_height"`
	Base         uint64   `json:"base"`
}

// OutRequest addresses one chain output by amount and global index.
type OutRequest struct {
	Amount uint64 `json:"amount"`
	Index  uint64 `json:"index"`
}

// OutEntry is the daemon's record of one chain output.
type OutEntry struct {
	Key      [32]byte
	Mask     [32]byte
	Unlocked bool
	Height   uint64
	TxID     string
}

// Key-image spent status values.
const (
	KeyImageUnspent      = 0
	KeyImageSpentInChain = 1
	KeyImageSpentInPool  = 2
)

// Client is the remote-node surface the core consumes. The transport is an
// external collaborator; HTTPClient is the reference implementation.
type Client interface {
	GetInfo(ctx context.Context) (*Info, error)
	GetBlockTemplate(ctx context.Context, walletAddress string, reserveSize int) (*BlockTemplate, error)
	SubmitBlock(ctx context.Context, blobHex string) error
	GetBlocksByHeight(ctx context.Context, heights []uint64) ([]RawBlock, error)
	GetTransactions(ctx context.Context, hashes []string, decodeAsJSON bool) ([]TxEntry, error)
	GetOutputDistribution(ctx context.Context, fromHeight, toHeight uint64, cumulative bool) ([]Distribution, error)
	GetOuts(ctx context.Context, reqs []OutRequest) ([]OutEntry, error)
	SendRawTransaction(ctx context.Context, txHex string) error
	IsKeyImageSpent(ctx context.Context, keyImages []string) ([]int, error)
	GetPoolTxHashes(ctx context.Context) ([]string, error)
}
