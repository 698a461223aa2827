package models

// Network selects one of the three deployed chains.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Stagenet
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "main"
	case Testnet:
		return "test"
	case Stagenet:
		return "stage"
	default:
		return "unknown"
	}
}

// AddressScheme distinguishes the legacy CryptoNote stealth scheme from the
// newer domain-separated scheme with 3-byte view tags.
type AddressScheme int

const (
	SchemeLegacy AddressScheme = iota
	SchemeNew
)

func (s AddressScheme) String() string {
	if s == SchemeNew {
		return "new"
	}
	return "legacy"
}

// AddressKind is the on-chain address flavor.
type AddressKind int

const (
	KindStandard AddressKind = iota
	KindIntegrated
	KindSubaddress
)

func (k AddressKind) String() string {
	switch k {
	case KindIntegrated:
		return "integrated"
	case KindSubaddress:
		return "subaddress"
	default:
		return "standard"
	}
}

// SubaddressIndex addresses a derived subaddress. (0,0) is the main address.
type SubaddressIndex struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// TxType mirrors the chain's transaction-type tag carried by prefix v4+.
type TxType int

const (
	TxTypeUnset TxType = iota
	TxTypeMiner
	TxTypeProtocol
	TxTypeTransfer
	TxTypeConvert
	TxTypeBurn
	TxTypeStake
	TxTypeReturn
)

// OwnedOutput is the wallet-side record of an output the view key recognized.
// Keyed by KeyImage in storage.
type OwnedOutput struct {
	TxID           [32]byte        `json:"txid"`
	OutputIndex    uint32          `json:"outputIndex"`
	GlobalIndex    uint64          `json:"globalIndex"`
	OneTimeAddress [32]byte        `json:"oneTimeAddress"`
	Amount         uint64          `json:"amount"`
	AssetType      string          `json:"assetType"`
	Commitment     [32]byte        `json:"commitment"`
	Mask           [32]byte        `json:"mask"`
	KeyImage       [32]byte        `json:"keyImage"`
	Subaddress     SubaddressIndex `json:"subaddress"`
	UnlockTime     uint64          `json:"unlockTime"`
	BlockHeight    uint64          `json:"blockHeight"`
	TxType         TxType          `json:"txType"`
	IsSpent        bool            `json:"isSpent"`
	SpentHeight    uint64          `json:"spentHeight"`
	SpentTxID      [32]byte        `json:"spentTxid"`
	IsFrozen       bool            `json:"isFrozen"`

	// Extra material the new scheme needs to re-derive the spend secret.
	SenderExtension [32]byte `json:"senderExtension,omitempty"`
	IsCoinbase      bool     `json:"isCoinbase"`
}

// WalletTransaction is the wallet's ledger view of a chain transaction that
// touched it, incoming or outgoing.
type WalletTransaction struct {
	RecordID    string   `json:"recordId"` // wallet-local uuid
	TxID        [32]byte `json:"txid"`
	BlockHeight uint64   `json:"blockHeight"` // 0 while unconfirmed
	Timestamp   int64    `json:"timestamp"`
	Fee         uint64   `json:"fee"`
	AmountIn    uint64   `json:"amountIn"`  // sum paid to us
	AmountOut   uint64   `json:"amountOut"` // sum we spent
	AssetType   string   `json:"assetType"`
	TxType      TxType   `json:"txType"`
	PaymentID   []byte   `json:"paymentId,omitempty"`
	InPool      bool     `json:"inPool"`
}

// OutputFilter narrows Store output queries. Nil members match all.
type OutputFilter struct {
	IsSpent         *bool
	IsFrozen        *bool
	AssetType       string
	TxType          *TxType
	MinAmount       uint64
	MaxAmount       uint64 // 0 = unbounded
	AccountIndex    *uint32
	SubaddressIndex *SubaddressIndex
}

// Match reports whether the output passes every set constraint.
func (f OutputFilter) Match(o OwnedOutput) bool {
	if f.IsSpent != nil && o.IsSpent != *f.IsSpent {
		return false
	}
	if f.IsFrozen != nil && o.IsFrozen != *f.IsFrozen {
		return false
	}
	if f.AssetType != "" && o.AssetType != f.AssetType {
		return false
	}
	if f.TxType != nil && o.TxType != *f.TxType {
		return false
	}
	if f.MinAmount > 0 && o.Amount < f.MinAmount {
		return false
	}
	if f.MaxAmount > 0 && o.Amount > f.MaxAmount {
		return false
	}
	if f.AccountIndex != nil && o.Subaddress.Major != *f.AccountIndex {
		return false
	}
	if f.SubaddressIndex != nil && o.Subaddress != *f.SubaddressIndex {
		return false
	}
	return true
}

// TransactionFilter narrows Store transaction queries.
type TransactionFilter struct {
	TxType    *TxType
	AssetType string
	MinHeight uint64
	MaxHeight uint64 // 0 = unbounded
	InPool    *bool
}

// Match reports whether the record passes every set constraint.
func (f TransactionFilter) Match(t WalletTransaction) bool {
	if f.TxType != nil && t.TxType != *f.TxType {
		return false
	}
	if f.AssetType != "" && t.AssetType != f.AssetType {
		return false
	}
	if f.MinHeight > 0 && t.BlockHeight < f.MinHeight {
		return false
	}
	if f.MaxHeight > 0 && t.BlockHeight > f.MaxHeight {
		return false
	}
	if f.InPool != nil && t.InPool != *f.InPool {
		return false
	}
	return true
}
