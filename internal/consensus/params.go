package consensus

import (
	"sort"

	"github.com/rawblock/veilwallet/pkg/models"
)

// Chain constants. Values, not derivations.
const (
	MoneySupply            = uint64(18_440_000_000_000_000) // atomic units
	AtomicPerCoin          = uint64(100_000_000)
	EmissionSpeedFactor    = 19
	TailEmissionPerMinute  = uint64(60_000_000) // 0.6 coin/minute floor
	GenesisReward          = uint64(6_000_000_000_000)
	RingSize               = 16
	CoinbaseUnlockWindow   = 60
	DefaultSpendableAge    = 10
	MaxTxSize              = 1_000_000
	MaxExtraSize           = 1060
	DifficultyTargetV1     = 60         // seconds, pre-fork
	DifficultyTargetV2     = 120        // seconds
	FeePerByte             = uint64(30) // atomic
	BulletproofPlusMaxOuts = 16
	DefaultAssetType       = "SAL"

	// Classic difficulty window.
	DifficultyWindow = 720
	DifficultyCut    = 60
	DifficultyLag    = 15

	// LWMA2 window.
	LWMAWindow = 70
)

// Hard-fork versions of interest.
const (
	ForkLWMA         = 3 // switch to LWMA2 difficulty
	ForkCLSAG        = 5 // CLSAG + oracle pricing records
	ForkBulletproof2 = 6
	ForkCarrot       = 7 // new address scheme outputs
)

// NetworkPorts groups a network's default ports.
type NetworkPorts struct {
	P2P       int
	JSONRPC   int
	BinaryRPC int
}

// Ports returns the default ports for a network.
func Ports(net models.Network) NetworkPorts {
	switch net {
	case models.Testnet:
		return NetworkPorts{P2P: 29080, JSONRPC: 29081, BinaryRPC: 29083}
	case models.Stagenet:
		return NetworkPorts{P2P: 39080, JSONRPC: 39081, BinaryRPC: 39083}
	default:
		return NetworkPorts{P2P: 19080, JSONRPC: 19081, BinaryRPC: 19083}
	}
}

// forkPoint is one activation in a hard-fork schedule.
type forkPoint struct {
	Height  uint64
	Version uint64
}

var forkSchedules = map[models.Network][]forkPoint{
	models.Mainnet: {
		{0, 1}, {1, 2}, {89_300, 3}, {195_000, 4}, {290_000, 5}, {385_000, 6}, {481_000, 7},
	},
	models.Testnet: {
		{0, 1}, {1, 2}, {700, 3}, {1_400, 4}, {2_100, 5}, {2_800, 6}, {3_500, 7},
	},
	models.Stagenet: {
		{0, 1}, {1, 2}, {10_000, 3}, {25_000, 4}, {50_000, 5}, {75_000, 6}, {100_000, 7},
	},
}

// HfVersionForHeight returns the highest fork version activated at or below
// the height.
func HfVersionForHeight(net models.Network, height uint64) uint64 {
	sched := forkSchedules[net]
	// Schedules are sorted ascending by height.
	i := sort.Search(len(sched), func(i int) bool { return sched[i].Height > height })
	if i == 0 {
		return 1
	}
	return sched[i-1].Version
}

// DifficultyTarget returns the block target spacing active at a version.
func DifficultyTarget(version uint64) uint64 {
	if version >= 2 {
		return DifficultyTargetV2
	}
	return DifficultyTargetV1
}
