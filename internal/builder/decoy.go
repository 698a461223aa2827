package builder

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sort"

	"github.com/rawblock/veilwallet/pkg/models"
)

// Decoy sampling draws ring members from the chain's RingCT output
// distribution with a triangular bias toward recent outputs, the shape that
// best mimics real spend-age behavior.

func cryptoFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / float64(1<<53)
}

// sampleTriangular draws a global index in [0, total) with density rising
// linearly toward total (recent outputs).
func sampleTriangular(total uint64) uint64 {
	u := cryptoFloat64()
	idx := uint64(math.Sqrt(u) * float64(total))
	if idx >= total {
		idx = total - 1
	}
	return idx
}

// SampleDecoys picks ringSize−1 distinct decoy global indices, never equal
// to realIndex, from a pool of totalOutputs RingCT outputs.
func SampleDecoys(totalOutputs, realIndex uint64, ringSize int) ([]uint64, error) {
	if totalOutputs < uint64(ringSize) {
		return nil, models.Errorf(models.ErrRingAssemblyFailed,
			"chain has %d outputs, ring needs %d", totalOutputs, ringSize)
	}

	picked := map[uint64]struct{}{realIndex: {}}
	decoys := make([]uint64, 0, ringSize-1)
	for attempts := 0; len(decoys) < ringSize-1; attempts++ {
		if attempts > ringSize*1000 {
			return nil, models.Errorf(models.ErrRingAssemblyFailed,
				"decoy sampling stalled after %d attempts", attempts)
		}
		idx := sampleTriangular(totalOutputs)
		if _, dup := picked[idx]; dup {
			continue
		}
		picked[idx] = struct{}{}
		decoys = append(decoys, idx)
	}
	return decoys, nil
}

// AssembleRing interleaves the real index with decoys in ascending order
// and returns the member list plus the real member's ring position.
func AssembleRing(realIndex uint64, decoys []uint64) (indices []uint64, realPos int) {
	indices = append([]uint64{realIndex}, decoys...)
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for i, idx := range indices {
		if idx == realIndex {
			realPos = i
			break
		}
	}
	return indices, realPos
}

// RingOffsets delta-encodes sorted global indices: first absolute, the rest
// positive deltas.
func RingOffsets(indices []uint64) []uint64 {
	out := make([]uint64, len(indices))
	var prev uint64
	for i, idx := range indices {
		if i == 0 {
			out[i] = idx
		} else {
			out[i] = idx - prev
		}
		prev = idx
	}
	return out
}

// AbsoluteIndices reverses RingOffsets.
func AbsoluteIndices(offsets []uint64) []uint64 {
	out := make([]uint64, len(offsets))
	var acc uint64
	for i, d := range offsets {
		acc += d
		out[i] = acc
	}
	return out
}
