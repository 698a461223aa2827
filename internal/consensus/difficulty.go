package consensus

import (
	"math/big"
	"sort"
)

// NextDifficulty picks the algorithm for the active fork version.
// timestamps and cumulativeDiffs are the most recent blocks, oldest first,
// and must be the same length.
func NextDifficulty(timestamps []uint64, cumulativeDiffs []uint64, version uint64) uint64 {
	if version >= ForkLWMA {
		return nextDifficultyLWMA2(timestamps, cumulativeDiffs, DifficultyTarget(version))
	}
	return nextDifficultyClassic(timestamps, cumulativeDiffs, DifficultyTarget(version))
}

// nextDifficultyClassic is the original CryptoNote retarget: window 720,
// lag 15, cut 60 outliers off each end of the sorted timestamps.
func nextDifficultyClassic(timestamps []uint64, cumulativeDiffs []uint64, target uint64) uint64 {
	n := len(timestamps)
	if n > len(cumulativeDiffs) {
		n = len(cumulativeDiffs)
	}
	if n > DifficultyWindow+DifficultyLag {
		timestamps = timestamps[n-(DifficultyWindow+DifficultyLag):]
		cumulativeDiffs = cumulativeDiffs[n-(DifficultyWindow+DifficultyLag):]
		n = DifficultyWindow + DifficultyLag
	}
	// The newest DifficultyLag blocks are left out of the window.
	if n > DifficultyWindow {
		timestamps = timestamps[:DifficultyWindow]
		cumulativeDiffs = cumulativeDiffs[:DifficultyWindow]
		n = DifficultyWindow
	}
	if n <= 1 {
		return 1
	}

	ts := append([]uint64{}, timestamps...)
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	cutBegin, cutEnd := 0, n
	if n > DifficultyWindow-2*DifficultyCut {
		cutBegin = (n - (DifficultyWindow - 2*DifficultyCut) + 1) / 2
		cutEnd = cutBegin + (DifficultyWindow - 2*DifficultyCut)
	}
	timeSpan := ts[cutEnd-1] - ts[cutBegin]
	if timeSpan == 0 {
		timeSpan = 1
	}
	work := cumulativeDiffs[cutEnd-1] - cumulativeDiffs[cutBegin]

	// difficulty = ⌈work · target / time_span⌉ with 128-bit intermediates.
	num := new(big.Int).SetUint64(work)
	num.Mul(num, new(big.Int).SetUint64(target))
	num.Add(num, new(big.Int).SetUint64(timeSpan-1))
	num.Div(num, new(big.Int).SetUint64(timeSpan))
	if !num.IsUint64() || num.Uint64() == 0 {
		return 1
	}
	return num.Uint64()
}

// lwmaClampFactor bounds a single solve time to ±7 targets.
const lwmaClampFactor = 7

// nextDifficultyLWMA2 is the post-fork retarget: linearly weighted moving
// average over 70 solve times with per-block clamping.
func nextDifficultyLWMA2(timestamps []uint64, cumulativeDiffs []uint64, target uint64) uint64 {
	n := len(timestamps)
	if n > len(cumulativeDiffs) {
		n = len(cumulativeDiffs)
	}
	if n > LWMAWindow+1 {
		timestamps = timestamps[n-(LWMAWindow+1):]
		cumulativeDiffs = cumulativeDiffs[n-(LWMAWindow+1):]
		n = LWMAWindow + 1
	}
	if n <= 1 {
		return 1
	}
	window := n - 1 // solve times between consecutive blocks

	clampHi := int64(lwmaClampFactor) * int64(target)
	clampLo := -clampHi

	weighted := int64(0)
	sumD := new(big.Int)
	for i := 1; i <= window; i++ {
		st := int64(timestamps[i]) - int64(timestamps[i-1])
		if st > clampHi {
			st = clampHi
		}
		if st < clampLo {
			st = clampLo
		}
		weighted += int64(i) * st

		d := cumulativeDiffs[i] - cumulativeDiffs[i-1]
		sumD.Add(sumD, new(big.Int).SetUint64(d))
	}
	if weighted < 1 {
		weighted = 1
	}

	// next_D = sumD · target · k / (window · weighted), k = window(window+1)/2.
	k := int64(window) * int64(window+1) / 2
	num := new(big.Int).Set(sumD)
	num.Mul(num, new(big.Int).SetUint64(target))
	num.Mul(num, big.NewInt(k))
	den := new(big.Int).Mul(big.NewInt(int64(window)), big.NewInt(weighted))
	num.Div(num, den)

	if !num.IsUint64() || num.Uint64() == 0 {
		return 1
	}
	return num.Uint64()
}
