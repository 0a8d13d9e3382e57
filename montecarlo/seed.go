// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package montecarlo

// SplitSeed derives the parameter seed of one sampling trial from the base
// seed, using the splitmix64 finalizer. Trials get decorrelated streams while
// staying a pure function of (seed, trial), which keeps estimates reproducible
// bit-for-bit.
func SplitSeed(seed int64, trial int) int64 {
	z := uint64(seed) + 0x9e3779b97f4a7c15*uint64(trial+1)
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z)
}
