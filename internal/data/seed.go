package data

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// DeriveSeed derives a worker seed from the root seed. Derived seeds differ
// from the root and from each other, so workers never share a random stream
// with the control thread or with their siblings.
func DeriveSeed(root int64, worker int) int64 {
	seed := mix64(int64(uint64(root) ^ (uint64(worker)+1)*0x9E3779B97F4A7C15))
	if seed == root {
		seed++
	}
	return seed
}

func shuffleSeed(root, pass int64) int64 {
	return mix64(int64(uint64(root) ^ (uint64(pass)+1)*0xD1B54A32D192ED03))
}

func mix64(x int64) int64 {
	z := uint64(x)
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return int64(z)
}

// DefaultWorkers sizes the prefetch pool from the physical core count,
// falling back to the scheduler's view when detection fails.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}
