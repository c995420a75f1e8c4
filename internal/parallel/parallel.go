// Package parallel splits independent output planes of a kernel across a
// bounded number of goroutines.
//
// The inference model is single threaded; fan-out is an opt-in on top of it.
// Every helper joins all of its goroutines before returning, so callers never
// observe concurrent work after a kernel call completes.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls fan-out.
type Config struct {
	Workers  int // Goroutines to use; <= 1 runs inline
	MinItems int // Below this many items the loop runs inline
}

// Sequential returns the default single-threaded configuration.
func Sequential() Config {
	return Config{Workers: 1}
}

// Threads returns a configuration with n workers; n <= 0 means one worker per
// CPU.
func Threads(n int) Config {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return Config{Workers: n, MinItems: 2}
}

// Enabled reports whether For would start goroutines for n items.
func (c Config) Enabled(n int) bool {
	return c.Workers > 1 && n >= max(c.MinItems, 2)
}

// For calls f(i) for every i in [0, n). Items are split into contiguous
// chunks, one per worker; each index is visited exactly once.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled(n) {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	workers := min(cfg.Workers, n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForPlanes iterates the (batch, channel) planes of an NCHW output, the unit
// of work for convolution and pooling kernels.
func ForPlanes(batch, channels int, f func(n, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
