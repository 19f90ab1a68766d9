// Package prng provides the non-cryptographic randomness the DC
// resolver uses to pick among several addresses for the same DC. It is
// deliberately separate from crypto/rand-backed entropy: address
// selection has no security property to uphold, so it is backed by
// prng-chacha's fast, non-cryptographic generator instead.
package prng

import (
	"encoding/binary"
	"fmt"
	"io"

	chacha "github.com/sixafter/prng-chacha"
)

// Reader is the package's default randomness source, backed by
// prng-chacha. Callers that need determinism in tests supply their own
// io.Reader to Intn instead of using this directly.
var Reader io.Reader = chacha.Reader

// Intn returns a uniformly distributed integer in [0, n) read from r,
// using rejection sampling over 32-bit words to avoid modulo bias.
func Intn(r io.Reader, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("prng: Intn called with n=%d", n)
	}
	if n == 1 {
		return 0, nil
	}

	max := uint32(n)
	limit := (^uint32(0) / max) * max

	var buf [4]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("prng: read entropy: %w", err)
		}
		v := binary.LittleEndian.Uint32(buf[:])
		if v < limit {
			return int(v % max), nil
		}
	}
}
