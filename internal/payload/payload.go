// Package payload produces the byte buffer streamed to the echo device.
//
// Two modes are supported: cryptographically random bytes (not
// reproducible) and a deterministic expansion of a 64-bit seed that yields
// bit-identical output on every run and every implementation:
//
//	block[i] = SHA-256(le64(seed) || le64(i))
//	payload  = block[0] || block[1] || ... truncated to n bytes
//
// The seeded stream is test data only; it provides no secrecy.
package payload

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// Generator builds payloads. Random is the byte source for unseeded
// payloads; nil means crypto/rand.
type Generator struct {
	Random io.Reader
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{Random: rand.Reader}
}

// Generate returns exactly n bytes. A nil seed draws from the random
// source, otherwise the output is Seeded(n, *seed).
func (g *Generator) Generate(n int, seed *uint64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("payload: negative size %d", n)
	}
	if seed != nil {
		return Seeded(n, *seed), nil
	}

	src := g.Random
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, fmt.Errorf("payload: random source: %w", err)
	}
	return buf, nil
}

// Seeded expands seed into n deterministic bytes. The output is prefix
// stable: Seeded(n, s) is always a prefix of Seeded(n+k, s).
func Seeded(n int, seed uint64) []byte {
	if n <= 0 {
		return []byte{}
	}

	var block [16]byte
	binary.LittleEndian.PutUint64(block[:8], seed)

	blocks := (n + sha256.Size - 1) / sha256.Size
	out := make([]byte, 0, blocks*sha256.Size)
	for counter := uint64(0); len(out) < n; counter++ {
		binary.LittleEndian.PutUint64(block[8:], counter)
		sum := sha256.Sum256(block[:])
		out = append(out, sum[:]...)
	}
	return out[:n]
}
