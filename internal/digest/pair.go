package digest

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
)

// Mode distinguishes plain hashing from keyed HMAC.
type Mode string

const (
	ModeHash Mode = "Hash"
	ModeHMAC Mode = "HMAC"
)

// Accumulator is one running digest.
type Accumulator interface {
	Update(p []byte)
	FinalizeHex() string
}

type hashAccumulator struct {
	h hash.Hash
}

func (a *hashAccumulator) Update(p []byte) {
	a.h.Write(p) // hash.Hash writes never fail
}

func (a *hashAccumulator) FinalizeHex() string {
	return hex.EncodeToString(a.h.Sum(nil))
}

// Pair holds the independent transmit and receive accumulators for one
// session. Each side must be fed in byte order and finalized once, after
// all of its bytes were consumed.
type Pair struct {
	Algorithm string
	Mode      Mode

	tx, rx Accumulator
}

// New builds a Pair for algorithm. A nil key selects plain hashing; any
// non-nil key (including an empty one) selects HMAC over the algorithm.
func New(algorithm string, key []byte) (*Pair, error) {
	fn, err := Lookup(algorithm)
	if err != nil {
		return nil, err
	}

	p := &Pair{Algorithm: Normalize(algorithm), Mode: ModeHash}
	if key != nil {
		p.Mode = ModeHMAC
		p.tx = &hashAccumulator{h: hmac.New(fn, key)}
		p.rx = &hashAccumulator{h: hmac.New(fn, key)}
		return p, nil
	}
	p.tx = &hashAccumulator{h: fn()}
	p.rx = &hashAccumulator{h: fn()}
	return p, nil
}

// UpdateTX feeds transmitted bytes.
func (p *Pair) UpdateTX(b []byte) { p.tx.Update(b) }

// UpdateRX feeds received bytes.
func (p *Pair) UpdateRX(b []byte) { p.rx.Update(b) }

// Finalize returns the hex digests of both sides.
func (p *Pair) Finalize() (txHex, rxHex string) {
	return p.tx.FinalizeHex(), p.rx.FinalizeHex()
}
