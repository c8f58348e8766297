// Package units parses human-readable byte sizes used on the command line.
package units

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidSize is returned for any string outside the size grammar.
var ErrInvalidSize = errors.New("invalid size")

// suffixes are ordered longest first so "kib" wins over "b".
var suffixes = []struct {
	name string
	mult float64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"kb", 1e3},
	{"mb", 1e6},
	{"gb", 1e9},
	{"b", 1},
}

var (
	digitsRe  = regexp.MustCompile(`^[0-9]+$`)
	decimalRe = regexp.MustCompile(`^([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)
	hexRe     = regexp.MustCompile(`^0x[0-9a-f]+$`)
)

// ParseSize accepts a bare non-negative integer ("4096"), a decimal number
// with a case-insensitive unit suffix ("4KiB", "1.5MB") or a 0x-prefixed
// hex integer ("0x10"). Suffixed values are truncated toward zero.
func ParseSize(s string) (int64, error) {
	v := strings.ToLower(strings.TrimSpace(s))

	switch {
	case digitsRe.MatchString(v):
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidSize, s, err)
		}
		return n, nil
	case hexRe.MatchString(v):
		n, err := strconv.ParseInt(v[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidSize, s, err)
		}
		return n, nil
	}

	for _, suf := range suffixes {
		if !strings.HasSuffix(v, suf.name) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(v, suf.name))
		if !decimalRe.MatchString(num) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidSize, s, err)
		}
		total := math.Trunc(f * suf.mult)
		if total >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
		}
		return int64(total), nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
}
