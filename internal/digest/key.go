package digest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKeyEncoding is returned for a 0x-prefixed key that is not hex.
var ErrInvalidKeyEncoding = errors.New("invalid hex for hmac key")

// ParseKey decodes an HMAC key given on the command line. An empty string
// means no key (nil). A "0x" prefix selects hex decoding of the remainder;
// anything else is used as its literal bytes.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		if rest == "" {
			return []byte{}, nil
		}
		key, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		return key, nil
	}
	return []byte(s), nil
}
