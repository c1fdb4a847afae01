package txhash

import (
	"encoding/hex"
	"strings"
)

// Hash holds the two canonical forms of a user-supplied transaction identifier.
// Bare is the TRON form (64 lowercase hex, no marker). Prefixed is the Ethereum
// form; for malformed input it keeps the trimmed original so the explorer can
// still be asked about it.
type Hash struct {
	Raw      string
	Bare     string
	Prefixed string
	valid    bool
}

// Canonicalize never fails; malformed input yields forms that lookups report as not found.
func Canonicalize(raw string) Hash {
	trimmed := strings.TrimSpace(raw)
	bare := strings.ToLower(trimPrefix(trimmed))

	h := Hash{Raw: trimmed, Bare: bare}
	if isHex64(bare) {
		h.valid = true
		h.Prefixed = "0x" + bare
		return h
	}
	h.Prefixed = trimmed
	return h
}

// Valid reports whether the identifier is exactly 64 hex characters once the marker is stripped.
func (h Hash) Valid() bool { return h.valid }

// Key is the grouping key: the bare form when valid, the lowercased input otherwise.
func (h Hash) Key() string {
	if h.valid {
		return h.Bare
	}
	return strings.ToLower(h.Raw)
}

// Short returns a log-friendly prefix of the key.
func (h Hash) Short() string {
	k := h.Key()
	if len(k) <= 16 {
		return k
	}
	return k[:16] + "..."
}

func (h Hash) String() string { return h.Prefixed }

func trimPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
