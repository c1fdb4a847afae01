package source

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Network tags as written in the ledger's "Rede" column.
type Network string

const (
	TRC20 Network = "TRC20"
	ERC20 Network = "ERC20"
)

// Supported stablecoins. USDT is the default token on both networks.
const (
	USDT = "USDT"
	USDC = "USDC"
)

// Transaction outcome states. Networks may report other values; those are kept verbatim.
const (
	StatusSuccessful = "SUCCESSFUL"
	StatusPending    = "PENDING"
	StatusFailed     = "FAILED"
	StatusUnknown    = "UNKNOWN"
)

var (
	// ErrNotFound signals the explorer has no record of the transaction.
	ErrNotFound = errors.New("transaction not found")
	// ErrRateLimited signals that throttling persisted after the bounded retries.
	ErrRateLimited = errors.New("rate limit retries exhausted")
)

// Observation is what one network says about one transaction.
// Every field except Status is optional; an invalid Amount means it could not be determined.
type Observation struct {
	Network Network             `json:"network"`
	Status  string              `json:"status"`
	Amount  decimal.NullDecimal `json:"amount"`
	Token   string              `json:"token,omitempty"`
	From    string              `json:"from,omitempty"`
	To      string              `json:"to,omitempty"`
}

// HasAmount reports whether the observation carries a resolved amount.
func (o *Observation) HasAmount() bool {
	return o != nil && o.Amount.Valid
}

// NormalizeToken maps a free-form currency label onto the supported tokens:
// anything naming Tether becomes USDT, any other non-empty label USDC.
// An empty label stays empty (undeclared).
func NormalizeToken(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	switch {
	case s == "":
		return ""
	case s == "usdt" || strings.Contains(s, "tether"):
		return USDT
	default:
		return USDC
	}
}

var networkAliases = map[string]Network{
	"TRC20":    TRC20,
	"TRC-20":   TRC20,
	"TRON":     TRC20,
	"TRX":      TRC20,
	"ERC20":    ERC20,
	"ERC-20":   ERC20,
	"ETH":      ERC20,
	"ETHEREUM": ERC20,
}

// NormalizeNetwork maps the ledger's declared network onto a Network tag.
// Unrecognized values are returned upper-cased without spaces so they still
// compare unequal to both networks.
func NormalizeNetwork(label string) Network {
	s := strings.ToUpper(strings.Join(strings.Fields(label), ""))
	if n, ok := networkAliases[s]; ok {
		return n
	}
	return Network(s)
}
