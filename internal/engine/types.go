package engine

import (
	"context"
	"time"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/mock_network_client.go -package=mocks github.com/devblac/otc-reconciler/internal/engine NetworkClient

// NetworkClient performs one logical read against a network. (nil, nil) means not found.
type NetworkClient interface {
	Network() source.Network
	Enabled() bool
	Lookup(ctx context.Context, h txhash.Hash) (*source.Observation, error)
}

// Tag is a reconciliation classification or flag.
type Tag string

const (
	TagDuplicate        Tag = "DUPLICIDADE"
	TagNotFound         Tag = "HASH_NAO_ENCONTRADO"
	TagOK               Tag = "OK"
	TagValueMismatch    Tag = "DIVERGENCIA_VALOR"
	TagNetworkCurrency  Tag = "DIVERGENCIA_REDE_MOEDA"
	TagLedgerCorrection Tag = "CORRECAO_PLANILHA"
	TagWalletMismatch   Tag = "CARTEIRA_DESTINO_NAO_CONFERE"
	TagAmbiguousNetwork Tag = "REDE_AMBIGUA"
)

// DefaultTolerance is the largest amount difference treated as rounding.
var DefaultTolerance = decimal.RequireFromString("0.01")

// WalletVerdict says whether the destination belongs to the ledger's client.
type WalletVerdict string

const (
	WalletUnknown  WalletVerdict = "unknown"
	WalletMatch    WalletVerdict = "match"
	WalletMismatch WalletVerdict = "mismatch"
)

// Outcome is the reconciliation result for one ledger group.
type Outcome struct {
	RunID             string                `json:"run_id,omitempty"`
	Key               string                `json:"key"`
	Hash              string                `json:"hash"`
	Clients           []string              `json:"clients"`
	Lines             []int                 `json:"lines,omitempty"`
	Expected          decimal.Decimal       `json:"expected"`
	Classification    Tag                   `json:"classification"`
	Status            Tag                   `json:"status"`
	Flags             []Tag                 `json:"flags,omitempty"`
	Observation       *source.Observation   `json:"observation,omitempty"`
	Candidates        []*source.Observation `json:"candidates,omitempty"`
	Network           source.Network        `json:"network,omitempty"`
	Reason            string                `json:"reason,omitempty"`
	Remediation       string                `json:"remediation,omitempty"`
	RowsRemediation   string                `json:"rows_remediation,omitempty"`
	WalletVerdict     WalletVerdict         `json:"wallet_verdict"`
	WalletRemediation string                `json:"wallet_remediation,omitempty"`
	CheckedAt         time.Time             `json:"checked_at"`
}

// HasFlag reports whether tag is attached to the outcome.
func (o Outcome) HasFlag(tag Tag) bool {
	for _, f := range o.Flags {
		if f == tag {
			return true
		}
	}
	return false
}

// Clean reports an OK outcome with nothing to follow up.
func (o Outcome) Clean() bool {
	return o.Classification == TagOK && len(o.Flags) == 0 && o.Remediation == ""
}

// ProgressFunc receives (completed, total) after each identifier.
type ProgressFunc func(done, total int)
