package ledger

import (
	"strings"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
	"github.com/shopspring/decimal"
)

// Row is one ledger line as declared by the desk.
type Row struct {
	Line     int
	Client   string
	Amount   decimal.Decimal
	Network  string
	Currency string
	Hash     string
}

// Group collects every row that references one transaction.
type Group struct {
	Key      string
	Hash     txhash.Hash
	Clients  []string
	Network  source.Network
	Currency string
	Total    decimal.Decimal
	Rows     []Row
}

// Duplicate reports a transaction claimed by more than one distinct client.
func (g Group) Duplicate() bool { return len(g.Clients) > 1 }

// InconsistentNetworkCurrency reports rows of the same transaction that
// disagree on the declared network or currency.
func (g Group) InconsistentNetworkCurrency() bool {
	if len(g.Rows) <= 1 {
		return false
	}
	seen := map[string]struct{}{}
	for _, r := range g.Rows {
		network := string(source.NormalizeNetwork(r.Network))
		if network == "" {
			network = "(vazio)"
		}
		seen[network+"|"+source.NormalizeToken(r.Currency)] = struct{}{}
	}
	return len(seen) > 1
}

// Lines returns the source line numbers of the member rows.
func (g Group) Lines() []int {
	out := make([]int, 0, len(g.Rows))
	for _, r := range g.Rows {
		if r.Line > 0 {
			out = append(out, r.Line)
		}
	}
	return out
}

// GroupRows groups rows by canonical hash, in first-seen order. Totals are
// exact decimal sums, so the result does not depend on row order.
func GroupRows(rows []Row) []Group {
	index := map[string]int{}
	groups := []Group{}
	for _, r := range rows {
		h := txhash.Canonicalize(r.Hash)
		key := h.Key()
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{
				Key:      key,
				Hash:     h,
				Network:  source.NormalizeNetwork(r.Network),
				Currency: strings.TrimSpace(r.Currency),
				Total:    decimal.Zero,
			})
		}
		g := &groups[i]
		g.Rows = append(g.Rows, r)
		g.Total = g.Total.Add(r.Amount)
		g.Clients = appendDistinct(g.Clients, strings.TrimSpace(r.Client))
	}
	return groups
}

func appendDistinct(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
