// Package report renders reconciliation outcomes for the desk: a
// spreadsheet-friendly CSV and a list of findings that need action.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/devblac/otc-reconciler/internal/engine"
	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/shopspring/decimal"
)

// FileName is the report's default file name.
const FileName = "relatorio_hash.csv"

// Separator matches what spreadsheet software expects in pt-BR locales.
const Separator = ';'

const bom = "\ufeff"

var header = []string{
	"hash",
	"clientes",
	"rede",
	"moeda",
	"valor_total_planilha",
	"valor_blockchain",
	"status_validacao",
	"sinalizacoes",
	"motivo_erro",
	"orientacao_correcao",
	"endereco_remetente",
	"endereco_destino",
	"carteira_destino_ok",
	"data_consulta",
}

// Write renders outcomes as a ';'-separated CSV prefixed with a UTF-8 BOM.
func Write(w io.Writer, outcomes []engine.Outcome) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	cw.Comma = Separator
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, o := range outcomes {
		if err := cw.Write(record(o)); err != nil {
			return fmt.Errorf("write %s: %w", o.Key, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the report as FileName under dir and returns its path.
func WriteFile(dir string, outcomes []engine.Outcome) (string, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if err := Write(f, outcomes); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func record(o engine.Outcome) []string {
	var token, observed, from, to string
	if obs := o.Observation; obs != nil {
		token, from, to = obs.Token, obs.From, obs.To
		if obs.HasAmount() {
			observed = FormatAmount(obs.Amount.Decimal)
		}
	}
	flags := make([]string, 0, len(o.Flags))
	for _, f := range o.Flags {
		flags = append(flags, string(f))
	}
	checked := ""
	if !o.CheckedAt.IsZero() {
		checked = o.CheckedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		o.Hash,
		strings.Join(o.Clients, " | "),
		string(o.Network),
		token,
		FormatAmount(o.Expected),
		observed,
		string(o.Classification),
		strings.Join(flags, ","),
		o.Reason,
		joinNonEmpty(" ", o.Remediation, o.RowsRemediation),
		from,
		to,
		walletCell(o.WalletVerdict),
		checked,
	}
}

// FormatAmount renders a decimal with a comma as the decimal separator.
func FormatAmount(d decimal.Decimal) string {
	return strings.Replace(d.String(), ".", ",", 1)
}

func walletCell(v engine.WalletVerdict) string {
	switch v {
	case engine.WalletMatch:
		return "SIM"
	case engine.WalletMismatch:
		return "NAO"
	default:
		return ""
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// Kind names an inconsistency listed for follow-up.
type Kind string

const (
	KindValueMismatch   Kind = Kind(engine.TagValueMismatch)
	KindNotFound        Kind = Kind(engine.TagNotFound)
	KindDuplicate       Kind = Kind(engine.TagDuplicate)
	KindCorrection      Kind = Kind(engine.TagLedgerCorrection)
	KindWalletMismatch  Kind = Kind(engine.TagWalletMismatch)
	KindNetworkCurrency Kind = Kind(engine.TagNetworkCurrency)
	KindMissingHash     Kind = "SEM_HASH"
)

// Inconsistency is one finding that needs a human.
type Inconsistency struct {
	Kind        Kind     `json:"tipo"`
	Hash        string   `json:"hash,omitempty"`
	Clients     []string `json:"clientes,omitempty"`
	Lines       []int    `json:"linhas,omitempty"`
	Expected    string   `json:"valor_planilha,omitempty"`
	Observed    string   `json:"valor_blockchain,omitempty"`
	Destination string   `json:"endereco_destino,omitempty"`
	Reason      string   `json:"motivo_erro,omitempty"`
	Remediation string   `json:"orientacao_correcao,omitempty"`
}

// Inconsistencies lists every finding of outcomes in order, followed by the
// ledger rows that carry no hash at all.
func Inconsistencies(outcomes []engine.Outcome, unhashed []ledger.Row) []Inconsistency {
	var out []Inconsistency
	for _, o := range outcomes {
		base := Inconsistency{Hash: o.Hash, Clients: o.Clients, Remediation: o.Remediation}
		switch o.Classification {
		case engine.TagValueMismatch:
			base.Kind = KindValueMismatch
			base.Expected, base.Observed = FormatAmount(o.Expected), observed(o)
			out = append(out, base)
		case engine.TagNotFound:
			base.Kind = KindNotFound
			base.Reason = o.Reason
			out = append(out, base)
		case engine.TagDuplicate:
			base.Kind = KindDuplicate
			base.Lines = o.Lines
			out = append(out, base)
		case engine.TagOK, engine.TagLedgerCorrection:
			if o.Remediation != "" {
				base.Kind = KindCorrection
				base.Expected, base.Observed = FormatAmount(o.Expected), observed(o)
				out = append(out, base)
			}
		}
		if o.WalletVerdict == engine.WalletMismatch {
			item := Inconsistency{Kind: KindWalletMismatch, Hash: o.Hash, Clients: o.Clients, Remediation: o.WalletRemediation}
			if o.Observation != nil {
				item.Destination = o.Observation.To
			}
			out = append(out, item)
		}
		if o.HasFlag(engine.TagNetworkCurrency) {
			out = append(out, Inconsistency{
				Kind:        KindNetworkCurrency,
				Hash:        o.Hash,
				Clients:     o.Clients,
				Lines:       o.Lines,
				Expected:    FormatAmount(o.Expected),
				Remediation: o.RowsRemediation,
			})
		}
	}
	for _, r := range unhashed {
		item := Inconsistency{
			Kind:        KindMissingHash,
			Clients:     []string{r.Client},
			Expected:    FormatAmount(r.Amount),
			Remediation: "Informe o hash na planilha para validar.",
		}
		if r.Line > 0 {
			item.Lines = []int{r.Line}
		}
		out = append(out, item)
	}
	return out
}

func observed(o engine.Outcome) string {
	if o.Observation == nil || !o.Observation.HasAmount() {
		return ""
	}
	return FormatAmount(o.Observation.Amount.Decimal)
}

// Count is the number of outcomes per classification.
type Count struct {
	Classification engine.Tag
	N              int
}

// Summarize counts outcomes per classification, most frequent first.
func Summarize(outcomes []engine.Outcome) []Count {
	byTag := map[engine.Tag]int{}
	for _, o := range outcomes {
		byTag[o.Classification]++
	}
	out := make([]Count, 0, len(byTag))
	for tag, n := range byTag {
		out = append(out, Count{Classification: tag, N: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].N != out[j].N {
			return out[i].N > out[j].N
		}
		return out[i].Classification < out[j].Classification
	})
	return out
}
