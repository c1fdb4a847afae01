package engine

import (
	"fmt"
	"strings"

	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/shopspring/decimal"
)

const notFoundReason = "Não encontrado em TRC20 nem ERC20 (ou rede indisponível)."

// WalletRegistry is the read-only client → wallets lookup. *ledger.Registry satisfies it.
type WalletRegistry interface {
	Len() int
	Wallets(clients ...string) map[string]struct{}
	Owner(addr string, exclude ...string) string
}

// Input is everything the classifier looks at for one group.
type Input struct {
	Group      ledger.Group
	Resolution Resolution
	Tolerance  decimal.Decimal
	Wallets    WalletRegistry
}

// Classify turns a resolution into an outcome. The amount status is decided
// first (duplicate, not found, within tolerance or not); network/currency
// disagreement and the destination wallet check attach as flags.
func Classify(in Input) Outcome {
	g, res := in.Group, in.Resolution
	tolerance := in.Tolerance
	if tolerance.IsZero() {
		tolerance = DefaultTolerance
	}

	out := Outcome{
		Key:           g.Key,
		Hash:          g.Hash.Raw,
		Clients:       g.Clients,
		Lines:         g.Lines(),
		Expected:      g.Total,
		Observation:   res.Observation,
		Candidates:    res.Candidates,
		Remediation:   res.Remediation,
		WalletVerdict: WalletUnknown,
	}
	obs := res.Observation

	switch {
	case obs == nil || !obs.HasAmount():
		out.Status = TagNotFound
	case withinTolerance(g.Total, obs.Amount.Decimal, tolerance):
		out.Status = TagOK
	default:
		out.Status = TagValueMismatch
	}
	if out.Status == TagNotFound {
		out.Reason = notFoundText(res.Errors)
	} else {
		out.Network = obs.Network
	}

	switch {
	case g.Duplicate():
		out.Classification = TagDuplicate
	case out.Status == TagOK:
		out.Classification = TagOK
		if note, declared := correctionNote(g, obs); declared {
			out.Classification = TagLedgerCorrection
			if out.Remediation == "" {
				out.Remediation = note
			}
		}
	default:
		out.Classification = out.Status
	}

	if res.Ambiguous {
		out.Flags = append(out.Flags, TagAmbiguousNetwork)
	}
	if g.InconsistentNetworkCurrency() {
		out.Flags = append(out.Flags, TagNetworkCurrency)
		out.RowsRemediation = "Para o mesmo hash, as colunas Rede e Moeda devem ser idênticas em todas as linhas. Unifique os valores na planilha."
	}
	checkWallet(&out, g, obs, in.Wallets)
	return out
}

// correctionNote names the ledger columns that disagree with obs. declared
// is true only when a column that was filled in disagrees; a blank column
// is mentioned in the note but is not a ledger error by itself.
func correctionNote(g ledger.Group, obs *source.Observation) (note string, declared bool) {
	if obs == nil {
		return "", false
	}
	var parts []string
	if obs.Network != "" && g.Network != obs.Network {
		parts = append(parts, fmt.Sprintf("coluna \"Rede\" de %s para %s", orBlank(string(g.Network)), obs.Network))
		declared = declared || g.Network != ""
	}
	if obs.Token != "" && source.NormalizeToken(g.Currency) != obs.Token {
		parts = append(parts, fmt.Sprintf("coluna \"Moeda\" de %s para %s", orBlank(g.Currency), obs.Token))
		declared = declared || strings.TrimSpace(g.Currency) != ""
	}
	if len(parts) == 0 {
		return "", false
	}
	return fmt.Sprintf("Atenção: ajuste na planilha para o(s) cliente(s) %s: altere a %s.",
		clientList(g.Clients), strings.Join(parts, " e a ")), declared
}

func checkWallet(out *Outcome, g ledger.Group, obs *source.Observation, reg WalletRegistry) {
	if reg == nil || reg.Len() == 0 || obs == nil || obs.To == "" {
		return
	}
	wallets := reg.Wallets(g.Clients...)
	if len(wallets) == 0 {
		return
	}
	dest := ledger.NormalizeAddress(obs.To)
	if _, ok := wallets[dest]; ok {
		out.WalletVerdict = WalletMatch
		return
	}

	out.WalletVerdict = WalletMismatch
	out.Flags = append(out.Flags, TagWalletMismatch)
	clients := strings.Join(g.Clients, ", ")
	if other := reg.Owner(dest, g.Clients...); other != "" {
		out.WalletRemediation = fmt.Sprintf("A transferência foi para a carteira do cliente %q (%s), mas a planilha indica o(s) cliente(s): %s. Verifique qual é a carteira de destino da operação.", other, obs.To, clients)
		return
	}
	out.WalletRemediation = fmt.Sprintf("Destino na blockchain (%s) não consta nas carteiras do(s) cliente(s) da planilha (%s) nem de outros clientes cadastrados. Verifique o cadastro de carteiras.", obs.To, clients)
}

func notFoundText(errs []error) string {
	if len(errs) == 0 {
		return notFoundReason
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return notFoundReason + " Erros: " + strings.Join(msgs, "; ")
}

func clientList(clients []string) string {
	if len(clients) == 0 {
		return "este registro"
	}
	return strings.Join(clients, ", ")
}

func orBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(vazio)"
	}
	return s
}
