package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/devblac/otc-reconciler/internal/metrics"
	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Pacer spaces out explorer queries. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Resolution is what the resolver concluded about one group.
type Resolution struct {
	Observation *source.Observation
	// Candidates holds both observations when each network matched the ledger amount.
	Candidates    []*source.Observation
	Ambiguous     bool
	Disambiguated bool
	Remediation   string
	Errors        []error
}

// Resolver decides which network to ask first and disambiguates mismatches
// by asking both networks at once.
type Resolver struct {
	tron      NetworkClient
	eth       NetworkClient
	pacer     Pacer
	tolerance decimal.Decimal
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewResolver builds a resolver over the TRON and Ethereum clients. Either
// client may be nil; a nil pacer never waits.
func NewResolver(tron, eth NetworkClient, pacer Pacer, tolerance decimal.Decimal, m *metrics.Metrics, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if tolerance.IsZero() {
		tolerance = DefaultTolerance
	}
	return &Resolver{tron: tron, eth: eth, pacer: pacer, tolerance: tolerance, metrics: m, log: log}
}

// Resolve never fails on network trouble; lookup errors are kept in the
// resolution. The only error returned is ctx's.
func (r *Resolver) Resolve(ctx context.Context, g ledger.Group) (Resolution, error) {
	var res Resolution
	for _, c := range r.order(g) {
		obs, err := r.lookup(ctx, c, g.Hash)
		if err != nil {
			res.Errors = append(res.Errors, err)
		}
		if obs != nil {
			res.Observation = obs
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if r.matches(g.Total, res.Observation) {
		return res, nil
	}

	if r.pacer != nil {
		if err := r.pacer.Wait(ctx); err != nil {
			return res, err
		}
	}
	r.log.Debug("amount not confirmed, querying both networks", "hash", g.Hash.Short())
	tronObs, ethObs, errs := r.both(ctx, g.Hash)
	res.Errors = append(res.Errors, errs...)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	tronOK, ethOK := r.matches(g.Total, tronObs), r.matches(g.Total, ethObs)
	switch {
	case tronOK && ethOK:
		res.Observation = tronObs
		res.Candidates = []*source.Observation{tronObs, ethObs}
		res.Ambiguous = true
		res.Remediation = "Transação encontrada em TRC20 e ERC20 com o mesmo valor. Confirme manualmente qual rede/moeda foi utilizada e ajuste as colunas \"Rede\" e \"Moeda\"."
		if note, _ := correctionNote(g, tronObs); note != "" {
			res.Remediation = note + " " + res.Remediation
		}
	case tronOK || ethOK:
		accepted := tronObs
		if ethOK {
			accepted = ethObs
		}
		res.Observation = accepted
		res.Disambiguated = true
		res.Remediation, _ = correctionNote(g, accepted)
		if res.Remediation == "" {
			res.Remediation = fmt.Sprintf("A transação foi concluída na rede %s. Corrija na planilha a coluna \"Rede\" para %s.", accepted.Network, accepted.Network)
		}
	default:
		if res.Observation == nil {
			res.Observation = firstNonNil(tronObs, ethObs)
		}
		if res.Observation != nil {
			res.Remediation = "Valor na blockchain difere da planilha em ambas as redes. Verifique o valor e a rede (TRC20/ERC20) na planilha; se a operação foi em outra rede, corrija a coluna \"Rede\"."
		}
	}
	return res, nil
}

// order is Ethereum first when the ledger declares it, TRON first otherwise.
// Ethereum is only a fallback when it is enabled and the hash is well formed.
func (r *Resolver) order(g ledger.Group) []NetworkClient {
	var out []NetworkClient
	if g.Network == source.ERC20 {
		out = appendClient(out, r.eth)
		return appendClient(out, r.tron)
	}
	out = appendClient(out, r.tron)
	if r.ethEligible(g.Hash) {
		out = append(out, r.eth)
	}
	return out
}

func (r *Resolver) ethEligible(h txhash.Hash) bool {
	return r.eth != nil && r.eth.Enabled() && h.Valid()
}

// both queries the two networks concurrently and waits for both.
func (r *Resolver) both(ctx context.Context, h txhash.Hash) (tronObs, ethObs *source.Observation, errs []error) {
	var tronErr, ethErr error
	var eg errgroup.Group
	if r.tron != nil {
		eg.Go(func() error {
			tronObs, tronErr = r.lookup(ctx, r.tron, h)
			return nil
		})
	}
	if r.ethEligible(h) {
		eg.Go(func() error {
			ethObs, ethErr = r.lookup(ctx, r.eth, h)
			return nil
		})
	}
	_ = eg.Wait()
	for _, err := range []error{tronErr, ethErr} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return tronObs, ethObs, errs
}

func (r *Resolver) lookup(ctx context.Context, c NetworkClient, h txhash.Hash) (*source.Observation, error) {
	network := c.Network()
	obs, err := c.Lookup(ctx, h)
	switch {
	case err != nil:
		limited := errors.Is(err, source.ErrRateLimited)
		r.log.Warn("lookup failed", "hash", h.Short(), "network", network, "rate_limited", limited, "error", err)
		r.metrics.Lookup(string(network), "error")
		if limited {
			r.metrics.RateLimited(string(network))
		}
		return nil, fmt.Errorf("%s: %w", network, err)
	case obs == nil:
		r.metrics.Lookup(string(network), "not_found")
	default:
		r.metrics.Lookup(string(network), "found")
	}
	return obs, nil
}

func (r *Resolver) matches(expected decimal.Decimal, obs *source.Observation) bool {
	return obs != nil && obs.HasAmount() && withinTolerance(expected, obs.Amount.Decimal, r.tolerance)
}

func withinTolerance(expected, observed, tolerance decimal.Decimal) bool {
	return expected.Sub(observed).Abs().LessThanOrEqual(tolerance)
}

func appendClient(list []NetworkClient, c NetworkClient) []NetworkClient {
	if c == nil {
		return list
	}
	return append(list, c)
}

func firstNonNil(list ...*source.Observation) *source.Observation {
	for _, o := range list {
		if o != nil {
			return o
		}
	}
	return nil
}
