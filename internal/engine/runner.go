package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/devblac/otc-reconciler/internal/metrics"
	"github.com/devblac/otc-reconciler/internal/sink"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DefaultQueryDelay spaces consecutive explorer queries.
const DefaultQueryDelay = 1200 * time.Millisecond

const defaultAlertTTL = 24 * time.Hour

// Recorder persists outcomes as they are produced.
type Recorder interface {
	SaveOutcome(ctx context.Context, o Outcome) error
}

// Deduper suppresses repeated alerts for the same finding.
type Deduper interface {
	IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error)
	MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error
}

// Options configure one reconciliation run.
type Options struct {
	RunID      string
	QueryDelay time.Duration
	Tolerance  decimal.Decimal
	Wallets    WalletRegistry
	Progress   ProgressFunc
	AlertTTL   time.Duration
	DryRun     bool
}

// Deps are the optional collaborators of a run.
type Deps struct {
	Recorder Recorder
	Deduper  Deduper
	Sinks    map[string]sink.Sender
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Runner reconciles ledger groups one identifier at a time.
type Runner struct {
	resolver *Resolver
	limiter  *rate.Limiter
	opts     Options
	deps     Deps
	log      *slog.Logger
	nowFunc  func() time.Time
}

// NewRunner builds a runner over the TRON and Ethereum clients.
func NewRunner(tron, eth NetworkClient, opts Options, deps Deps) *Runner {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if opts.Tolerance.IsZero() {
		opts.Tolerance = DefaultTolerance
	}
	if opts.AlertTTL <= 0 {
		opts.AlertTTL = defaultAlertTTL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.QueryDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.QueryDelay), 1)
	}
	return &Runner{
		resolver: NewResolver(tron, eth, limiter, opts.Tolerance, deps.Metrics, deps.Log),
		limiter:  limiter,
		opts:     opts,
		deps:     deps,
		log:      deps.Log,
		nowFunc:  time.Now,
	}
}

// Run reconciles groups in order and returns one outcome per group. If ctx is
// cancelled, the outcomes completed so far are returned with ctx's error; an
// identifier interrupted mid-resolution yields nothing.
func (r *Runner) Run(ctx context.Context, groups []ledger.Group) ([]Outcome, error) {
	total := len(groups)
	outcomes := make([]Outcome, 0, total)
	r.progress(0, total)
	if total > 0 && r.opts.QueryDelay > 0 {
		r.log.Info("pacing explorer queries", "delay", r.opts.QueryDelay)
	}

	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return outcomes, err
		}

		log := r.log.With("hash", g.Hash.Short(), "index", i+1, "total", total)
		log.Info("reconciling")
		res, err := r.resolver.Resolve(ctx, g)
		if err != nil {
			return outcomes, err
		}

		out := Classify(Input{Group: g, Resolution: res, Tolerance: r.opts.Tolerance, Wallets: r.opts.Wallets})
		out.RunID = r.opts.RunID
		out.CheckedAt = r.nowFunc().UTC()
		r.report(log, out)

		if err := r.persist(ctx, out); err != nil {
			log.Error("outcome not saved", "error", err)
		}
		if err := r.alert(ctx, out); err != nil {
			log.Warn("alert delivery failed", "error", err)
			r.deps.Metrics.Errors()
		}

		outcomes = append(outcomes, out)
		r.deps.Metrics.IdentifierProcessed()
		r.deps.Metrics.Outcome(string(out.Classification))
		r.progress(i+1, total)
	}
	return outcomes, nil
}

func (r *Runner) progress(done, total int) {
	if r.opts.Progress != nil {
		r.opts.Progress(done, total)
	}
}

func (r *Runner) report(log *slog.Logger, out Outcome) {
	attrs := []any{"classification", out.Classification, "expected", out.Expected.String()}
	if out.Observation != nil {
		attrs = append(attrs, "network", out.Observation.Network, "token", out.Observation.Token)
		if out.Observation.HasAmount() {
			attrs = append(attrs, "observed", out.Observation.Amount.Decimal.String())
		}
	}
	if len(out.Flags) > 0 {
		attrs = append(attrs, "flags", out.Flags)
	}
	switch {
	case out.Status == TagNotFound:
		log.Warn("not found", append(attrs, "reason", out.Reason)...)
	case out.Clean():
		log.Info("reconciled", attrs...)
	default:
		log.Info("needs attention", append(attrs, "remediation", out.Remediation)...)
	}
}

func (r *Runner) persist(ctx context.Context, out Outcome) error {
	if r.deps.Recorder == nil {
		return nil
	}
	if err := r.deps.Recorder.SaveOutcome(ctx, out); err != nil {
		r.deps.Metrics.Errors()
		return fmt.Errorf("save outcome %s: %w", out.Key, err)
	}
	return nil
}

// alert notifies every sink about an outcome that is not clean. The dedupe
// key covers the classification and flags, so a changed finding alerts again.
func (r *Runner) alert(ctx context.Context, out Outcome) error {
	if out.Clean() || len(r.deps.Sinks) == 0 {
		return nil
	}
	if r.deps.Deduper != nil {
		key := alertKey(out)
		now := r.nowFunc()
		dup, err := r.deps.Deduper.IsDuplicate(ctx, key, now)
		if err != nil {
			return err
		}
		if dup {
			r.deps.Metrics.AlertsDropped()
			return nil
		}
		if err := r.deps.Deduper.MarkDedupe(ctx, key, now.Add(r.opts.AlertTTL)); err != nil {
			return err
		}
	}
	if r.opts.DryRun {
		return nil
	}
	payload := toAlertPayload(out)
	for id, s := range r.deps.Sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, payload); err != nil {
			return fmt.Errorf("sink %s: %w", id, err)
		}
		r.deps.Metrics.AlertsSent()
	}
	return nil
}

func alertKey(out Outcome) string {
	key := "outcome:" + out.Key + ":" + string(out.Classification)
	for _, f := range out.Flags {
		key += ":" + string(f)
	}
	return key
}

func toAlertPayload(out Outcome) sink.AlertPayload {
	p := sink.AlertPayload{
		RunID:             out.RunID,
		Hash:              out.Hash,
		Classification:    string(out.Classification),
		Status:            string(out.Status),
		Clients:           out.Clients,
		Network:           string(out.Network),
		Expected:          out.Expected.String(),
		Reason:            out.Reason,
		Remediation:       out.Remediation,
		WalletRemediation: out.WalletRemediation,
	}
	for _, f := range out.Flags {
		p.Flags = append(p.Flags, string(f))
	}
	if obs := out.Observation; obs != nil {
		p.Token = obs.Token
		p.Destination = obs.To
		if obs.HasAmount() {
			p.Observed = obs.Amount.Decimal.String()
		}
	}
	return p
}
