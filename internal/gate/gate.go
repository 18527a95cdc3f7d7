// Package gate authenticates callers and enforces per endpoint class
// request budgets before any store work happens.
//
// Every request moves UNCHECKED -> AUTHENTICATED -> RATE_OK -> ADMITTED, or
// stops at REJECTED. The credential is always checked first, so an
// unauthenticated caller never consumes budget.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
)

// Class is the unit of rate-limit budgeting.
type Class string

const (
	ClassIngestion Class = "ingestion"
	ClassExport    Class = "export"
	ClassStats     Class = "stats"
)

// Budget caps requests per window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Budgets maps each endpoint class to its budget.
type Budgets map[Class]Budget

// DefaultBudgets are 10, 5 and 30 requests per minute.
func DefaultBudgets() Budgets {
	return Budgets{
		ClassIngestion: {Limit: 10, Window: time.Minute},
		ClassExport:    {Limit: 5, Window: time.Minute},
		ClassStats:     {Limit: 30, Window: time.Minute},
	}
}

// BudgetsFromConfig builds budgets from the rate limit settings.
func BudgetsFromConfig(cfg config.RateLimitConfig) Budgets {
	return Budgets{
		ClassIngestion: {Limit: cfg.Ingestion, Window: cfg.Window},
		ClassExport:    {Limit: cfg.Export, Window: cfg.Window},
		ClassStats:     {Limit: cfg.Stats, Window: cfg.Window},
	}
}

// Request is what the gate needs to decide on one call.
type Request struct {
	Credential string
	Addr       string
	Class      Class
}

// Outcome labels for the decisions counter.
const (
	OutcomeAdmitted     = "admitted"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRateLimited  = "rate_limited"
	OutcomeFailOpen     = "fail_open"
)

// Metrics counts gate decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the gate counters with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbackd",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Access gate decisions by endpoint class and outcome.",
		}, []string{"class", "outcome"}),
	}
	if err := reg.Register(m.decisions); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register gate metrics: %w", err)
		}
		m.decisions = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return m, nil
}

func (m *Metrics) observe(class Class, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(class), outcome).Inc()
}

// Gate admits or rejects requests.
type Gate struct {
	keys     *Keyring
	counters CounterStore
	budgets  Budgets
	metrics  *Metrics
	logger   *logging.Logger

	// denials throttles the rate-limited log line; the metric counts all.
	denials *rate.Sometimes
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics records decisions in m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithDenialLogEvery logs the first rate-limited rejection and then at most
// one per interval. Zero logs every rejection.
func WithDenialLogEvery(interval time.Duration) Option {
	return func(g *Gate) {
		if interval <= 0 {
			g.denials = &rate.Sometimes{Every: 1}
			return
		}
		g.denials = &rate.Sometimes{First: 1, Interval: interval}
	}
}

// WithLogger sets the gate logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates a gate over an explicit keyring and counter store.
func New(keys *Keyring, counters CounterStore, budgets Budgets, opts ...Option) (*Gate, error) {
	if keys == nil || keys.Len() == 0 {
		return nil, errors.New("gate requires at least one API key")
	}
	if counters == nil {
		return nil, errors.New("gate requires a counter store")
	}
	for _, class := range []Class{ClassIngestion, ClassExport, ClassStats} {
		b, ok := budgets[class]
		if !ok {
			return nil, fmt.Errorf("missing budget for %s", class)
		}
		if b.Limit < 1 || b.Window <= 0 {
			return nil, fmt.Errorf("invalid budget for %s: %d per %s", class, b.Limit, b.Window)
		}
	}

	g := &Gate{
		keys:     keys,
		counters: counters,
		budgets:  budgets,
		logger:   logging.NewNop(),
		denials:  &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("gate")
	return g, nil
}

// Admit authenticates req and charges its class budget. It returns the
// principal on success, an *feedback.AuthError for a missing or unknown
// credential, or a *feedback.RateLimitError once the budget is spent.
//
// A counter store failure admits the request and logs a warning.
func (g *Gate) Admit(ctx context.Context, req Request) (string, error) {
	budget, ok := g.budgets[req.Class]
	if !ok {
		return "", fmt.Errorf("unknown endpoint class %q", req.Class)
	}

	if req.Credential == "" {
		g.metrics.observe(req.Class, OutcomeUnauthorized)
		g.logger.Info(ctx, "request rejected: missing credential", zap.String("addr", req.Addr))
		return "", &feedback.AuthError{Reason: "missing credential"}
	}
	principal, ok := g.keys.Lookup(req.Credential)
	if !ok {
		g.metrics.observe(req.Class, OutcomeUnauthorized)
		g.logger.Warn(ctx, "request rejected: invalid credential",
			zap.String("addr", req.Addr),
			logging.TokenHint("token_hint", req.Credential),
		)
		return "", &feedback.AuthError{Reason: "invalid credential"}
	}

	key := string(req.Class) + "|" + req.Addr
	d, err := g.counters.Take(ctx, key, budget)
	if err != nil {
		g.metrics.observe(req.Class, OutcomeFailOpen)
		g.logger.Warn(ctx, "rate limit counter unavailable, admitting request",
			zap.String("key", key),
			zap.Error(err),
		)
		return principal, nil
	}
	if !d.Allowed {
		g.metrics.observe(req.Class, OutcomeRateLimited)
		g.denials.Do(func() {
			g.logger.Info(ctx, "request rejected: rate limited",
				zap.String("principal", principal),
				zap.String("addr", req.Addr),
				zap.Duration("retry_after", d.RetryAfter),
			)
		})
		return "", &feedback.RateLimitError{
			Class:      string(req.Class),
			Limit:      budget.Limit,
			RetryAfter: d.RetryAfter,
		}
	}

	g.metrics.observe(req.Class, OutcomeAdmitted)
	return principal, nil
}

// Budget returns the budget for class.
func (g *Gate) Budget(class Class) Budget {
	return g.budgets[class]
}
