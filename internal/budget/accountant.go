package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nexus/pkg/logger"
)

// ErrNonPositiveEpsilon rejects consume calls with a zero, negative, or
// non-numeric epsilon before any ledger is touched.
var ErrNonPositiveEpsilon = errors.New("epsilon must be positive")

// ExhaustedError reports a consume call that would have pushed a ledger
// past its total. The exact figures let the caller retry with a smaller
// epsilon; the ledger is guaranteed untouched.
type ExhaustedError struct {
	Principal string
	Requested float64
	Available float64
	Total     float64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("insufficient privacy budget for %s: requested %.4f, available %.4f of %.4f",
		e.Principal, e.Requested, e.Available, e.Total)
}

// ConsumptionEvent describes one successful spend for the audit sink.
type ConsumptionEvent struct {
	Principal string
	QueryType string
	Epsilon   float64
	Remaining float64
	Timestamp time.Time
}

// AuditSink receives budget events for durable audit. Implementations are
// best-effort from the accountant's point of view: failures are logged
// and never fail the query.
type AuditSink interface {
	RecordConsumption(ctx context.Context, ev ConsumptionEvent) error
	RecordReset(ctx context.Context, principal string, at time.Time) error
}

// Suggestion carries three candidate epsilon values derived from the
// remaining budget, always conservative <= moderate <= liberal <= remaining.
type Suggestion struct {
	Conservative float64 `json:"conservative"`
	Moderate     float64 `json:"moderate"`
	Liberal      float64 `json:"liberal"`
}

// Config sets the accountant's per-principal defaults.
type Config struct {
	TotalEpsilon float64
	HistoryLimit int
}

// Accountant owns the principal-to-ledger map. Ledger creation is lazy
// and race-free; all per-ledger mutation goes through the ledger's own
// critical section.
type Accountant struct {
	mu           sync.RWMutex
	ledgers      map[string]*Ledger
	total        decimal.Decimal
	historyLimit int
	audit        AuditSink
	logger       logger.Logger
}

// NewAccountant builds an accountant. audit may be nil for pure in-memory
// operation.
func NewAccountant(cfg Config, audit AuditSink, log logger.Logger) *Accountant {
	if cfg.TotalEpsilon <= 0 {
		cfg.TotalEpsilon = 10.0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Accountant{
		ledgers:      make(map[string]*Ledger),
		total:        decimal.NewFromFloat(cfg.TotalEpsilon),
		historyLimit: cfg.HistoryLimit,
		audit:        audit,
		logger:       log,
	}
}

// ledger returns the principal's ledger, creating it on first reference.
// The double-checked insertion guarantees two concurrent first-queries
// for the same unseen principal share one ledger.
func (a *Accountant) ledger(principal string) *Ledger {
	if principal == "" {
		principal = AnonymousPrincipal
	}

	a.mu.RLock()
	l, ok := a.ledgers[principal]
	a.mu.RUnlock()
	if ok {
		return l
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.ledgers[principal]; ok {
		return l
	}
	l = newLedger(principal, a.total)
	a.ledgers[principal] = l
	return l
}

// Consume atomically checks and spends epsilon from the principal's
// budget and appends a query record. On success it returns the remaining
// budget; on shortfall it returns an *ExhaustedError and the ledger is
// unchanged.
func (a *Accountant) Consume(ctx context.Context, principal string, epsilon float64, queryType string) (float64, error) {
	if !(epsilon > 0) {
		return 0, ErrNonPositiveEpsilon
	}

	l := a.ledger(principal)
	remaining, err := l.consume(decimal.NewFromFloat(epsilon), queryType)
	if err != nil {
		return 0, err
	}

	rem := remaining.InexactFloat64()
	if a.audit != nil {
		ev := ConsumptionEvent{
			Principal: l.principal,
			QueryType: queryType,
			Epsilon:   epsilon,
			Remaining: rem,
			Timestamp: time.Now().UTC(),
		}
		if auditErr := a.audit.RecordConsumption(ctx, ev); auditErr != nil {
			a.logger.Warn("Failed to record budget consumption", map[string]interface{}{
				"principal": l.principal,
				"error":     auditErr.Error(),
			})
		}
	}

	return rem, nil
}

// Inspect returns a consistent snapshot of the principal's ledger,
// creating a fresh one on first reference.
func (a *Accountant) Inspect(principal string) Snapshot {
	return a.ledger(principal).snapshot(a.historyLimit)
}

// History returns the principal's most recent consumption records. A
// non-positive limit falls back to the configured default.
func (a *Accountant) History(principal string, limit int) []QueryRecord {
	if limit <= 0 {
		limit = a.historyLimit
	}
	return a.ledger(principal).snapshot(limit).Queries
}

// Suggest derives candidate epsilon values from the remaining budget:
// conservative min(0.1, r/10), moderate min(0.5, r/3), liberal
// min(1.0, r/2). Read-only; nothing is spent.
func (a *Accountant) Suggest(principal string, sensitivity float64) (Suggestion, float64, string) {
	if !(sensitivity > 0) {
		sensitivity = 1.0
	}

	r := a.ledger(principal).remaining().InexactFloat64()
	s := Suggestion{
		Conservative: min(0.1, r/10),
		Moderate:     min(0.5, r/3),
		Liberal:      min(1.0, r/2),
	}

	explanation := fmt.Sprintf(
		"You have %.4f epsilon remaining. Conservative suggestion: %.4f (noise scale %.2f), "+
			"Moderate suggestion: %.4f (noise scale %.2f), Liberal suggestion: %.4f (noise scale %.2f)",
		r,
		s.Conservative, noiseScale(sensitivity, s.Conservative),
		s.Moderate, noiseScale(sensitivity, s.Moderate),
		s.Liberal, noiseScale(sensitivity, s.Liberal),
	)

	return s, r, explanation
}

func noiseScale(sensitivity, epsilon float64) float64 {
	if epsilon <= 0 {
		return 0
	}
	return sensitivity / epsilon
}

// Reset zeroes the principal's consumed budget and clears its in-memory
// history. The policy choice (clear rather than retain) follows the
// literal reset semantics; the Postgres audit trail remains the durable
// history when one is configured.
func (a *Accountant) Reset(ctx context.Context, principal string) {
	l := a.ledger(principal)
	l.reset()

	if a.audit != nil {
		if err := a.audit.RecordReset(ctx, l.principal, time.Now().UTC()); err != nil {
			a.logger.Warn("Failed to record budget reset", map[string]interface{}{
				"principal": l.principal,
				"error":     err.Error(),
			})
		}
	}
}

// Export copies every ledger into its serializable state, for the
// snapshot store.
func (a *Accountant) Export() map[string]LedgerState {
	a.mu.RLock()
	ledgers := make([]*Ledger, 0, len(a.ledgers))
	for _, l := range a.ledgers {
		ledgers = append(ledgers, l)
	}
	a.mu.RUnlock()

	out := make(map[string]LedgerState, len(ledgers))
	for _, l := range ledgers {
		out[l.principal] = l.state()
	}
	return out
}

// Restore loads previously exported ledger states, replacing any ledgers
// with the same principal. States violating 0 <= consumed <= total are
// skipped and logged rather than trusted.
func (a *Accountant) Restore(states map[string]LedgerState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for principal, st := range states {
		if principal == "" || st.TotalEpsilon <= 0 || st.ConsumedEpsilon < 0 || st.ConsumedEpsilon > st.TotalEpsilon {
			a.logger.Warn("Skipping invalid ledger state on restore", map[string]interface{}{
				"principal": principal,
				"total":     st.TotalEpsilon,
				"consumed":  st.ConsumedEpsilon,
			})
			continue
		}

		l := newLedger(principal, decimal.NewFromFloat(st.TotalEpsilon))
		l.consumed = decimal.NewFromFloat(st.ConsumedEpsilon)
		l.history = append(l.history, st.History...)
		if !st.CreatedAt.IsZero() {
			l.createdAt = st.CreatedAt
		}
		a.ledgers[principal] = l
	}
}
