// Package budget tracks cumulative privacy loss per principal. Each
// principal owns a Ledger; the Accountant owns the principal-to-ledger
// map and exposes atomic consume, inspect, suggest, and reset operations.
package budget

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AnonymousPrincipal is the ledger key used when no principal could be
// resolved for a request.
const AnonymousPrincipal = "default_user"

// QueryRecord is one consumption event in a ledger's history.
type QueryRecord struct {
	Epsilon   float64   `json:"epsilon"`
	QueryType string    `json:"query_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a consistent point-in-time view of one principal's ledger.
type Snapshot struct {
	Principal        string        `json:"principal"`
	TotalEpsilon     float64       `json:"total_epsilon"`
	ConsumedEpsilon  float64       `json:"consumed_epsilon"`
	RemainingEpsilon float64       `json:"remaining_epsilon"`
	UsagePercentage  float64       `json:"usage_percentage"`
	Queries          []QueryRecord `json:"queries"`
	CreatedAt        time.Time     `json:"created_at"`
}

// LedgerState is the serializable form of a ledger, used by the snapshot
// store to carry ledgers across restarts.
type LedgerState struct {
	TotalEpsilon    float64       `json:"total_epsilon"`
	ConsumedEpsilon float64       `json:"consumed_epsilon"`
	History         []QueryRecord `json:"history"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Ledger is the per-principal record of granted and spent budget. Epsilon
// arithmetic runs on decimals so cumulative consumption is exact and
// independent of the order concurrent spenders arrive in; the float64
// values callers see are derived at the edges.
//
// A ledger owns its mutex; different principals never contend.
type Ledger struct {
	mu        sync.Mutex
	principal string
	total     decimal.Decimal
	consumed  decimal.Decimal
	history   []QueryRecord
	createdAt time.Time
}

func newLedger(principal string, total decimal.Decimal) *Ledger {
	return &Ledger{
		principal: principal,
		total:     total,
		consumed:  decimal.Zero,
		createdAt: time.Now().UTC(),
	}
}

// consume is the single critical section of the whole package: read,
// bound-check, update, and append happen under one lock acquisition, so
// 0 <= consumed <= total holds at every observable instant and no two
// spenders can both take the last slice of budget.
func (l *Ledger) consume(eps decimal.Decimal, queryType string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.consumed.Add(eps)
	if next.Cmp(l.total) > 0 {
		return decimal.Zero, &ExhaustedError{
			Principal: l.principal,
			Requested: eps.InexactFloat64(),
			Available: l.total.Sub(l.consumed).InexactFloat64(),
			Total:     l.total.InexactFloat64(),
		}
	}

	l.consumed = next
	l.history = append(l.history, QueryRecord{
		Epsilon:   eps.InexactFloat64(),
		QueryType: queryType,
		Timestamp: time.Now().UTC(),
	})

	return l.total.Sub(l.consumed), nil
}

// reset zeroes the consumed counter and clears the in-memory history.
// The durable audit trail, when configured, is untouched.
func (l *Ledger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consumed = decimal.Zero
	l.history = nil
}

func (l *Ledger) remaining() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.total.Sub(l.consumed)
}

// snapshot copies the ledger under its lock. limit bounds the history to
// the most recent entries; limit <= 0 means everything.
func (l *Ledger) snapshot(limit int) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	queries := make([]QueryRecord, len(history))
	copy(queries, history)

	total := l.total.InexactFloat64()
	consumed := l.consumed.InexactFloat64()
	usage := 0.0
	if total > 0 {
		usage = consumed / total * 100
	}

	return Snapshot{
		Principal:        l.principal,
		TotalEpsilon:     total,
		ConsumedEpsilon:  consumed,
		RemainingEpsilon: l.total.Sub(l.consumed).InexactFloat64(),
		UsagePercentage:  usage,
		Queries:          queries,
		CreatedAt:        l.createdAt,
	}
}

func (l *Ledger) state() LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := make([]QueryRecord, len(l.history))
	copy(history, l.history)

	return LedgerState{
		TotalEpsilon:    l.total.InexactFloat64(),
		ConsumedEpsilon: l.consumed.InexactFloat64(),
		History:         history,
		CreatedAt:       l.createdAt,
	}
}
