// Package domain holds persistence-facing models shared across services.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded for privacy budget events.
const (
	AuditActionConsume = "consume"
	AuditActionReset   = "reset"
)

// PrivacyAuditLog is one durable budget event. Unlike the in-memory
// ledger history, rows here survive resets and restarts.
type PrivacyAuditLog struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Principal        string    `db:"principal" json:"principal"`
	Action           string    `db:"action" json:"action"`
	QueryType        *string   `db:"query_type" json:"query_type,omitempty"`
	Epsilon          *float64  `db:"epsilon" json:"epsilon,omitempty"`
	RemainingEpsilon *float64  `db:"remaining_epsilon" json:"remaining_epsilon,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
