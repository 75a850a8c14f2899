// Package postgres implements the durable audit trail for budget events.
package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"nexus/internal/budget"
	"nexus/internal/domain"
	"nexus/pkg/errors"
)

// PrivacyAuditRepository persists budget events. It satisfies
// budget.AuditSink, so it can be handed to the accountant directly.
type PrivacyAuditRepository struct {
	db *sqlx.DB
}

// NewPrivacyAuditRepository creates a new PrivacyAuditRepository.
func NewPrivacyAuditRepository(db *sqlx.DB) *PrivacyAuditRepository {
	return &PrivacyAuditRepository{db: db}
}

func (r *PrivacyAuditRepository) create(ctx context.Context, row *domain.PrivacyAuditLog) error {
	query := `
		INSERT INTO privacy_schema.query_audit_log (
			id, principal, action, query_type, epsilon, remaining_epsilon, created_at
		) VALUES (
			:id, :principal, :action, :query_type, :epsilon, :remaining_epsilon, :created_at
		)
	`

	_, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return errors.Wrap(err, "failed to create privacy audit entry")
	}

	return nil
}

// RecordConsumption writes one successful budget spend.
func (r *PrivacyAuditRepository) RecordConsumption(ctx context.Context, ev budget.ConsumptionEvent) error {
	queryType := ev.QueryType
	epsilon := ev.Epsilon
	remaining := ev.Remaining

	return r.create(ctx, &domain.PrivacyAuditLog{
		ID:               uuid.New(),
		Principal:        ev.Principal,
		Action:           domain.AuditActionConsume,
		QueryType:        &queryType,
		Epsilon:          &epsilon,
		RemainingEpsilon: &remaining,
		CreatedAt:        ev.Timestamp,
	})
}

// RecordReset writes one budget reset.
func (r *PrivacyAuditRepository) RecordReset(ctx context.Context, principal string, at time.Time) error {
	return r.create(ctx, &domain.PrivacyAuditLog{
		ID:        uuid.New(),
		Principal: principal,
		Action:    domain.AuditActionReset,
		CreatedAt: at,
	})
}

// FindByPrincipal returns a principal's audit rows, newest first.
func (r *PrivacyAuditRepository) FindByPrincipal(ctx context.Context, principal string, limit, offset int) ([]*domain.PrivacyAuditLog, error) {
	var rows []*domain.PrivacyAuditLog
	query := `
		SELECT
			id, principal, action, query_type, epsilon, remaining_epsilon, created_at
		FROM privacy_schema.query_audit_log
		WHERE principal = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &rows, query, principal, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find privacy audit entries")
	}
	return rows, nil
}
