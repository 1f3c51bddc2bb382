package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

const insertAuditLogQuery = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`

// AuditRepository stores audit trail entries.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAuditLog stores an audit log entry.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if err := insertAuditLog(ctx, r.db, log, time.Now().UTC()); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// insertAuditLog writes log through ext, which may be the pool or an open
// transaction. Missing ID and timestamp are filled in.
func insertAuditLog(ctx context.Context, ext sqlx.ExtContext, log *models.AuditLog, now time.Time) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	_, err := sqlx.NamedExecContext(ctx, ext, insertAuditLogQuery, log)
	return err
}
