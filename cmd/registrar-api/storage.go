package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/internal/repository/inmem"
	"github.com/noah-isme/registrar-api/pkg/config"
	"github.com/noah-isme/registrar-api/pkg/database"
)

type registrationBackend interface {
	WithinTx(ctx context.Context, fn func(tx repository.RegistrationTx) error) error
	GetSection(ctx context.Context, id string) (*models.CourseSection, error)
	ListSections(ctx context.Context, filter models.SectionFilter) ([]models.CourseSection, int, error)
	CreateSection(ctx context.Context, section *models.CourseSection) error
	WaitlistEntries(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
	ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
	PromotableSections(ctx context.Context) ([]string, error)
}

type holdBackend interface {
	ActiveHolds(ctx context.Context, studentID string) ([]models.FinancialHold, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.FinancialHold, error)
	ActiveByReason(ctx context.Context, reason string) ([]models.FinancialHold, error)
	Raise(ctx context.Context, hold *models.FinancialHold) error
	Clear(ctx context.Context, id string, at time.Time) error
}

type invoiceBackend interface {
	ListOverdue(ctx context.Context, cutoff time.Time) ([]models.Invoice, error)
}

type settingsBackend interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error)
	Get(ctx context.Context, key string) (*models.Configuration, error)
	UpsertAudited(ctx context.Context, cfg *models.Configuration, audit *models.AuditLog) error
}

type auditBackend interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type stores struct {
	registrations registrationBackend
	holds         holdBackend
	invoices      invoiceBackend
	settings      settingsBackend
	audit         auditBackend
	ping          func(ctx context.Context) error
	close         func() error
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgresStores(db), nil
	case config.StorageMemory, "":
		logr.Warn("using in-memory storage; state is lost on restart")
		audit := inmem.NewAuditStore()
		return &stores{
			registrations: inmem.NewRegistrationStore(),
			holds:         inmem.NewHoldStore(),
			invoices:      inmem.NewInvoiceStore(),
			settings:      inmem.NewConfigurationStore(audit),
			audit:         audit,
			ping:          func(context.Context) error { return nil },
			close:         func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func postgresStores(db *sqlx.DB) *stores {
	return &stores{
		registrations: repository.NewRegistrationRepository(db),
		holds:         repository.NewHoldRepository(db),
		invoices:      repository.NewInvoiceRepository(db),
		settings:      repository.NewConfigurationRepository(db),
		audit:         repository.NewAuditRepository(db),
		ping:          db.PingContext,
		close:         db.Close,
	}
}
