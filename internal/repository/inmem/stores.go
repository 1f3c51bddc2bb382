package inmem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
)

// HoldStore keeps financial holds in memory.
type HoldStore struct {
	mu    sync.RWMutex
	holds map[string]models.FinancialHold
	// failReads makes every read fail, for exercising fail-closed gating.
	failReads error
}

// NewHoldStore constructs an empty hold store.
func NewHoldStore() *HoldStore {
	return &HoldStore{holds: make(map[string]models.FinancialHold)}
}

// FailReads makes subsequent reads return err; nil restores normal behaviour.
func (s *HoldStore) FailReads(err error) {
	s.mu.Lock()
	s.failReads = err
	s.mu.Unlock()
}

// ActiveHolds returns a student's active holds.
func (s *HoldStore) ActiveHolds(ctx context.Context, studentID string) ([]models.FinancialHold, error) {
	return s.filter(func(h models.FinancialHold) bool { return h.StudentID == studentID && h.Active })
}

// ListByStudent returns all holds of a student, newest first.
func (s *HoldStore) ListByStudent(ctx context.Context, studentID string) ([]models.FinancialHold, error) {
	holds, err := s.filter(func(h models.FinancialHold) bool { return h.StudentID == studentID })
	sort.SliceStable(holds, func(i, j int) bool { return holds[i].RaisedAt.After(holds[j].RaisedAt) })
	return holds, err
}

// ActiveByReason returns all active holds raised for reason.
func (s *HoldStore) ActiveByReason(ctx context.Context, reason string) ([]models.FinancialHold, error) {
	return s.filter(func(h models.FinancialHold) bool { return h.Reason == reason && h.Active })
}

// Raise stores an active hold; one active hold per student and reason.
func (s *HoldStore) Raise(ctx context.Context, hold *models.FinancialHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.holds {
		if h.Active && h.StudentID == hold.StudentID && h.Reason == hold.Reason {
			return fmt.Errorf("raise hold: %w", repository.ErrDuplicate)
		}
	}
	if hold.ID == "" {
		hold.ID = uuid.NewString()
	}
	if hold.RaisedAt.IsZero() {
		hold.RaisedAt = time.Now().UTC()
	}
	hold.Active = true
	s.holds[hold.ID] = *hold
	return nil
}

// Clear deactivates a hold.
func (s *HoldStore) Clear(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[id]
	if !ok || !h.Active {
		return nil
	}
	h.Active = false
	h.ClearedAt = &at
	s.holds[id] = h
	return nil
}

func (s *HoldStore) filter(keep func(models.FinancialHold) bool) ([]models.FinancialHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failReads != nil {
		return nil, s.failReads
	}
	var out []models.FinancialHold
	for _, h := range s.holds {
		if keep(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].RaisedAt.Before(out[j].RaisedAt)
	})
	return out, nil
}

// InvoiceStore mirrors billing invoices in memory.
type InvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]models.Invoice
}

// NewInvoiceStore constructs an empty invoice store.
func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{invoices: make(map[string]models.Invoice)}
}

// Put inserts or replaces an invoice; used to seed billing data.
func (s *InvoiceStore) Put(invoice models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	s.invoices[invoice.ID] = invoice
}

// ListOverdue returns open invoices due before cutoff.
func (s *InvoiceStore) ListOverdue(ctx context.Context, cutoff time.Time) ([]models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Invoice
	for _, inv := range s.invoices {
		if inv.Status == models.InvoiceStatusOpen && inv.PaidAt == nil && inv.DueAt.Before(cutoff) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

// ConfigurationStore keeps admin settings and their audit entries in memory.
type ConfigurationStore struct {
	mu      sync.RWMutex
	configs map[string]models.Configuration
	audit   *AuditStore
}

// NewConfigurationStore constructs a store writing audit entries to audit (may be nil).
func NewConfigurationStore(audit *AuditStore) *ConfigurationStore {
	return &ConfigurationStore{configs: make(map[string]models.Configuration), audit: audit}
}

// ListByKeys returns stored configurations among keys, ordered by key.
func (s *ConfigurationStore) ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Configuration
	for _, key := range keys {
		if cfg, ok := s.configs[key]; ok {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get returns one configuration or sql.ErrNoRows.
func (s *ConfigurationStore) Get(ctx context.Context, key string) (*models.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &cfg, nil
}

// UpsertAudited stores cfg and records audit.
func (s *ConfigurationStore) UpsertAudited(ctx context.Context, cfg *models.Configuration, audit *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	s.configs[cfg.Key] = *cfg
	if audit != nil && s.audit != nil {
		return s.audit.CreateAuditLog(ctx, audit)
	}
	return nil
}

// AuditStore collects audit entries in memory.
type AuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

// NewAuditStore constructs an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// CreateAuditLog appends an entry.
func (s *AuditStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log == nil {
		return errors.New("nil audit log")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, *log)
	return nil
}

// Entries returns a copy of the recorded entries, optionally filtered by action.
func (s *AuditStore) Entries(action string) []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for _, e := range s.entries {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
