package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/jobs"
)

// Job names reported to metrics and the sweep endpoints.
const (
	JobWaitlistSweep = "waitlist_sweep"
	JobInvoiceSweep  = "invoice_sweep"
	jobSeatFreed     = "seat_freed"
)

type settingsSnapshotter interface {
	Snapshot(ctx context.Context) (models.RegistrationSettings, error)
}

type waitlistPromoter interface {
	PromoteWaitlist(ctx context.Context, settings models.RegistrationSettings, sectionID string) (*PromotionReport, error)
	SweepWaitlists(ctx context.Context, settings models.RegistrationSettings) ([]PromotionReport, error)
	SubscribeSeatFreed(fn func(sectionID string))
}

type holdSweeper interface {
	Sweep(ctx context.Context, now time.Time) (*HoldSweepReport, error)
}

// SchedulerConfig tunes the background jobs.
type SchedulerConfig struct {
	WaitlistInterval time.Duration
	InvoiceInterval  time.Duration
	EventWorkers     int
	EventBuffer      int
	Clock            func() time.Time
	Metrics          *MetricsService
}

// Scheduler drives waitlist promotion from a ticker and from seat-freed
// events, and runs the daily invoice sweep. Each periodic job skips a tick
// while its previous run is still going.
type Scheduler struct {
	promoter waitlistPromoter
	settings settingsSnapshotter
	sweeper  holdSweeper
	logger   *zap.Logger
	clock    func() time.Time

	waitlistJob *jobs.Periodic
	invoiceJob  *jobs.Periodic
	events      *jobs.Queue
}

// NewScheduler wires the jobs and subscribes to seat-freed events.
func NewScheduler(promoter waitlistPromoter, settings settingsSnapshotter, sweeper holdSweeper, logger *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	s := &Scheduler{
		promoter: promoter,
		settings: settings,
		sweeper:  sweeper,
		logger:   logger,
		clock:    cfg.Clock,
	}
	var observe jobs.RunObserver
	if cfg.Metrics != nil {
		observe = cfg.Metrics.RecordSweep
	}
	s.waitlistJob = jobs.NewPeriodic(JobWaitlistSweep, cfg.WaitlistInterval, s.sweepWaitlists, observe, logger)
	s.invoiceJob = jobs.NewPeriodic(JobInvoiceSweep, cfg.InvoiceInterval, s.sweepInvoices, observe, logger)
	s.events = jobs.NewQueue(jobSeatFreed, s.handleSeatFreed, jobs.QueueConfig{
		Workers:    cfg.EventWorkers,
		BufferSize: cfg.EventBuffer,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		Coalesce:   true,
		Logger:     logger,
	})
	promoter.SubscribeSeatFreed(s.seatFreed)
	return s
}

// Start launches the event workers and both tickers.
func (s *Scheduler) Start(ctx context.Context) {
	s.events.Start(ctx)
	s.waitlistJob.Start(ctx)
	s.invoiceJob.Start(ctx)
}

// Stop halts the tickers, then the event workers.
func (s *Scheduler) Stop() {
	s.waitlistJob.Stop()
	s.invoiceJob.Stop()
	s.events.Stop()
}

// RunWaitlistSweep triggers a promotion sweep now unless one is running.
func (s *Scheduler) RunWaitlistSweep(ctx context.Context) (bool, error) {
	return s.waitlistJob.RunOnce(ctx)
}

// RunInvoiceSweep triggers an invoice sweep now unless one is running.
func (s *Scheduler) RunInvoiceSweep(ctx context.Context) (bool, error) {
	return s.invoiceJob.RunOnce(ctx)
}

func (s *Scheduler) seatFreed(sectionID string) {
	err := s.events.Enqueue(jobs.Job{ID: uuid.NewString(), Type: jobSeatFreed, Key: sectionID, Payload: sectionID})
	if err != nil {
		// The periodic sweep still picks the section up.
		s.logger.Warn("seat-freed event dropped", zap.String("section_id", sectionID), zap.Error(err))
	}
}

func (s *Scheduler) handleSeatFreed(ctx context.Context, job jobs.Job) error {
	sectionID, _ := job.Payload.(string)
	if sectionID == "" {
		return nil
	}
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	report, err := s.promoter.PromoteWaitlist(ctx, settings, sectionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if len(report.Promoted)+len(report.Requeued)+len(report.Skipped) > 0 {
		s.logger.Info("seat-freed promotion",
			zap.String("section_id", sectionID),
			zap.Int("promoted", len(report.Promoted)),
			zap.Int("requeued", len(report.Requeued)),
			zap.Int("skipped", len(report.Skipped)),
		)
	}
	return nil
}

func (s *Scheduler) sweepWaitlists(ctx context.Context) error {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	reports, err := s.promoter.SweepWaitlists(ctx, settings)
	promoted := 0
	for _, r := range reports {
		promoted += len(r.Promoted)
	}
	s.logger.Info("waitlist sweep finished", zap.Int("sections", len(reports)), zap.Int("promoted", promoted))
	return err
}

func (s *Scheduler) sweepInvoices(ctx context.Context) error {
	report, err := s.sweeper.Sweep(ctx, s.clock())
	if report != nil {
		s.logger.Info("invoice sweep finished", zap.Int("raised", len(report.Raised)), zap.Int("cleared", len(report.Cleared)))
	}
	return err
}
