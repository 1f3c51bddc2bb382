package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/pkg/jobs"
)

// NotificationSink delivers one notification to an external channel.
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

type publisher interface {
	Publish(ctx context.Context, channel string, value interface{}) error
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name implements NotificationSink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements NotificationSink.
func (s *LogSink) Deliver(ctx context.Context, n models.Notification) error {
	s.logger.Info("notification",
		zap.String("notification_id", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.String("student_id", n.StudentID),
		zap.String("section_id", n.SectionID),
		zap.String("message", n.Message),
	)
	return nil
}

// PubSubSink publishes notifications on a Redis channel for the campus
// messaging service.
type PubSubSink struct {
	publisher publisher
	channel   string
}

// NewPubSubSink constructs a PubSubSink.
func NewPubSubSink(p publisher, channel string) *PubSubSink {
	return &PubSubSink{publisher: p, channel: channel}
}

// Name implements NotificationSink.
func (s *PubSubSink) Name() string { return "pubsub:" + s.channel }

// Deliver implements NotificationSink.
func (s *PubSubSink) Deliver(ctx context.Context, n models.Notification) error {
	return s.publisher.Publish(ctx, s.channel, n)
}

// NotificationConfig tunes the delivery queue.
type NotificationConfig struct {
	Workers    int
	BufferSize int
	Clock      func() time.Time
}

// NotificationService is fire-and-forget: Notify enqueues, workers fan out to
// every sink, and failures are logged without touching registration state.
type NotificationService struct {
	sinks   []NotificationSink
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	clock   func() time.Time
}

// NewNotificationService constructs the service; call Start before Notify.
func NewNotificationService(sinks []NotificationSink, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	s := &NotificationService{sinks: sinks, metrics: metrics, logger: logger, clock: cfg.Clock}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues a notification. It never returns an error to callers.
func (s *NotificationService) Notify(n models.Notification) {
	if s == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock()
	}
	if err := s.queue.Enqueue(jobs.Job{ID: n.ID, Type: string(n.Kind), Payload: n}); err != nil {
		s.logger.Warn("notification dropped", zap.String("kind", string(n.Kind)), zap.String("student_id", n.StudentID), zap.Error(err))
		s.metrics.RecordNotification(string(n.Kind), err)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		return nil
	}
	var failed error
	for _, sink := range s.sinks {
		// A retry re-delivers to every sink; sinks are expected to be idempotent on ID.
		if err := sink.Deliver(ctx, n); err != nil {
			s.logger.Warn("notification delivery failed", zap.String("sink", sink.Name()), zap.String("notification_id", n.ID), zap.Error(err))
			failed = fmt.Errorf("deliver via %s: %w", sink.Name(), err)
		}
	}
	s.metrics.RecordNotification(string(n.Kind), failed)
	return failed
}
