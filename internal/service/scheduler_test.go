package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository/inmem"
)

type fixedSettings struct {
	settings models.RegistrationSettings
}

func (f fixedSettings) Snapshot(ctx context.Context) (models.RegistrationSettings, error) {
	return f.settings, nil
}

type blockingSweeper struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSweeper) Sweep(ctx context.Context, now time.Time) (*HoldSweepReport, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &HoldSweepReport{}, nil
}

func TestSchedulerPromotesOnSeatFreed(t *testing.T) {
	f := newFixture(t)
	f.addSection(t, "A", 1, 3)
	f.register(t, "s1", "A", OutcomeEnrolled)
	f.register(t, "s2", "A", OutcomeWaitlisted)

	sweeper := NewInvoiceSweeper(inmem.NewInvoiceStore(), f.holds, nil, nil, 0, nil)
	scheduler := NewScheduler(f.svc, fixedSettings{f.settings}, sweeper, nil, SchedulerConfig{EventWorkers: 1, EventBuffer: 4})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	_, err := f.svc.Drop(context.Background(), f.settings, "s1", "A")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		section, err := f.store.GetSection(context.Background(), "A")
		if err != nil || section.EnrolledCount != 1 {
			return false
		}
		entries, err := f.store.WaitlistEntries(context.Background(), "A")
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, kind := range f.notes.kindsFor("s2") {
			if kind == models.NotificationPromoted {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestSchedulerManualWaitlistSweep(t *testing.T) {
	f := newFixture(t)
	f.addSection(t, "A", 1, 3)
	f.register(t, "s1", "A", OutcomeEnrolled)
	f.register(t, "s2", "A", OutcomeWaitlisted)

	sweeper := NewInvoiceSweeper(inmem.NewInvoiceStore(), f.holds, nil, nil, 0, nil)
	// Not started: seat-freed events are dropped and only the sweep promotes.
	scheduler := NewScheduler(f.svc, fixedSettings{f.settings}, sweeper, nil, SchedulerConfig{})
	_, err := f.svc.UpdateCapacity(context.Background(), "A", 2)
	require.NoError(t, err)
	assert.Len(t, f.waitlist(t, "A"), 1)

	ran, err := scheduler.RunWaitlistSweep(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Empty(t, f.waitlist(t, "A"))
	assert.Equal(t, 2, f.section(t, "A").EnrolledCount)
}

func TestSchedulerSkipsOverlappingInvoiceSweep(t *testing.T) {
	f := newFixture(t)
	sweeper := &blockingSweeper{started: make(chan struct{}), release: make(chan struct{})}
	metrics := NewMetricsService()
	scheduler := NewScheduler(f.svc, fixedSettings{f.settings}, sweeper, nil, SchedulerConfig{Metrics: metrics})

	done := make(chan bool)
	go func() {
		ran, _ := scheduler.RunInvoiceSweep(context.Background())
		done <- ran
	}()
	<-sweeper.started

	ran, err := scheduler.RunInvoiceSweep(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "a trigger during a run is skipped")

	close(sweeper.release)
	assert.True(t, <-done)
}
