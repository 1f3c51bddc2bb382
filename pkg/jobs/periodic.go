package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RunFunc is one execution of a periodic job.
type RunFunc func(ctx context.Context) error

// RunObserver receives the outcome of every tick; skipped ticks report ran=false.
type RunObserver func(name string, ran bool, duration time.Duration, err error)

// Periodic runs a job on an interval and through explicit triggers. A tick
// that arrives while a run is in flight is skipped, never queued.
type Periodic struct {
	name     string
	interval time.Duration
	run      RunFunc
	observe  RunObserver
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
	runs    sync.WaitGroup
}

// NewPeriodic constructs a periodic job.
func NewPeriodic(name string, interval time.Duration, run RunFunc, observe RunObserver, logger *zap.Logger) *Periodic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Periodic{name: name, interval: interval, run: run, observe: observe, logger: logger}
}

// Name returns the job name.
func (p *Periodic) Name() string { return p.name }

// RunOnce executes the job unless a run is already in flight. It reports
// whether the job ran. Duplicate triggers are therefore safe.
func (p *Periodic) RunOnce(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Debug("periodic run skipped", zap.String("job", p.name))
		if p.observe != nil {
			p.observe(p.name, false, 0, nil)
		}
		return false, nil
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	start := time.Now()
	err := p.run(ctx)
	duration := time.Since(start)
	if p.observe != nil {
		p.observe(p.name, true, duration, err)
	}
	if err != nil {
		p.logger.Warn("periodic run failed", zap.String("job", p.name), zap.Duration("duration", duration), zap.Error(err))
		return true, err
	}
	p.logger.Debug("periodic run finished", zap.String("job", p.name), zap.Duration("duration", duration))
	return true, nil
}

// Start boots the ticker goroutine. Calling Start twice is a no-op.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil || p.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.stop = cancel
	p.done = make(chan struct{})
	ticker := time.NewTicker(p.interval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Each tick runs in its own goroutine so a long run makes
				// the next tick observe running=true and skip.
				p.runs.Add(1)
				go func() {
					defer p.runs.Done()
					_, _ = p.RunOnce(ctx)
				}()
			}
		}
	}()
	p.logger.Info("periodic job started", zap.String("job", p.name), zap.Duration("interval", p.interval))
}

// Stop halts the ticker, cancels the context of a tick-driven run and waits
// for that run to return.
func (p *Periodic) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
	p.runs.Wait()
}
