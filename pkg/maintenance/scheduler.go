package maintenance

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Job is a unit of scheduled work
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules. A job that is still running
// when its next tick arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	timeout time.Duration

	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler creates a scheduler. timeout bounds each job run; zero means no bound.
func NewScheduler(logger *observability.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	logger = logger.WithField("component", "maintenance")
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: timeout,
		jobs:    make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules job under name using a standard five-field spec or a descriptor like @hourly
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already scheduled", name)
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.jobs[name] = id
	s.logger.WithFields(map[string]interface{}{"job": name, "schedule": spec}).Info("job scheduled")
	return nil
}

// RunNow runs a scheduled job immediately on the caller's goroutine
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Next returns the next run time of a job
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them to return
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("maintenance jobs did not stop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := s.logger.WithField("job", name)
	ctx = observability.WithLogger(ctx, log)

	start := time.Now()
	err := job(ctx)
	log = log.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		log.WithError(err).Error("job failed")
		return
	}
	log.Debug("job completed")
}

// cronLogger adapts the structured logger to cron's logging interface
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.With(keysAndValues...).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.With(keysAndValues...).WithError(err).Error(msg)
}
