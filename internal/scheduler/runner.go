package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/powerlogic-core/internal/device"
)

// DefaultSpec runs a pass once a minute.
const DefaultSpec = "@every 1m"

// specParser accepts five-field expressions with optional seconds and the
// @every / @hourly descriptors.
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSpec validates a schedule expression.
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, spec, err)
	}
	return sched, nil
}

// Snapshotter provides the per-pass device snapshot in registry order.
type Snapshotter interface {
	Snapshot() []device.Device
}

// Metrics records pass summaries.
type Metrics interface {
	WriteSchedulerPass(evaluated, fired, deferred, skipped int)
}

// Runner drives scheduler passes on a cron cadence.
//
// Ticks are serialised: an overrunning pass delays, never overlaps, the next.
type Runner struct {
	scheduler *Scheduler
	source    Snapshotter
	onAction  ActionFunc
	spec      string
	logger    Logger
	metrics   Metrics
	now       func() time.Time

	tickMu sync.Mutex
	last   *PassResult

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewRunner creates a runner. The spec is validated here so a bad
// expression fails at startup.
func NewRunner(scheduler *Scheduler, source Snapshotter, onAction ActionFunc, spec string, logger Logger) (*Runner, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := ParseSpec(spec); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Runner{
		scheduler: scheduler,
		source:    source,
		onAction:  onAction,
		spec:      spec,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetMetrics sets an optional pass metrics recorder.
func (r *Runner) SetMetrics(m Metrics) {
	r.tickMu.Lock()
	r.metrics = m
	r.tickMu.Unlock()
}

// Spec returns the cron expression driving the runner.
func (r *Runner) Spec() string {
	return r.spec
}

// Start schedules passes until Stop is called. ctx is handed to every pass.
func (r *Runner) Start(ctx context.Context) error {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()

	if r.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{r.logger}),
	)
	if _, err := c.AddFunc(r.spec, func() { r.Tick(ctx) }); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("scheduler started", "spec", r.spec)
	return nil
}

// Stop halts the cadence and waits for a running pass to complete.
// Safe to call when not started.
func (r *Runner) Stop() {
	r.cronMu.Lock()
	c := r.cron
	r.cron = nil
	r.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("scheduler stopped")
}

// Tick runs one pass now over a fresh snapshot.
func (r *Runner) Tick(ctx context.Context) PassResult {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	devices := r.source.Snapshot()
	res := r.scheduler.RunSchedules(ctx, devices, r.now(), r.onAction)
	r.last = &res

	if res.Due > 0 {
		r.logger.Info("scheduler pass complete",
			"evaluated", res.Evaluated,
			"due", res.Due,
			"fired", res.Fired,
			"failed", res.Failed,
			"deferred", res.Deferred,
			"skipped_offline", res.Skipped,
		)
	}
	if r.metrics != nil {
		r.metrics.WriteSchedulerPass(res.Evaluated, res.Fired, res.Deferred, res.Skipped)
	}
	return res
}

// LastPass returns the result of the most recent pass.
func (r *Runner) LastPass() (PassResult, bool) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	if r.last == nil {
		return PassResult{}, false
	}
	return *r.last, true
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
