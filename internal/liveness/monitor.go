package liveness

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/powerlogic-core/internal/device"
)

// Defaults applied to zero MonitorConfig values.
const (
	DefaultFailureThreshold = 3
	DefaultProbeTimeout     = 2 * time.Second
	DefaultConcurrency      = 8
)

// Store is the registry view the monitor needs: a snapshot to iterate and the
// single setter it owns.
type Store interface {
	Snapshot() []device.Device
	SetOnline(ctx context.Context, name string, online bool) error
}

// Metrics records probe outcomes and transitions.
type Metrics interface {
	WriteProbeMetric(device string, alive bool, failures int)
	WriteLivenessTransition(device string, online bool)
}

// MonitorConfig holds configuration for the liveness monitor.
type MonitorConfig struct {
	// FailureThreshold is the number of consecutive failures that marks a
	// device offline. Default: 3.
	FailureThreshold int

	// ProbeTimeout bounds each probe. Default: 2 seconds.
	ProbeTimeout time.Duration

	// Concurrency limits simultaneous probes. Default: 8.
	Concurrency int
}

// Transition describes a device whose online flag changed during a check.
type Transition struct {
	Device string `json:"device"`
	Online bool   `json:"online"`
}

// CheckResult summarises one probe pass.
type CheckResult struct {
	Probed      int          `json:"probed"`
	Alive       int          `json:"alive"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// Monitor maintains the online classification of every device.
//
// Thread Safety: Check may be called concurrently with the periodic loop;
// passes are serialised.
type Monitor struct {
	store   Store
	prober  Prober
	logger  Logger
	metrics Metrics

	threshold    int
	probeTimeout time.Duration
	concurrency  int

	// failures is keyed by device.NameKey.
	failures map[string]int
	passMu   sync.Mutex

	// Lifecycle (stopOnce prevents double-close panics)
	lifeMu   sync.Mutex
	started  bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates a liveness monitor. Call Start to begin probing.
func NewMonitor(store Store, prober Prober, cfg MonitorConfig, logger Logger) *Monitor {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	return &Monitor{
		store:        store,
		prober:       prober,
		logger:       logger,
		threshold:    cfg.FailureThreshold,
		probeTimeout: cfg.ProbeTimeout,
		concurrency:  cfg.Concurrency,
		failures:     make(map[string]int),
		done:         make(chan struct{}),
	}
}

// SetMetrics sets an optional metrics recorder.
func (m *Monitor) SetMetrics(metrics Metrics) {
	m.passMu.Lock()
	m.metrics = metrics
	m.passMu.Unlock()
}

// Threshold returns the consecutive failure count that marks a device offline.
func (m *Monitor) Threshold() int {
	return m.threshold
}

// Failures returns the current consecutive failure count for a device.
func (m *Monitor) Failures(name string) int {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	return m.failures[device.NameKey(name)]
}

// Start begins periodic probing at the given interval. The first pass runs
// after one interval. Probing stops when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	m.wg.Add(1)
	go m.loop(ctx, interval)

	m.logger.Info("liveness monitor started",
		"interval", interval,
		"threshold", m.threshold,
	)
	return nil
}

// Stop ends periodic probing and waits for an in-flight pass to finish.
// The ticker is released before Stop returns. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		m.logger.Info("liveness monitor stopped")
	})
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Cancelling the pass context unblocks probes when Stop is called mid-pass.
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-passCtx.Done():
		}
	}()

	for {
		select {
		case <-passCtx.Done():
			return
		case <-ticker.C:
			m.Check(passCtx)
		}
	}
}

// Check probes every device in the current snapshot once and applies the
// results in registry order.
func (m *Monitor) Check(ctx context.Context) CheckResult {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	devices := m.store.Snapshot()
	alive := make([]bool, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range devices {
		g.Go(func() error {
			alive[i] = m.probe(gctx, &devices[i])
			return nil
		})
	}
	_ = g.Wait() // probes never return errors

	res := CheckResult{Probed: len(devices)}
	seen := make(map[string]bool, len(devices))
	for i := range devices {
		if ctx.Err() != nil {
			// An aborted pass must not count cancelled probes as failures.
			break
		}
		seen[device.NameKey(devices[i].Name)] = true
		if alive[i] {
			res.Alive++
		}
		if t, changed := m.apply(ctx, &devices[i], alive[i]); changed {
			res.Transitions = append(res.Transitions, t)
		}
	}

	// Forget counters of devices removed since the last pass.
	if ctx.Err() == nil {
		for key := range m.failures {
			if !seen[key] {
				delete(m.failures, key)
			}
		}
	}

	return res
}

// probe runs one bounded probe. Errors count as a failed probe.
func (m *Monitor) probe(ctx context.Context, dev *device.Device) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	ok, err := m.prober.Probe(probeCtx, dev)
	if err != nil {
		m.logger.Debug("probe error",
			"device", dev.Name,
			"error", err,
		)
		return false
	}
	return ok
}

// apply updates the failure counter and, on a threshold crossing or a
// recovery, the device's online flag. Caller holds passMu.
func (m *Monitor) apply(ctx context.Context, dev *device.Device, alive bool) (Transition, bool) {
	key := device.NameKey(dev.Name)
	if alive {
		m.failures[key] = 0
	} else {
		m.failures[key]++
	}
	failures := m.failures[key]

	if m.metrics != nil {
		m.metrics.WriteProbeMetric(dev.Name, alive, failures)
	}

	var online bool
	switch {
	case alive && !dev.IsOnline:
		online = true
	case !alive && dev.IsOnline && failures >= m.threshold:
		online = false
	default:
		return Transition{}, false
	}

	if err := m.store.SetOnline(ctx, dev.Name, online); err != nil {
		// The device may have been removed mid-pass.
		m.logger.Warn("failed to update online state",
			"device", dev.Name,
			"online", online,
			"error", err,
		)
		return Transition{}, false
	}

	if online {
		m.logger.Info("device online", "device", dev.Name)
	} else {
		m.logger.Warn("device offline",
			"device", dev.Name,
			"consecutive_failures", failures,
		)
	}
	if m.metrics != nil {
		m.metrics.WriteLivenessTransition(dev.Name, online)
	}
	return Transition{Device: dev.Name, Online: online}, true
}
