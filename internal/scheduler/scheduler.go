package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/powerlogic-core/internal/device"
	"github.com/nerrad567/powerlogic-core/internal/trigger"
)

// ActionFunc carries out a fired action. It is called synchronously, once per
// fired action, in registry order. A returned error is logged and the pass
// continues.
type ActionFunc func(ctx context.Context, dev *device.Device, action device.Action) error

// TriggerStore persists one-time entry consumption. The device registry
// implements it. index is the entry's position in the pass snapshot; entry
// identifies it if the stored schedule has been edited since.
type TriggerStore interface {
	MarkTriggered(ctx context.Context, name string, index int, entry device.ScheduleEntry) error
}

// DiagnosticSink receives skip records.
type DiagnosticSink interface {
	AppendDiagnostic(ctx context.Context, message string, at time.Time)
}

// Outcome is what happened to one device's winning action in a pass.
type Outcome string

const (
	OutcomeFired          Outcome = "fired"
	OutcomeFailed         Outcome = "failed"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeSkippedOffline Outcome = "skipped_offline"
	OutcomeInvalidAction  Outcome = "invalid_action"
)

// DeviceOutcome reports the handling of one device with due entries.
type DeviceOutcome struct {
	Device  string        `json:"device"`
	Action  device.Action `json:"action"`
	Outcome Outcome       `json:"outcome"`
	At      time.Time     `json:"at"`
	Error   string        `json:"error,omitempty"`
}

// PassResult summarises one scheduler pass.
type PassResult struct {
	At        time.Time       `json:"at"`
	Evaluated int             `json:"evaluated"`
	Due       int             `json:"due"`
	Fired     int             `json:"fired"`
	Failed    int             `json:"failed"`
	Deferred  int             `json:"deferred"`
	Skipped   int             `json:"skipped_offline"`
	Outcomes  []DeviceOutcome `json:"outcomes,omitempty"`
}

// Scheduler evaluates schedules against a snapshot. It holds no state between
// passes; the triggered flags live in the TriggerStore.
type Scheduler struct {
	store       TriggerStore
	diagnostics DiagnosticSink
	logger      Logger
}

// NewScheduler creates a scheduler.
//
// Parameters:
//   - store: Persists one-time consumption (may be nil; only the snapshot is updated)
//   - diagnostics: Receives offline skip records (may be nil)
//   - logger: Logger instance (may be nil)
func NewScheduler(store TriggerStore, diagnostics DiagnosticSink, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		store:       store,
		diagnostics: diagnostics,
		logger:      logger,
	}
}

// RunSchedules runs one pass over devices at now.
//
// The slice is treated as a snapshot: HasTriggered flags consumed in this pass
// are also set on it so a caller reusing the slice sees them. onAction may be
// nil, in which case fired actions are only counted.
func (s *Scheduler) RunSchedules(ctx context.Context, devices []device.Device, now time.Time, onAction ActionFunc) PassResult {
	now = now.UTC()
	res := PassResult{At: now, Evaluated: len(devices)}

	// On-instants of devices switched on earlier in this pass.
	onTimes := trigger.OnTimes{}

	for i := range devices {
		dev := &devices[i]

		winner, due, ok := trigger.Evaluate(dev, now)
		if !ok {
			continue
		}
		res.Due++

		out := DeviceOutcome{Device: dev.Name, Action: winner.Entry.Action, At: winner.At}

		switch {
		case !dev.IsOnline:
			out.Outcome = OutcomeSkippedOffline
			res.Skipped++
			s.skipOffline(ctx, dev, winner, now)

		case winner.Entry.Action == device.ActionTurnOn:
			at := trigger.Resolve(winner.At, dev.Dependencies, onTimes)
			out.At = at
			if at.After(now) {
				out.Outcome = OutcomeDeferred
				res.Deferred++
				s.logger.Debug("turn_on deferred by dependency",
					"device", dev.Name,
					"nominal", winner.At,
					"resolved", at,
				)
				break
			}
			out.Outcome = OutcomeFired
			onTimes.Record(dev.Name, at)

		case winner.Entry.Action == device.ActionTurnOff:
			out.Outcome = OutcomeFired
			onTimes.Clear(dev.Name)

		default:
			out.Outcome = OutcomeInvalidAction
			s.logger.Warn("scheduled action not recognised",
				"device", dev.Name,
				"action", winner.Entry.Action,
			)
		}

		s.consumeOneTime(ctx, dev, due)

		if out.Outcome == OutcomeFired {
			if err := s.fire(ctx, dev, winner.Entry.Action, onAction); err != nil {
				out.Outcome = OutcomeFailed
				out.Error = err.Error()
				res.Failed++
			} else {
				res.Fired++
			}
		}

		res.Outcomes = append(res.Outcomes, out)
	}

	return res
}

func (s *Scheduler) fire(ctx context.Context, dev *device.Device, action device.Action, onAction ActionFunc) error {
	s.logger.Info("scheduled action fired",
		"device", dev.Name,
		"action", action,
	)
	if onAction == nil {
		return nil
	}
	if err := onAction(ctx, dev, action); err != nil {
		s.logger.Error("scheduled action failed",
			"device", dev.Name,
			"action", action,
			"error", err,
		)
		return err
	}
	return nil
}

func (s *Scheduler) skipOffline(ctx context.Context, dev *device.Device, winner trigger.Trigger, now time.Time) {
	msg := fmt.Sprintf("skipped %s for device '%s': device offline", winner.Entry.Action, dev.Name)
	s.logger.Info(msg,
		"device", dev.Name,
		"action", winner.Entry.Action,
		"due_at", winner.At,
	)
	if s.diagnostics != nil {
		s.diagnostics.AppendDiagnostic(ctx, msg, now)
	}
}

// consumeOneTime marks every due one-time entry as triggered, winner or not.
func (s *Scheduler) consumeOneTime(ctx context.Context, dev *device.Device, due []trigger.Trigger) {
	for _, t := range due {
		if !t.Entry.IsOneTime() {
			continue
		}
		if s.store != nil {
			if err := s.store.MarkTriggered(ctx, dev.Name, t.Index, t.Entry); err != nil {
				// The device or entry may have been removed since the snapshot.
				s.logger.Warn("failed to mark one-time entry triggered",
					"device", dev.Name,
					"index", t.Index,
					"error", err,
				)
			}
		}
		dev.Schedule[t.Index].HasTriggered = true
	}
}
