package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the controller.
const (
	MeasurementProbe      = "liveness_probe"
	MeasurementTransition = "liveness_transition"
	MeasurementCommand    = "command"
	MeasurementScheduler  = "scheduler_pass"
)

// WriteProbeMetric records one liveness probe. failures is the device's
// consecutive failure count after the probe.
func (c *Client) WriteProbeMetric(device string, alive bool, failures int) {
	c.write(MeasurementProbe,
		map[string]string{"device": device},
		map[string]any{
			"alive":    alive,
			"failures": failures,
		})
}

// WriteLivenessTransition records a device flipping online or offline.
func (c *Client) WriteLivenessTransition(device string, online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	c.write(MeasurementTransition,
		map[string]string{"device": device, "state": state},
		map[string]any{"online": online})
}

// WriteCommandMetric records one dispatched command. attempts is zero when
// the device had no command configured for key.
func (c *Client) WriteCommandMetric(device string, key string, ok bool, attempts int) {
	c.write(MeasurementCommand,
		map[string]string{"device": device, "key": key},
		map[string]any{
			"ok":       ok,
			"attempts": attempts,
		})
}

// WriteSchedulerPass records the counters of one scheduler pass.
func (c *Client) WriteSchedulerPass(evaluated, fired, deferred, skipped int) {
	c.write(MeasurementScheduler,
		map[string]string{"org": c.orgTag()},
		map[string]any{
			"evaluated": evaluated,
			"fired":     fired,
			"deferred":  deferred,
			"skipped":   skipped,
		})
}

func (c *Client) orgTag() string {
	if c == nil {
		return ""
	}
	return c.org
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
