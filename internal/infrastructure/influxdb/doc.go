// Package influxdb writes controller metrics to InfluxDB 2.x.
//
// Metrics are optional. When influxdb.enabled is false nothing connects and
// the liveness monitor, dispatcher and scheduler run without a recorder.
//
// # Measurements
//
//   - liveness_probe: alive, failures per device
//   - liveness_transition: online flips per device
//   - command: ok, attempts per device and command key
//   - scheduler_pass: evaluated, fired, deferred, skipped per pass
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCommandMetric("Projector", "on", true, 1)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Close flushes what is left. Batch failures reach the
// SetOnError callback wrapped in ErrWriteFailed.
package influxdb
