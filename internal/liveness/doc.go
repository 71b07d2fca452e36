// Package liveness classifies devices as online or offline.
//
// A Monitor probes every registered device on its own timer, independent of
// the scheduler. Each device carries only a consecutive failure counter:
//
//   - a successful probe resets the counter and marks the device online at once
//   - a failed probe (or a probe error) increments the counter
//   - reaching the threshold (default 3) marks the device offline
//
// Recovery is immediate while going offline is slow, so a single dropped
// packet never flips a device.
//
// The monitor is the only writer of the online flag. Probes run concurrently
// up to a limit; their results are applied in registry order.
package liveness
