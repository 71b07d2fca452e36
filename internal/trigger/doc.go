// Package trigger decides which scheduled power action is due for a device.
//
// It holds two pure pieces used by the scheduler on every tick:
//
//   - the evaluator (Due, Winner, Evaluate) turns a device's schedule and a
//     reference instant into the due entries and the one that governs;
//   - the resolver (Resolve) pushes a turn-on instant back until every
//     dependency has been on for its configured delay.
//
// Nothing here reads the clock or mutates a device. Callers pass now in
// and apply the outcome themselves.
package trigger
