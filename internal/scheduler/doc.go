// Package scheduler runs device schedules.
//
// RunSchedules is one pass over a registry snapshot. For each device, in
// registry order, it evaluates due entries, picks the winning action, gates it
// on liveness and (for turn_on) on dependency delays, marks every due one-time
// entry as triggered, and hands fired actions to the caller's ActionFunc.
//
// Dependency on-instants are recorded only within one pass. A dependency that
// fired earlier in the same pass delays its dependents; one that fired in an
// earlier pass does not.
//
// Runner drives RunSchedules from a cron expression (default "@every 1m").
package scheduler
