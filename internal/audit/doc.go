// Package audit records the append-only diagnostic log.
//
// Diagnostics are short human-readable lines ("skipped turn_on for device
// 'Projector': device offline") written by the scheduler and the dispatch
// layer. Writing is best-effort: a sink never returns an error to its caller.
// Failures are reported on stderr and the caller carries on.
//
// Sinks:
//   - FileSink appends one timestamped line per entry to a text file
//   - SQLiteSink inserts into the audit_logs table, listable with Filter
//   - MQTTSink mirrors entries to the powerlogic/diagnostics topic
//   - MultiSink fans one entry out to several sinks
package audit
