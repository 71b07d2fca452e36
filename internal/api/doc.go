// Package api implements the HTTP control API for PowerLogic Core.
//
// This package provides:
//   - Device registry reads and configuration writes
//   - Manual control of devices and power strip outlets
//   - On-demand scheduler passes and the last pass summary
//   - The diagnostic log, filterable by device and instant
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Manual control
//
// Manual commands go straight to the dispatcher. They never consult or
// change schedule entries and are not gated on liveness, except outlet
// toggles which fail closed for offline devices.
//
// A command that was not delivered is reported with 422 and the dispatch
// result as the body; it is not a server error.
package api
