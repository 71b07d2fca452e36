package api

import (
	"net/http"
)

// handleSchedulerStatus returns the cadence and the most recent pass.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeUnavailable(w, "scheduler not configured")
		return
	}

	resp := map[string]any{"spec": s.scheduler.Spec()}
	if last, ok := s.scheduler.LastPass(); ok {
		resp["last_pass"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSchedulerRun runs one pass immediately and returns its summary.
// Passes are serialised with the cron cadence.
func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeUnavailable(w, "scheduler not configured")
		return
	}

	res := s.scheduler.Tick(r.Context())
	s.logger.Info("scheduler pass run via API",
		"fired", res.Fired,
		"deferred", res.Deferred,
		"skipped_offline", res.Skipped,
		"request_id", requestID(r.Context()),
	)
	writeJSON(w, http.StatusOK, res)
}
