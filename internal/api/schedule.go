package api

import (
	"net/http"

	"github.com/star/passcast/internal/httputil"
	"github.com/star/passcast/internal/schedule"
)

type scheduleResponse struct {
	schedule.Stats
	Passes []schedule.Entry `json:"passes"`
}

// handleSchedule serves GET /api/v1/schedule?norad_id=&limit=.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedule == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "schedule not configured")
		return
	}

	q := r.URL.Query()
	noradID, err := httputil.IntParam(q, "norad_id", 0, 1, 999999999)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := httputil.IntParam(q, "limit", 100, 1, 10000)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, scheduleResponse{
		Stats:  s.schedule.Stats(),
		Passes: s.schedule.Upcoming(noradID, limit),
	})
}
