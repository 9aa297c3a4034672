package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	InFlight int    `json:"inflight"`
	Running  int    `json:"running"`
}

// Health reports liveness together with the generation queue depth. It never
// touches the Result Store so a slow database does not fail the probe.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.Admission != nil {
		resp.InFlight = a.Admission.InFlight()
		resp.Running = a.Admission.Running()
	}
	a.json(w, http.StatusOK, resp)
}
