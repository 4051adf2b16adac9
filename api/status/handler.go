package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/fleetctl/core/unitstatus"
)

// Snapshot describes the control loop at one point in time.
type Snapshot struct {
	State               string    `json:"state"`
	StoreReconnecting   bool      `json:"store_reconnecting"`
	ChannelReconnecting bool      `json:"channel_reconnecting"`
	LastFinishMarker    string    `json:"last_finish_marker"`
	CellsCovered        int64     `json:"cells_covered"`
	CellsTotal          int64     `json:"cells_total"`
	StartedAt           time.Time `json:"started_at"`
	UptimeSeconds       float64   `json:"uptime_seconds"`
}

// Reporter produces Snapshots.
type Reporter interface {
	Snapshot() Snapshot
}

// NewStatusHandler returns an HTTP handler exposing the control loop state via
// GET /api/status.
func NewStatusHandler(r Reporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, r.Snapshot())
	})
}

// NewUnitsHandler returns an HTTP handler exposing per unit status via
// GET /api/units.
func NewUnitsHandler(store unitstatus.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f := unitstatus.Filter{
			Channel:    r.URL.Query().Get("channel"),
			FailedOnly: r.URL.Query().Get("failed") == "true",
		}
		writeJSON(w, store.List(f))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
