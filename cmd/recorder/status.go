package main

import (
	"net/http"

	"github.com/banshee-data/simrecord/internal/httputil"
	"github.com/banshee-data/simrecord/internal/recorder"
	"github.com/banshee-data/simrecord/internal/version"
)

// sessionStatus is the body of GET /status.
type sessionStatus struct {
	SessionID   string `json:"session_id"`
	State       string `json:"state"`
	Version     string `json:"version"`
	Total       uint64 `json:"records_total"`
	ChunkCount  int    `json:"records_in_chunk"`
	QueueLen    int    `json:"queue_len"`
	QueueCap    int    `json:"queue_cap"`
	Dropped     uint64 `json:"records_dropped"`
	Emitted     uint64 `json:"sync_emitted"`
	Discarded   uint64 `json:"sync_discarded"`
	PendingVox  int    `json:"pending_voxel_events"`
	PendingBurr int    `json:"pending_burr_events"`
	PendingFF   int    `json:"pending_force_events"`
	LastError   string `json:"last_error,omitempty"`
}

func statusHandler(rec *recorder.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		emitted, discarded := rec.Synchronizer().Stats()
		vox, burr, force := rec.Events().Pending()
		st := sessionStatus{
			SessionID:   rec.SessionID(),
			State:       rec.State().String(),
			Version:     version.String(),
			Total:       rec.Total(),
			ChunkCount:  rec.Count(),
			QueueLen:    rec.Queue().Len(),
			QueueCap:    rec.Queue().Cap(),
			Dropped:     rec.Queue().Dropped(),
			Emitted:     emitted,
			Discarded:   discarded,
			PendingVox:  vox,
			PendingBurr: burr,
			PendingFF:   force,
		}
		if err := rec.Err(); err != nil {
			st.LastError = err.Error()
		}
		httputil.WriteJSON(w, http.StatusOK, st)
	}
}
