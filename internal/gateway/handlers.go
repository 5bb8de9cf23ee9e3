package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smedrec/smart-logs/internal/access"
	"github.com/smedrec/smart-logs/internal/health"
)

// authorize validates the operation for the caller, writing the deny
// response itself. Returns false when the request must not proceed.
func (g *Gateway) authorize(w http.ResponseWriter, r *http.Request, op string, res *access.Resource) bool {
	user := userFrom(r)
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	decision := user.ValidateOperation(op, res)
	if !decision.Allowed {
		status := http.StatusForbidden
		if decision.Reason == access.ReasonInvalidOperation {
			status = http.StatusBadRequest
		}
		http.Error(w, decision.Reason, status)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) handleDestinationHealth(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r, "view_destination", nil) {
		return
	}

	id := chi.URLParam(r, "id")
	record, err := g.tracker.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, health.ErrNotFound) {
			http.Error(w, "destination not found", http.StatusNotFound)
			return
		}
		g.logger.Error("health lookup failed", "destination_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Organization scoping applies when the record carries an owner.
	if record.OrganizationID != "" {
		if err := userFrom(r).PreventCrossOrgAccess(record.OrganizationID); err != nil {
			http.Error(w, access.ReasonResourceDenied, http.StatusForbidden)
			return
		}
	}

	writeJSON(w, http.StatusOK, record)
}

type disableRequest struct {
	Reason string `json:"reason"`
}

func (g *Gateway) handleDestinationDisable(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r, "disable_destination", nil) {
		return
	}

	var req disableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	if err := g.tracker.Disable(r.Context(), id, req.Reason); err != nil {
		g.logger.Error("disable failed", "destination_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (g *Gateway) handleDestinationEnable(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r, "enable_destination", nil) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := g.tracker.Enable(r.Context(), id); err != nil {
		g.logger.Error("enable failed", "destination_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (g *Gateway) handleDLQMetrics(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r, "view_dlq", nil) {
		return
	}

	m, err := g.dlqService.GetMetrics(r.Context())
	if err != nil {
		g.logger.Error("dlq metrics failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	g.metrics.DLQQueueSize.Set(float64(m.TotalEvents))
	writeJSON(w, http.StatusOK, m)
}

func (g *Gateway) handleJobStatuses(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r, "view_jobs", nil) {
		return
	}
	if g.scheduler == nil {
		http.Error(w, "scheduler not running", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, g.scheduler.Statuses())
}

type archiveStats struct {
	Archives        int   `json:"archives"`
	RecordCount     int   `json:"recordCount"`
	CompressedBytes int64 `json:"compressedBytes"`
	OriginalBytes   int64 `json:"originalBytes"`
}

func (g *Gateway) handleArchiveStats(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r, "view_archive", nil) {
		return
	}

	archives, err := g.archiveStore.All(r.Context())
	if err != nil {
		g.logger.Error("archive stats failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var stats archiveStats
	for _, a := range archives {
		stats.Archives++
		stats.RecordCount += a.Metadata.RecordCount
		stats.CompressedBytes += a.Metadata.CompressedSize
		stats.OriginalBytes += a.Metadata.OriginalSize
	}
	writeJSON(w, http.StatusOK, stats)
}
