package api

import (
	"net/http"
	"time"

	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/go-chi/chi/v5"
)

// Health reports engine and broker reachability. It always answers 200 so
// the container is not restarted while either dependency is down.
func (s *ApiService) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"engine_running": s.FleetManager.IsEngineRunning(r.Context()),
	})
}

// OverviewResponse is the cached fleet grouped by stack.
type OverviewResponse struct {
	Stacks        []fleet.Stack `json:"stacks"`
	LastRefreshed time.Time     `json:"last_refreshed"`
	Hostname      string        `json:"hostname"`
}

// Overview returns the cached fleet, refreshing it when empty.
func (s *ApiService) Overview(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.FleetManager.GetCached(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OverviewResponse{
		Stacks:        stacks,
		LastRefreshed: s.FleetManager.LastRefreshed(),
		Hostname:      s.FleetManager.HostName(r.Context()),
	})
}

// Host returns engine information and disk usage
func (s *ApiService) Host(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := s.FleetManager.HostInfo(ctx)
	if err != nil {
		fail(w, r, err)
		return
	}
	usage, err := s.FleetManager.DiskUsage(ctx)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hostname":   s.FleetManager.HostName(ctx),
		"info":       info,
		"disk_usage": usage,
	})
}

// ListEvents returns recent engine events. window is in minutes.
func (s *ApiService) ListEvents(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(queryInt(r, "window", 0)) * time.Minute
	events, err := s.FleetManager.ListEvents(r.Context(), window, queryInt(r, "limit", 0))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetContainer returns the full description of a container
func (s *ApiService) GetContainer(w http.ResponseWriter, r *http.Request) {
	d, err := s.FleetManager.ContainerDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ContainerStats returns a live resource sample
func (s *ApiService) ContainerStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.FleetManager.LiveStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ComposeRequest replaces the compose file of a container
type ComposeRequest struct {
	Content string `json:"content"`
}

// GetComposeFile returns the path and content of the compose file a
// container was started from
func (s *ApiService) GetComposeFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.FleetManager.ComposeFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// SaveComposeFile writes a new compose file for a container. The stack is
// not redeployed.
func (s *ApiService) SaveComposeFile(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.FleetManager.SaveComposeFile(r.Context(), id, req.Content); err != nil {
		fail(w, r, err)
		return
	}
	f, err := s.FleetManager.ComposeFile(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
