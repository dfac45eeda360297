package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListUpdates returns the update view of every container
func (s *ApiService) ListUpdates(w http.ResponseWriter, r *http.Request) {
	list, err := s.UpdateManager.CollectContainersInfoForUpdates(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetContainerUpdate returns the update view of one container. force=true
// bypasses the remote lookup cache.
func (s *ApiService) GetContainerUpdate(w http.ResponseWriter, r *http.Request) {
	d, err := s.UpdateManager.GetContainerUpdateInfo(r.Context(), chi.URLParam(r, "id"), queryBool(r, "force"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// FrequencyRequest sets how often a container is checked
type FrequencyRequest struct {
	Minutes int `json:"minutes"`
}

// SetUpdateFrequency stores the check frequency, clamped to the allowed range
func (s *ApiService) SetUpdateFrequency(w http.ResponseWriter, r *http.Request) {
	var req FrequencyRequest
	if !decode(w, r, &req) {
		return
	}
	id, ok := s.resolveContainerID(w, r)
	if !ok {
		return
	}
	minutes := s.UpdateManager.SetUpdateFrequency(id, req.Minutes)
	writeJSON(w, http.StatusOK, FrequencyRequest{Minutes: minutes})
}

// TrackRequest selects the tag compared against the registry
type TrackRequest struct {
	Track string `json:"track"`
}

// SetUpdateTrack stores the tracked tag. An empty track follows the
// running tag again.
func (s *ApiService) SetUpdateTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !decode(w, r, &req) {
		return
	}
	id, ok := s.resolveContainerID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, TrackRequest{Track: s.UpdateManager.SetUpdateTrack(id, req.Track)})
}

// resolveContainerID maps the id path parameter, which may be a name or a
// short id, onto the full container id that settings are keyed by.
func (s *ApiService) resolveContainerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	d, err := s.FleetManager.ContainerDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return "", false
	}
	return d.ID, true
}
