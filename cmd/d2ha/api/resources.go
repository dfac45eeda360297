package api

import (
	"net/http"

	"github.com/d2ha/d2ha/lib/network"
	"github.com/go-chi/chi/v5"
)

// ListImages lists every local image
func (s *ApiService) ListImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.ImageManager.ListImages(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}

// ListUnusedImages lists images no container references
func (s *ApiService) ListUnusedImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.ImageManager.ListUnusedImages(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}

// PruneImages removes every unused image
func (s *ApiService) PruneImages(w http.ResponseWriter, r *http.Request) {
	res, err := s.Executor.RemoveUnusedImages(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	s.afterCommand(r.Context())
	writeJSON(w, http.StatusOK, res)
}

// DeleteImage removes an image
func (s *ApiService) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.ImageManager.RemoveImage(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNetworks lists engine networks
func (s *ApiService) ListNetworks(w http.ResponseWriter, r *http.Request) {
	nets, err := s.NetworkManager.ListNetworks(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nets)
}

// CreateNetwork creates a network
func (s *ApiService) CreateNetwork(w http.ResponseWriter, r *http.Request) {
	var req network.CreateNetworkRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.NetworkManager.CreateNetwork(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetNetwork returns a network with its attached containers
func (s *ApiService) GetNetwork(w http.ResponseWriter, r *http.Request) {
	d, err := s.NetworkManager.GetNetwork(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteNetwork removes a network
func (s *ApiService) DeleteNetwork(w http.ResponseWriter, r *http.Request) {
	if err := s.NetworkManager.DeleteNetwork(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttachRequest names the container to connect or disconnect
type AttachRequest struct {
	Container string `json:"container"`
	Force     bool   `json:"force,omitempty"`
}

// ConnectNetwork attaches a container to a network
func (s *ApiService) ConnectNetwork(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.NetworkManager.ConnectContainer(r.Context(), chi.URLParam(r, "id"), req.Container); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisconnectNetwork detaches a container from a network
func (s *ApiService) DisconnectNetwork(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.NetworkManager.DisconnectContainer(r.Context(), chi.URLParam(r, "id"), req.Container, req.Force); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListVolumes lists named volumes and bind mounts
func (s *ApiService) ListVolumes(w http.ResponseWriter, r *http.Request) {
	vols, err := s.VolumeManager.ListVolumes(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vols)
}

// ListUnusedVolumes lists named volumes no container mounts
func (s *ApiService) ListUnusedVolumes(w http.ResponseWriter, r *http.Request) {
	vols, err := s.VolumeManager.ListUnusedVolumes(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vols)
}

// PruneVolumes removes every unused named volume
func (s *ApiService) PruneVolumes(w http.ResponseWriter, r *http.Request) {
	res, err := s.VolumeManager.RemoveUnusedVolumes(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteVolume removes a named volume
func (s *ApiService) DeleteVolume(w http.ResponseWriter, r *http.Request) {
	if err := s.VolumeManager.RemoveVolume(r.Context(), chi.URLParam(r, "name")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
