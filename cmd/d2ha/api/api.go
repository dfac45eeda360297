// Package api serves the ops HTTP surface: read views of the fleet and its
// update state, container commands, preference editing and MQTT history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/d2ha/d2ha/cmd/d2ha/config"
	"github.com/d2ha/d2ha/lib/actions"
	"github.com/d2ha/d2ha/lib/discovery"
	"github.com/d2ha/d2ha/lib/fleet"
	"github.com/d2ha/d2ha/lib/images"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/d2ha/d2ha/lib/mqtt"
	"github.com/d2ha/d2ha/lib/network"
	"github.com/d2ha/d2ha/lib/preferences"
	"github.com/d2ha/d2ha/lib/updates"
	"github.com/d2ha/d2ha/lib/volumes"
	"github.com/go-chi/chi/v5"
)

// ApiService implements the HTTP handlers
type ApiService struct {
	Config           *config.Config
	FleetManager     fleet.Manager
	UpdateManager    updates.Manager
	ImageManager     images.Manager
	NetworkManager   network.Manager
	VolumeManager    volumes.Manager
	Executor         actions.Executor
	DiscoveryManager discovery.Manager
	Preferences      preferences.Store
}

// New creates a new ApiService
func New(
	config *config.Config,
	fleetManager fleet.Manager,
	updateManager updates.Manager,
	imageManager images.Manager,
	networkManager network.Manager,
	volumeManager volumes.Manager,
	executor actions.Executor,
	discoveryManager discovery.Manager,
	prefs preferences.Store,
) *ApiService {
	return &ApiService{
		Config:           config,
		FleetManager:     fleetManager,
		UpdateManager:    updateManager,
		ImageManager:     imageManager,
		NetworkManager:   networkManager,
		VolumeManager:    volumeManager,
		Executor:         executor,
		DiscoveryManager: discoveryManager,
		Preferences:      prefs,
	}
}

// Routes registers every handler on r.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/healthz", s.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/overview", s.Overview)
		r.Get("/host", s.Host)
		r.Get("/events", s.ListEvents)
		r.Get("/updates", s.ListUpdates)
		r.Post("/sync", s.Sync)
		r.Get("/mqtt/history", s.PublishHistory)

		r.Route("/containers/{id}", func(r chi.Router) {
			r.Get("/", s.GetContainer)
			r.Get("/stats", s.ContainerStats)
			r.Get("/logs", s.ContainerLogs)
			r.Get("/compose", s.GetComposeFile)
			r.Put("/compose", s.SaveComposeFile)
			r.Get("/update", s.GetContainerUpdate)
			r.Put("/update/frequency", s.SetUpdateFrequency)
			r.Put("/update/track", s.SetUpdateTrack)
			r.Post("/actions/{action}", s.ContainerAction)
			r.Post("/recreate", s.RecreateContainer)
		})

		r.Get("/operations", s.ListOperations)
		r.Get("/operations/{id}/events", s.OperationEvents)

		r.Get("/images", s.ListImages)
		r.Get("/images/unused", s.ListUnusedImages)
		r.Post("/images/prune", s.PruneImages)
		r.Delete("/images/{id}", s.DeleteImage)

		r.Get("/networks", s.ListNetworks)
		r.Post("/networks", s.CreateNetwork)
		r.Get("/networks/{id}", s.GetNetwork)
		r.Delete("/networks/{id}", s.DeleteNetwork)
		r.Post("/networks/{id}/connect", s.ConnectNetwork)
		r.Post("/networks/{id}/disconnect", s.DisconnectNetwork)

		r.Get("/volumes", s.ListVolumes)
		r.Get("/volumes/unused", s.ListUnusedVolumes)
		r.Post("/volumes/prune", s.PruneVolumes)
		r.Delete("/volumes/{name}", s.DeleteVolume)

		r.Get("/preferences", s.GetPreferences)
		r.Put("/preferences/global", s.SetGlobalPreferences)
		r.Put("/preferences/containers/{stableID}", s.SetContainerPreferences)
	})
}

// Error is the body of every error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Code: code, Message: message})
}

// fail maps err onto a status code and logs server-side failures.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, fleet.ErrNotFound),
		errors.Is(err, fleet.ErrComposeNotFound),
		errors.Is(err, updates.ErrNotFound),
		errors.Is(err, actions.ErrNotFound),
		errors.Is(err, images.ErrNotFound),
		errors.Is(err, network.ErrNotFound),
		errors.Is(err, volumes.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, actions.ErrUnknownAction),
		errors.Is(err, preferences.ErrUnknownAction),
		errors.Is(err, fleet.ErrInvalidCompose),
		errors.Is(err, images.ErrInvalidName),
		errors.Is(err, network.ErrInvalidName),
		errors.Is(err, network.ErrInvalidSubnet):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, network.ErrProtectedNetwork),
		errors.Is(err, network.ErrAlreadyExists),
		errors.Is(err, volumes.ErrInUse),
		errors.Is(err, volumes.ErrBindMount):
		return http.StatusConflict, "conflict"
	case errors.Is(err, fleet.ErrEngineUnavailable),
		errors.Is(err, mqtt.ErrNotConnected):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

// queryInt returns the integer query parameter key, or def when absent or
// malformed.
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
