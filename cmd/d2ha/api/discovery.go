package api

import (
	"net/http"

	"github.com/d2ha/d2ha/lib/logger"
	"github.com/d2ha/d2ha/lib/preferences"
	"github.com/go-chi/chi/v5"
)

// PublishHistory returns the most recent MQTT publishes, oldest first
func (s *ApiService) PublishHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.DiscoveryManager.GetPublishHistory(queryInt(r, "limit", 50)))
}

// Sync runs one publish pass now
func (s *ApiService) Sync(w http.ResponseWriter, r *http.Request) {
	if err := s.FleetManager.Refresh(r.Context()); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.DiscoveryManager.SyncOnce(r.Context()); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "slugs": s.DiscoveryManager.SlugMap()})
}

// ContainerPreferences is the preference of one listed container
type ContainerPreferences struct {
	StableID    string                       `json:"stable_id"`
	Name        string                       `json:"name"`
	Stack       string                       `json:"stack"`
	Self        bool                         `json:"self"`
	Preferences preferences.EntityPreference `json:"preferences"`
}

// PreferencesResponse lists the global toggles and every container's entity
// preferences
type PreferencesResponse struct {
	Global     preferences.GlobalPreferences `json:"global"`
	Containers []ContainerPreferences        `json:"containers"`
	Actions    []string                      `json:"actions"`
}

// GetPreferences returns preferences for the containers currently present.
// Entries of containers that no longer exist are pruned.
func (s *ApiService) GetPreferences(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.FleetManager.GetCached(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}

	var ids []string
	var list []ContainerPreferences
	for _, st := range stacks {
		for _, c := range st.Containers {
			ids = append(ids, c.StableID())
			list = append(list, ContainerPreferences{
				StableID: c.StableID(),
				Name:     c.Name,
				Stack:    c.Stack,
				Self:     s.DiscoveryManager.IsSelfContainer(c.Name),
			})
		}
	}
	prefs := s.Preferences.BuildMapFor(ids)
	for i := range list {
		list[i].Preferences = prefs[list[i].StableID]
	}
	if len(ids) > 0 {
		if err := s.Preferences.Prune(ids); err != nil {
			fail(w, r, err)
			return
		}
	}
	if list == nil {
		list = []ContainerPreferences{}
	}

	writeJSON(w, http.StatusOK, PreferencesResponse{
		Global:     s.Preferences.GetGlobal(),
		Containers: list,
		Actions:    preferences.Actions,
	})
}

// SetGlobalPreferences replaces the fleet-wide toggles
func (s *ApiService) SetGlobalPreferences(w http.ResponseWriter, r *http.Request) {
	req := preferences.DefaultGlobalPreferences()
	if !decode(w, r, &req) {
		return
	}
	saved, err := s.Preferences.SetGlobal(req)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.republish(r)
	writeJSON(w, http.StatusOK, saved)
}

// SetContainerPreferences replaces one container's entity preferences
func (s *ApiService) SetContainerPreferences(w http.ResponseWriter, r *http.Request) {
	req := preferences.DefaultEntityPreference()
	if !decode(w, r, &req) {
		return
	}
	saved, err := s.Preferences.SetPreferences(chi.URLParam(r, "stableID"), req.State, req.Actions)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.republish(r)
	writeJSON(w, http.StatusOK, saved)
}

// republish applies preference changes to the broker right away.
func (s *ApiService) republish(r *http.Request) {
	ctx := r.Context()
	if err := s.DiscoveryManager.SyncOnce(ctx); err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "publish after preference change failed", "error", err)
	}
}
