package preferences

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tidwall/jsonc"
)

// Store holds entity and global preferences backed by a JSON document
type Store interface {
	GetWithDefaults(stableID string) EntityPreference
	BuildMapFor(stableIDs []string) map[string]EntityPreference
	SetPreferences(stableID string, state bool, actions map[string]bool) (EntityPreference, error)
	Prune(validIDs []string) error
	IDs() []string

	GetGlobal() GlobalPreferences
	SetGlobal(prefs GlobalPreferences) (GlobalPreferences, error)
}

type store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	data   map[string]EntityPreference
	global GlobalPreferences
}

// NewStore loads the document at path. A missing or unreadable document
// yields defaults.
func NewStore(path string, log *slog.Logger) Store {
	if log == nil {
		log = slog.Default()
	}
	s := &store{
		path:   path,
		logger: log,
		data:   make(map[string]EntityPreference),
		global: DefaultGlobalPreferences(),
	}
	s.load()
	return s
}

func (s *store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("unable to read preferences, using defaults", "path", s.path, "error", err)
		}
		return
	}

	data, global, err := decode(raw)
	if err != nil {
		s.logger.Warn("unable to parse preferences, using defaults", "path", s.path, "error", err)
		return
	}
	s.data = data
	s.global = global
}

// decode accepts the current {"containers", "global"} layout and the legacy
// flat layout keyed directly by stable id. Comments are tolerated.
func decode(raw []byte) (map[string]EntityPreference, GlobalPreferences, error) {
	var top map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(raw), &top); err != nil {
		return nil, GlobalPreferences{}, fmt.Errorf("decode preferences: %w", err)
	}

	containers, legacy := top, true
	if c, ok := top["containers"]; ok {
		containers, _ = c.(map[string]any)
		legacy = false
	}

	data := make(map[string]EntityPreference, len(containers))
	for id, v := range containers {
		if legacy && id == "global" {
			continue
		}
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		data[id] = entityFrom(entry)
	}

	global := DefaultGlobalPreferences()
	if g, ok := top["global"].(map[string]any); ok {
		global = globalFrom(g)
	}
	return data, global, nil
}

func entityFrom(entry map[string]any) EntityPreference {
	pref := DefaultEntityPreference()
	if v, ok := entry["state"]; ok {
		pref.State = truthy(v)
	}
	if actions, ok := entry["actions"].(map[string]any); ok {
		for _, a := range Actions {
			if v, ok := actions[a]; ok {
				pref.Actions[a] = truthy(v)
			}
		}
	}
	return pref
}

func globalFrom(entry map[string]any) GlobalPreferences {
	g := DefaultGlobalPreferences()
	if v, ok := entry["delete_unused_images"]; ok {
		g.DeleteUnusedImages = truthy(v)
	}
	if v, ok := entry["updates_overview"]; ok {
		g.UpdatesOverview = truthy(v)
	}
	if v, ok := entry["full_update_all"]; ok {
		g.FullUpdateAll = truthy(v)
	}
	return g
}

// truthy interprets a loosely typed JSON value as a toggle.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// save writes data and global as the document atomically using temp file +
// rename. Callers hold s.mu and install the new state only when save succeeds.
func (s *store) save(data map[string]EntityPreference, global GlobalPreferences) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create preferences directory: %w", err)
		}
	}

	raw, err := json.MarshalIndent(document{Containers: data, Global: global}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	// Write to temp file first
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, raw, 0644); err != nil {
		return fmt.Errorf("write temp preferences: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath) // cleanup
		return fmt.Errorf("rename preferences: %w", err)
	}
	return nil
}

// copyData returns a copy of s.data. Callers hold s.mu.
func (s *store) copyData() map[string]EntityPreference {
	out := make(map[string]EntityPreference, len(s.data)+1)
	for id, p := range s.data {
		out[id] = p
	}
	return out
}

func (s *store) GetWithDefaults(stableID string) EntityPreference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(stableID)
}

func (s *store) getLocked(stableID string) EntityPreference {
	pref := DefaultEntityPreference()
	stored, ok := s.data[stableID]
	if !ok {
		return pref
	}
	pref.State = stored.State
	for a, v := range stored.Actions {
		if IsAction(a) {
			pref.Actions[a] = v
		}
	}
	return pref
}

func (s *store) BuildMapFor(stableIDs []string) map[string]EntityPreference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]EntityPreference, len(stableIDs))
	for _, id := range stableIDs {
		out[id] = s.getLocked(id)
	}
	return out
}

// SetPreferences replaces the preference of one entity. Actions omitted from
// actions are enabled.
func (s *store) SetPreferences(stableID string, state bool, actions map[string]bool) (EntityPreference, error) {
	pref := DefaultEntityPreference()
	pref.State = state
	for a, v := range actions {
		if !IsAction(a) {
			return EntityPreference{}, fmt.Errorf("%w: %s", ErrUnknownAction, a)
		}
		pref.Actions[a] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.copyData()
	next[stableID] = pref
	if err := s.save(next, s.global); err != nil {
		return EntityPreference{}, err
	}
	s.data = next
	s.logger.Info("updated entity preferences", "stable_id", stableID, "state", state)
	return s.getLocked(stableID), nil
}

// Prune drops entries whose id is not in validIDs and persists only when
// something was removed.
func (s *store) Prune(validIDs []string) error {
	valid := make(map[string]bool, len(validIDs))
	for _, id := range validIDs {
		valid[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.copyData()
	var removed []string
	for id := range next {
		if !valid[id] {
			removed = append(removed, id)
			delete(next, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := s.save(next, s.global); err != nil {
		return err
	}
	s.data = next
	sort.Strings(removed)
	s.logger.Info("pruned entity preferences", "removed", removed)
	return nil
}

// IDs returns the stable ids with stored preferences, sorted.
func (s *store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *store) GetGlobal() GlobalPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

func (s *store) SetGlobal(prefs GlobalPreferences) (GlobalPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(s.data, prefs); err != nil {
		return GlobalPreferences{}, err
	}
	s.global = prefs
	s.logger.Info("updated global preferences",
		"delete_unused_images", prefs.DeleteUnusedImages,
		"updates_overview", prefs.UpdatesOverview,
		"full_update_all", prefs.FullUpdateAll)
	return prefs, nil
}
