// Package preferences persists which discovery entities and buttons are
// published for each container, plus fleet-wide toggles.
package preferences

// Action names that can be toggled per container.
const (
	ActionStart      = "start"
	ActionPause      = "pause"
	ActionStop       = "stop"
	ActionRestart    = "restart"
	ActionDelete     = "delete"
	ActionFullUpdate = "full_update"
)

// Actions lists every toggleable action in display order.
var Actions = []string{ActionStart, ActionPause, ActionStop, ActionRestart, ActionDelete, ActionFullUpdate}

// IsAction reports whether name is one of Actions.
func IsAction(name string) bool {
	for _, a := range Actions {
		if a == name {
			return true
		}
	}
	return false
}

// EntityPreference controls one container's entities.
type EntityPreference struct {
	State   bool            `json:"state"`
	Actions map[string]bool `json:"actions"`
}

// ActionEnabled reports whether the button for action is published.
func (p EntityPreference) ActionEnabled(action string) bool {
	enabled, ok := p.Actions[action]
	return !ok || enabled
}

// DefaultEntityPreference enables the state entity and every action.
func DefaultEntityPreference() EntityPreference {
	actions := make(map[string]bool, len(Actions))
	for _, a := range Actions {
		actions[a] = true
	}
	return EntityPreference{State: true, Actions: actions}
}

// GlobalPreferences toggles the fleet-wide entities.
type GlobalPreferences struct {
	DeleteUnusedImages bool `json:"delete_unused_images"`
	UpdatesOverview    bool `json:"updates_overview"`
	FullUpdateAll      bool `json:"full_update_all"`
}

// DefaultGlobalPreferences enables every fleet-wide entity.
func DefaultGlobalPreferences() GlobalPreferences {
	return GlobalPreferences{DeleteUnusedImages: true, UpdatesOverview: true, FullUpdateAll: true}
}

type document struct {
	Containers map[string]EntityPreference `json:"containers"`
	Global     GlobalPreferences           `json:"global"`
}
