// Package actions runs commands against containers: lifecycle actions,
// removal and recreation on a freshly pulled image.
package actions

import (
	"time"

	"github.com/d2ha/d2ha/lib/images"
)

// Container actions.
const (
	ActionStart      = "start"
	ActionStop       = "stop"
	ActionRestart    = "restart"
	ActionPause      = "pause"
	ActionUnpause    = "unpause"
	ActionDelete     = "delete"
	ActionFullUpdate = "full_update"
)

// SimpleActions are the actions accepted by ApplySimpleAction.
var SimpleActions = []string{
	ActionStart,
	ActionStop,
	ActionRestart,
	ActionPause,
	ActionUnpause,
	ActionDelete,
}

// Recreate steps, in order.
const (
	StepInspect = "inspect"
	StepRemove  = "remove"
	StepUntag   = "untag"
	StepPull    = "pull"
	StepCreate  = "create"
	StepStart   = "start"
	StepDone    = "done"
)

// Operation is an in-flight or finished recreation.
type Operation struct {
	ID         string                `json:"id"`
	Container  string                `json:"container"`
	ImageRef   string                `json:"image_ref"`
	Step       string                `json:"step"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Error      string                `json:"error,omitempty"`
	Progress   images.ProgressUpdate `json:"progress"`
	// NewImageID is set once the pulled image is known.
	NewImageID string `json:"new_image_id,omitempty"`
	OldImageID string `json:"old_image_id,omitempty"`
}
