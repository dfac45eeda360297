package fleet

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
)

// Defaults for ListEvents.
const (
	DefaultEventWindow = 24 * time.Hour
	DefaultEventLimit  = 300
)

var (
	errorActions   = map[string]bool{"die": true, "oom": true, "kill": true, "destroy": true, "stop": true}
	warningActions = map[string]bool{"restart": true, "pause": true, "unpause": true, "health_status": true, "update": true}
)

// SeverityFor classifies an engine event action.
func SeverityFor(action string) Severity {
	a := strings.ToLower(action)
	// health_status carries its result after a colon
	if i := strings.Index(a, ":"); i >= 0 {
		a = a[:i]
	}
	switch {
	case errorActions[a]:
		return SeverityError
	case warningActions[a]:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ListEvents returns engine events from the last window, newest first, keeping
// at most limit of the most recent ones.
func (m *manager) ListEvents(ctx context.Context, window time.Duration, limit int) ([]Event, error) {
	if window <= 0 {
		window = DefaultEventWindow
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	now := m.now()
	opts := events.ListOptions{
		Since:   strconv.FormatInt(now.Add(-window).Unix(), 10),
		Until:   strconv.FormatInt(now.Unix(), 10),
		Filters: filters.NewArgs(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs, errs := m.engine.Events(ctx, opts)

	host := m.HostName(ctx)
	var out []Event
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return finishEvents(out, limit), nil
			}
			out = append(out, formatEvent(msg, host))
		case err := <-errs:
			// messages buffered before the stream ended
		drain:
			for {
				select {
				case msg, ok := <-msgs:
					if !ok {
						break drain
					}
					out = append(out, formatEvent(msg, host))
				default:
					break drain
				}
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return finishEvents(out, limit), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func finishEvents(evs []Event, limit int) []Event {
	if len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Timestamp.After(evs[j].Timestamp)
	})
	if evs == nil {
		evs = []Event{}
	}
	return evs
}

func formatEvent(msg events.Message, host string) Event {
	attrs := msg.Actor.Attributes
	name := attrs["name"]
	if name == "" {
		name = attrs["container"]
	}
	if name == "" {
		name = msg.Actor.ID
	}

	ts := time.Unix(msg.Time, 0).UTC()
	if msg.TimeNano != 0 {
		ts = time.Unix(0, msg.TimeNano).UTC()
	}

	typ := string(msg.Type)
	action := string(msg.Action)
	detail := strings.TrimSpace(capitalize(typ) + " " + action + " " + name)

	source := attrs["image"]
	if source == "" {
		source = attrs["image_name"]
	}
	if source == "" {
		source = "-"
	}
	if typ == "" {
		typ = "docker"
	}
	if action == "" {
		action = "event"
	}

	id := msg.Actor.ID
	if len(id) > 12 {
		id = id[:12]
	}

	return Event{
		Timestamp: ts,
		Type:      typ,
		Action:    action,
		Name:      name,
		ID:        id,
		Severity:  SeverityFor(action),
		Detail:    detail,
		Host:      host,
		Source:    source,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
