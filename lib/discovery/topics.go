package discovery

import "strings"

// buttonLabels are the button names per action in publish order.
var buttonLabels = []struct {
	action string
	label  string
}{
	{"start", "Start"},
	{"pause", "Pause"},
	{"stop", "Stop"},
	{"restart", "Restart"},
	{"delete", "Delete"},
	{"full_update", "Full update (pull + recreate)"},
}

// configTopic is "<prefix>/<component>/<node>/<object>/config".
func (m *manager) configTopic(component, objectID string) string {
	return strings.Join([]string{m.cfg.DiscoveryPrefix, component, m.cfg.NodeID, objectID, "config"}, "/")
}

// stateTopic is "<base>/<slug>/state".
func (m *manager) stateTopic(slug string) string {
	return m.cfg.BaseTopic + "/" + slug + "/state"
}

// attributesTopic is "<base>/<slug>/attributes".
func (m *manager) attributesTopic(slug string) string {
	return m.cfg.BaseTopic + "/" + slug + "/attributes"
}

// commandTopic is "<base>/<slug>/set/<action>".
func (m *manager) commandTopic(slug, action string) string {
	return m.cfg.BaseTopic + "/" + slug + "/set/" + action
}

// commandFilter matches every command topic.
func (m *manager) commandFilter() string {
	return m.cfg.BaseTopic + "/+/set/+"
}

// parseCommand splits a command topic into slug and lower-cased action.
func (m *manager) parseCommand(topic string) (slug, action string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != m.cfg.BaseTopic || parts[2] != "set" {
		return "", "", false
	}
	return parts[1], strings.ToLower(parts[3]), true
}
