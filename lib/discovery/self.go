package discovery

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var nameSeparators = regexp.MustCompile(`[./:_-]+`)

// IsSelfContainer reports whether name is this bridge's own container: the
// name, or one of its tokens, equals the node id, the base topic,
// "d2ha_server" or "d2ha".
func (m *manager) IsSelfContainer(name string) bool {
	name = strings.ToLower(name)
	if name == "" {
		return false
	}
	known := lo.Compact([]string{
		strings.ToLower(m.cfg.NodeID),
		strings.ToLower(m.cfg.BaseTopic),
		"d2ha_server",
		"d2ha",
	})
	if lo.Contains(known, name) {
		return true
	}
	parts := lo.Compact(nameSeparators.Split(name, -1))
	return lo.Some(parts, known)
}
