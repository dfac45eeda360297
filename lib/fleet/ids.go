package fleet

import (
	"strings"
	"unicode"
)

// normalize lower-cases r and maps every rune that is not a letter or digit to '_'.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Slug builds the topic segment "<name>_<shortID>" for a container.
func Slug(name, shortID string) string {
	base := strings.Trim(normalize(name), "_")
	if base == "" {
		base = "container"
	}
	return base + "_" + shortID
}

// StableID derives an identifier from stack and container name that does not
// change when the container is recreated with a new engine id.
func StableID(stack, name string) string {
	if stack == "" {
		stack = "no_stack"
	}
	if name == "" {
		name = "container"
	}
	id := normalize(stack + "__" + name)
	for strings.Contains(id, "__") {
		id = strings.ReplaceAll(id, "__", "_")
	}
	return strings.Trim(id, "_")
}
