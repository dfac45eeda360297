// Package paths centralizes the on-disk layout under the data directory.
package paths

import "path/filepath"

// Paths resolves files below a single data directory.
type Paths struct {
	dataDir string
}

// New creates a Paths rooted at dataDir.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// Preferences is the JSON document holding entity and global preferences.
func (p *Paths) Preferences() string {
	return filepath.Join(p.dataDir, "autodiscovery_preferences.json")
}
