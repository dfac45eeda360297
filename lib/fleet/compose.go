package fleet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/d2ha/d2ha/lib/logger"
	"github.com/ghodss/yaml"
)

const (
	composeConfigFilesLabel = "com.docker.compose.project.config_files"
	composeWorkingDirLabel  = "com.docker.compose.project.working_dir"
)

// ComposeFile is the compose document a container was started from.
type ComposeFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ComposeFile returns the compose document of the container id.
func (m *manager) ComposeFile(ctx context.Context, id string) (*ComposeFile, error) {
	path, err := m.composePath(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrComposeNotFound, path)
		}
		return nil, fmt.Errorf("read compose file %s: %w", path, err)
	}
	return &ComposeFile{Path: path, Content: string(raw)}, nil
}

// SaveComposeFile replaces the compose document of the container id. The
// content must parse as YAML. Containers are not recreated.
func (m *manager) SaveComposeFile(ctx context.Context, id, content string) error {
	if _, err := yaml.YAMLToJSON([]byte(content)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCompose, err)
	}
	path, err := m.composePath(ctx, id)
	if err != nil {
		return err
	}

	mode := os.FileMode(0644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	tempPath := path + ".d2ha.tmp"
	if err := os.WriteFile(tempPath, []byte(content), mode); err != nil {
		return fmt.Errorf("write compose file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename compose file: %w", err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "saved compose file", "id", id, "path", path)
	return nil
}

// composePath resolves the first compose config file of a container. The
// result never leaves the compose working directory, symlinks included.
func (m *manager) composePath(ctx context.Context, id string) (string, error) {
	c, err := m.inspect(ctx, id)
	if err != nil {
		return "", err
	}
	var labels map[string]string
	if c.Config != nil {
		labels = c.Config.Labels
	}
	root, rel, ok := ComposeLocation(labels)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrComposeNotFound, id)
	}
	path, err := securejoin.SecureJoin(root, rel)
	if err != nil {
		return "", fmt.Errorf("resolve compose path: %w", err)
	}
	return path, nil
}

// ComposeLocation splits the compose labels into a root directory and a path
// relative to it. The root is the project working directory, or the
// directory of an absolute config file when no working directory is set.
func ComposeLocation(labels map[string]string) (root, rel string, ok bool) {
	first, _, _ := strings.Cut(labels[composeConfigFilesLabel], ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return "", "", false
	}
	workingDir := strings.TrimSpace(labels[composeWorkingDirLabel])

	switch {
	case workingDir != "" && filepath.IsAbs(first):
		r, err := filepath.Rel(workingDir, first)
		if err != nil {
			return "", "", false
		}
		return workingDir, r, true
	case workingDir != "":
		return workingDir, first, true
	case filepath.IsAbs(first):
		return filepath.Dir(first), filepath.Base(first), true
	default:
		return "", "", false
	}
}
