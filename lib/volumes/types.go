package volumes

// Mount kinds reported in Volume.Type.
const (
	TypeVolume = "volume"
	TypeBind   = "bind"
)

// Volume is a named engine volume or a host path bind-mounted into containers.
type Volume struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Driver     string            `json:"driver,omitempty"`
	Mountpoint string            `json:"mountpoint"`
	Scope      string            `json:"scope,omitempty"`
	CreatedAt  string            `json:"created_at,omitempty"`
	Labels     map[string]string `json:"labels"`
	UsedBy     []string          `json:"used_by"`
}

// InUse reports whether any container mounts the volume.
func (v Volume) InUse() bool {
	return len(v.UsedBy) > 0
}

// Deletable reports whether the volume may be removed through the manager.
func (v Volume) Deletable() bool {
	return v.Type == TypeVolume && !v.InUse()
}

// RemovalError records a volume that could not be removed.
type RemovalError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// RemovalResult is the outcome of a bulk removal.
type RemovalResult struct {
	Removed []string       `json:"removed"`
	Errors  []RemovalError `json:"errors"`
}
