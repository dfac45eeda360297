package network

// Network summarizes an engine network.
type Network struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Driver         string            `json:"driver"`
	Scope          string            `json:"scope"`
	Internal       bool              `json:"internal"`
	Attachable     bool              `json:"attachable"`
	Subnet         string            `json:"ipam_subnet"`
	Gateway        string            `json:"ipam_gateway"`
	ContainerCount int               `json:"container_count"`
	Deletable      bool              `json:"deletable"`
	Labels         map[string]string `json:"labels"`
}

// Endpoint is a container attached to a network.
type Endpoint struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Status string `json:"status"`
}

// IPAMConfig is one address pool of a network.
type IPAMConfig struct {
	Subnet  string `json:"subnet,omitempty"`
	Gateway string `json:"gateway,omitempty"`
	IPRange string `json:"ip_range,omitempty"`
}

// Detail is the full view of a single network.
type Detail struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	Scope      string            `json:"scope"`
	Internal   bool              `json:"internal"`
	Attachable bool              `json:"attachable"`
	Labels     map[string]string `json:"labels"`
	IPAM       []IPAMConfig      `json:"ipam"`
	Containers []Endpoint        `json:"containers"`
}

// CreateNetworkRequest describes a network to create.
type CreateNetworkRequest struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver,omitempty"`
	Internal   bool              `json:"internal,omitempty"`
	Attachable bool              `json:"attachable,omitempty"`
	Subnet     string            `json:"subnet,omitempty"`
	Gateway    string            `json:"gateway,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}
