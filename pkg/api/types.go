package api

import (
	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/memory"
	"github.com/gwflow/gwsetup/pkg/render"
	"github.com/gwflow/gwsetup/pkg/resources"
)

// HostRequest describes an ad-hoc host in a fit request
type HostRequest struct {
	CoresPerNode int    `json:"cores_per_node"`
	MemPerNode   string `json:"mem_per_node"`
}

// FitRequest represents a fit request. Exactly one of Machine and Host
// must be set; Spec holds the raw resource fields of the task.
type FitRequest struct {
	Task                string                 `json:"task"`
	Machine             string                 `json:"machine,omitempty"`
	Host                *HostRequest           `json:"host,omitempty"`
	Spec                map[string]interface{} `json:"spec"`
	MaxProcessesPerNode int                    `json:"max_processes_per_node,omitempty"`
}

// FitResponse represents a computed placement in API responses
type FitResponse struct {
	Task        string                  `json:"task"`
	Host        string                  `json:"host"`
	Resources   resources.TaskResources `json:"resources"`
	MemPerNode  string                  `json:"mem_per_node"`
	Exports     []render.Export         `json:"exports"`
	Diagnostics []resources.Diagnostic  `json:"diagnostics"`
}

// HostResponse represents a host profile in API responses
type HostResponse struct {
	host.Profile
	MemPerNode   string `json:"mem_per_node"`
	MemPerCoreMB int    `json:"mem_per_core_mb"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func newHostResponse(p host.Profile) HostResponse {
	return HostResponse{
		Profile:      p,
		MemPerNode:   memory.Format(p.MemPerNodeMB),
		MemPerCoreMB: p.MemPerCoreMB(),
	}
}
