// Package host describes the physical layout of the machine a workflow is
// configured for.
package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gwflow/gwsetup/pkg/memory"
)

// Scheduler names understood by the renderers
const (
	SchedulerSlurm = "slurm"
	SchedulerPBS   = "pbspro"
	SchedulerNone  = "none"
)

// ErrInvalidProfile is returned when a profile has no usable cores or memory.
var ErrInvalidProfile = errors.New("invalid host profile")

// Profile is the per-node capability of a host. Profiles are loaded once per
// run and passed around by value.
type Profile struct {
	Name         string `json:"name" yaml:"name"`
	CoresPerNode int    `json:"cores_per_node" yaml:"cores_per_node"`
	MemPerNodeMB int    `json:"mem_per_node_mb" yaml:"mem_per_node_mb"`
	Scheduler    string `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Account      string `json:"account,omitempty" yaml:"account,omitempty"`
	Partition    string `json:"partition,omitempty" yaml:"partition,omitempty"`
	Queue        string `json:"queue,omitempty" yaml:"queue,omitempty"`
}

// NewProfile builds a profile from a core count and a memory string.
func NewProfile(name string, coresPerNode int, memPerNode string) (Profile, error) {
	mb, err := memory.Parse(memPerNode)
	if err != nil {
		return Profile{}, fmt.Errorf("host %s: mem_per_node: %w", name, err)
	}

	p := Profile{
		Name:         name,
		CoresPerNode: coresPerNode,
		MemPerNodeMB: mb,
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks that every core has at least a megabyte to work with.
func (p Profile) Validate() error {
	if p.CoresPerNode <= 0 {
		return fmt.Errorf("%w: %s: cores_per_node must be positive, got %d", ErrInvalidProfile, p.Name, p.CoresPerNode)
	}
	if p.MemPerNodeMB <= 0 {
		return fmt.Errorf("%w: %s: mem_per_node must be positive, got %dMB", ErrInvalidProfile, p.Name, p.MemPerNodeMB)
	}
	if p.MemPerNodeMB < p.CoresPerNode {
		return fmt.Errorf("%w: %s: mem_per_node %dMB is less than 1MB per core", ErrInvalidProfile, p.Name, p.MemPerNodeMB)
	}
	return nil
}

// MemPerCoreMB truncates so that cores * MemPerCoreMB never exceeds node memory.
func (p Profile) MemPerCoreMB() int {
	if p.CoresPerNode <= 0 {
		return 0
	}
	return p.MemPerNodeMB / p.CoresPerNode
}

// Info returns the host_info template context used by resource manifests.
func (p Profile) Info() map[string]interface{} {
	return map[string]interface{}{
		"cores_per_node": p.CoresPerNode,
		"mem_per_node":   memory.Format(p.MemPerNodeMB),
		"mem_per_core":   memory.Format(p.MemPerCoreMB()),
	}
}

// TemplateValues returns the upper-case host keys substituted into config files.
func (p Profile) TemplateValues() map[string]string {
	values := map[string]string{
		"MACHINE":        strings.ToUpper(p.Name),
		"CORES_PER_NODE": fmt.Sprintf("%d", p.CoresPerNode),
		"MEM_PER_NODE":   memory.Format(p.MemPerNodeMB),
	}
	if p.Scheduler != "" {
		values["SCHEDULER"] = p.Scheduler
	}
	if p.Account != "" {
		values["ACCOUNT"] = p.Account
	}
	if p.Partition != "" {
		values["PARTITION"] = p.Partition
	}
	if p.Queue != "" {
		values["QUEUE"] = p.Queue
	}
	return values
}
