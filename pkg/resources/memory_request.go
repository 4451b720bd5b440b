package resources

import (
	"fmt"
	"strings"

	"github.com/gwflow/gwsetup/pkg/memory"
)

// MemoryKind tags a MemoryRequest.
type MemoryKind int

const (
	// MemoryDefault sizes each process at mem_per_core * threads.
	MemoryDefault MemoryKind = iota
	// MemoryMax grants each node's whole memory.
	MemoryMax
	// MemoryExplicit requests a fixed amount per process.
	MemoryExplicit
)

func (k MemoryKind) String() string {
	switch k {
	case MemoryDefault:
		return "default"
	case MemoryMax:
		return "max"
	case MemoryExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// MemoryRequest is the per-process memory ask: Default, Max or Explicit(mb).
// The zero value is Default.
type MemoryRequest struct {
	kind MemoryKind
	mb   int
}

// DefaultMemory returns the Default request.
func DefaultMemory() MemoryRequest { return MemoryRequest{kind: MemoryDefault} }

// MaxMemory returns the Max request.
func MaxMemory() MemoryRequest { return MemoryRequest{kind: MemoryMax} }

// ExplicitMemory returns a request for mb megabytes per process.
func ExplicitMemory(mb int) MemoryRequest { return MemoryRequest{kind: MemoryExplicit, mb: mb} }

// ParseMemoryRequest accepts "default", "max" or a memory quantity.
func ParseMemoryRequest(s string) (MemoryRequest, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default":
		return DefaultMemory(), nil
	case "max":
		return MaxMemory(), nil
	}

	mb, err := memory.Parse(s)
	if err != nil {
		return MemoryRequest{}, err
	}
	if mb <= 0 {
		return MemoryRequest{}, fmt.Errorf("%w: %q must be positive", memory.ErrInvalidMemoryFormat, s)
	}
	return ExplicitMemory(mb), nil
}

// Kind returns the request tag.
func (m MemoryRequest) Kind() MemoryKind { return m.kind }

// MB returns the explicit amount; zero for Default and Max.
func (m MemoryRequest) MB() int { return m.mb }

func (m MemoryRequest) String() string {
	if m.kind == MemoryExplicit {
		return memory.Format(m.mb)
	}
	return m.kind.String()
}
