package resources

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cast"
)

// Raw keys of a task's resource definition
const (
	KeyNumPEs            = "num_PEs"
	KeyThreads           = "threads"
	KeyThreadable        = "threadable"
	KeyAdjustableThreads = "adjustable_threads"
	KeyAdjustablePEs     = "adjustable_PEs"
	KeyMemPerPE          = "mem_per_PE"
	KeyWalltime          = "walltime"
)

// ResourceKeys are consumed by the validator; any other key in a task's
// definition is a task variable.
var ResourceKeys = []string{
	KeyNumPEs,
	KeyThreads,
	KeyThreadable,
	KeyAdjustableThreads,
	KeyAdjustablePEs,
	KeyMemPerPE,
	KeyWalltime,
}

// SpecOptions are the inputs to NewTaskSpec.
type SpecOptions struct {
	NumProcesses        int
	Threads             int // 0 means 1
	Threadable          bool
	AdjustableThreads   bool
	AdjustableProcesses bool
	MemPerProcess       MemoryRequest
	Walltime            string
}

// TaskSpec is a validated, immutable resource request for one task.
type TaskSpec struct {
	numProcesses        int
	threads             int
	threadable          bool
	adjustableThreads   bool
	adjustableProcesses bool
	memPerProcess       MemoryRequest
	walltime            string
}

// NewTaskSpec checks the threading invariants and returns a TaskSpec.
func NewTaskSpec(o SpecOptions) (TaskSpec, error) {
	var result *multierror.Error

	if o.NumProcesses < 1 {
		result = multierror.Append(result, fmt.Errorf("%w: %s must be >= 1, got %d", ErrInvalidField, KeyNumPEs, o.NumProcesses))
	}

	threads := o.Threads
	if threads == 0 {
		threads = 1
	}
	if threads < 1 {
		result = multierror.Append(result, fmt.Errorf("%w: %s must be >= 1, got %d", ErrInvalidField, KeyThreads, threads))
	}
	if threads > 1 && !o.Threadable {
		result = multierror.Append(result, fmt.Errorf("%w: %d threads requested but the task is not threadable", ErrThreadingPolicyConflict, threads))
	}
	if o.AdjustableThreads && !o.Threadable {
		result = multierror.Append(result, fmt.Errorf("%w: threads are adjustable but the task is not threadable", ErrThreadingPolicyConflict))
	}
	if o.MemPerProcess.Kind() == MemoryExplicit && o.MemPerProcess.MB() <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: %s must be positive", ErrInvalidField, KeyMemPerPE))
	}

	if err := flatten(result); err != nil {
		return TaskSpec{}, err
	}

	return TaskSpec{
		numProcesses:        o.NumProcesses,
		threads:             threads,
		threadable:          o.Threadable,
		adjustableThreads:   o.AdjustableThreads,
		adjustableProcesses: o.AdjustableProcesses,
		memPerProcess:       o.MemPerProcess,
		walltime:            o.Walltime,
	}, nil
}

// NumProcesses returns the requested process count.
func (s TaskSpec) NumProcesses() int { return s.numProcesses }

// Threads returns the requested threads per process.
func (s TaskSpec) Threads() int { return s.threads }

// Threadable reports whether the binary supports more than one thread.
func (s TaskSpec) Threadable() bool { return s.threadable }

// AdjustableThreads reports whether the engine may raise the thread count.
func (s TaskSpec) AdjustableThreads() bool { return s.adjustableThreads }

// AdjustableProcesses reports whether NumProcesses is a floor rather than exact.
func (s TaskSpec) AdjustableProcesses() bool { return s.adjustableProcesses }

// MemPerProcess returns the memory request.
func (s TaskSpec) MemPerProcess() MemoryRequest { return s.memPerProcess }

// Walltime is opaque to the engine.
func (s TaskSpec) Walltime() string { return s.walltime }

// IsZero reports whether s was not built by NewTaskSpec.
func (s TaskSpec) IsZero() bool { return s.numProcesses == 0 }

// Validate normalizes a raw resource definition into a TaskSpec. Every
// problem found in raw is reported, wrapped in a *TaskError naming task.
func Validate(task string, raw map[string]interface{}) (TaskSpec, error) {
	var result *multierror.Error
	opts := SpecOptions{
		Threads:             1,
		AdjustableProcesses: true,
		MemPerProcess:       DefaultMemory(),
	}

	if v, ok := raw[KeyNumPEs]; !ok || v == nil {
		result = multierror.Append(result, ErrMissingProcessCount)
	} else if n, err := toInt(KeyNumPEs, v); err != nil {
		result = multierror.Append(result, err)
	} else {
		opts.NumProcesses = n
	}

	if v, ok := raw[KeyWalltime]; !ok || v == nil {
		result = multierror.Append(result, ErrMissingWalltime)
	} else if s, err := cast.ToStringE(v); err != nil || s == "" {
		result = multierror.Append(result, fmt.Errorf("%w: %s: %v", ErrInvalidField, KeyWalltime, v))
	} else {
		opts.Walltime = s
	}

	if v, ok := raw[KeyThreads]; ok && v != nil {
		n, err := toInt(KeyThreads, v)
		if err != nil {
			result = multierror.Append(result, err)
		} else if n < 1 {
			result = multierror.Append(result, fmt.Errorf("%w: %s must be >= 1, got %d", ErrInvalidField, KeyThreads, n))
		} else {
			opts.Threads = n
		}
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{KeyThreadable, &opts.Threadable},
		{KeyAdjustableThreads, &opts.AdjustableThreads},
		{KeyAdjustablePEs, &opts.AdjustableProcesses},
	}
	for _, flag := range flags {
		key, dst := flag.key, flag.dst
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: %s: %v", ErrInvalidField, key, v))
			continue
		}
		*dst = b
	}

	if v, ok := raw[KeyMemPerPE]; ok && v != nil {
		s, err := cast.ToStringE(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: %s: %v", ErrInvalidField, KeyMemPerPE, v))
		} else if req, err := ParseMemoryRequest(s); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", KeyMemPerPE, err))
		} else {
			opts.MemPerProcess = req
		}
	}

	if err := flatten(result); err != nil {
		return TaskSpec{}, taskError(task, err)
	}

	spec, err := NewTaskSpec(opts)
	if err != nil {
		return TaskSpec{}, taskError(task, err)
	}
	return spec, nil
}

// Variables returns the non-resource entries of raw, keyed and sorted by name.
func Variables(raw map[string]interface{}) ([]string, map[string]string) {
	vars := make(map[string]string)
	keys := make([]string, 0, len(raw))

	for k, v := range raw {
		if isResourceKey(k) {
			continue
		}
		vars[k] = cast.ToString(v)
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, vars
}

func isResourceKey(k string) bool {
	for _, rk := range ResourceKeys {
		if k == rk {
			return true
		}
	}
	return false
}

// toInt accepts integers, integral floats (JSON) and numeric strings.
func toInt(key string, v interface{}) (int, error) {
	switch f := v.(type) {
	case float64:
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidField, key, v)
		}
	case float32:
		if float64(f) != math.Trunc(float64(f)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidField, key, v)
		}
	case bool:
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidField, key, v)
	case string:
		// Always base 10: "010" is ten.
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidField, key, f)
		}
		return n, nil
	}

	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidField, key, v)
	}
	return n, nil
}
