package resources

import (
	"fmt"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/memory"
)

// TaskResources is the node placement computed for one task.
type TaskResources struct {
	NumProcesses     int    `json:"num_PEs" yaml:"num_PEs"`
	Threads          int    `json:"threads" yaml:"threads"`
	ProcessesPerNode int    `json:"PEs_per_node" yaml:"PEs_per_node"`
	NumNodes         int    `json:"num_nodes" yaml:"num_nodes"`
	MemPerNodeMB     int    `json:"mem_per_node_mb" yaml:"mem_per_node_mb"`
	Exclusive        bool   `json:"exclusive" yaml:"exclusive"`
	Walltime         string `json:"walltime,omitempty" yaml:"walltime,omitempty"`
}

// MemPerNode returns the memory per node as a "<n>MB" string.
func (r TaskResources) MemPerNode() string {
	return memory.Format(r.MemPerNodeMB)
}

// CoresPerNode is the number of cores the placement occupies on each node.
func (r TaskResources) CoresPerNode() int {
	return r.ProcessesPerNode * r.Threads
}

// FitOption customizes a single Fit call.
type FitOption func(*fitOptions)

type fitOptions struct {
	maxProcessesPerNode int
}

// WithMaxProcessesPerNode caps processes per node below what the cores allow.
// Values < 1 leave the cap unset.
func WithMaxProcessesPerNode(n int) FitOption {
	return func(o *fitOptions) {
		o.maxProcessesPerNode = n
	}
}

// Fit computes the node layout for spec on h.
//
// The returned placement never asks for more memory per node than the host
// has, and never puts more threads on a node than it has cores unless the
// placement is exclusive. Requests that cannot be honored are capped and
// reported as diagnostics; the only error is ErrInfeasibleRequest for inputs
// that were not built through Validate/NewTaskSpec or an invalid host.
func Fit(task string, spec TaskSpec, h host.Profile, opts ...FitOption) (TaskResources, []Diagnostic, error) {
	if spec.IsZero() {
		return TaskResources{}, nil, taskError(task, fmt.Errorf("%w: empty task spec", ErrInfeasibleRequest))
	}
	if err := h.Validate(); err != nil {
		return TaskResources{}, nil, taskError(task, fmt.Errorf("%w: %v", ErrInfeasibleRequest, err))
	}

	var o fitOptions
	for _, opt := range opts {
		opt(&o)
	}

	f := &fitter{
		task:   task,
		spec:   spec,
		cores:  h.CoresPerNode,
		mem:    h.MemPerNodeMB,
		memCPU: h.MemPerCoreMB(),
		maxPPN: o.maxProcessesPerNode,
	}
	res := f.fit()
	res.Walltime = spec.Walltime()
	return res, f.diags, nil
}

// fitter holds the inputs of one Fit call. Each placement method returns a
// complete TaskResources.
type fitter struct {
	task   string
	spec   TaskSpec
	cores  int
	mem    int
	memCPU int
	maxPPN int
	diags  []Diagnostic
}

func (f *fitter) fit() TaskResources {
	if f.spec.Threads() > f.cores {
		return f.oversubscribed()
	}

	req := f.spec.MemPerProcess()
	switch req.Kind() {
	case MemoryMax:
		return f.maxMemory()
	case MemoryExplicit:
		return f.explicitMemory(req.MB())
	default:
		return f.defaultMemory()
	}
}

// defaultMemory packs full nodes by cores and gives each process
// mem_per_core * threads.
func (f *fitter) defaultMemory() TaskResources {
	threads := f.spec.Threads()
	ppn := f.capPerNode(f.cores / threads)
	return f.placement(threads, ppn, f.memCPU*threads*ppn, false)
}

// maxMemory packs full nodes by cores and reserves every node's memory.
func (f *fitter) maxMemory() TaskResources {
	threads := f.spec.Threads()
	ppn := f.capPerNode(f.cores / threads)
	return f.placement(threads, ppn, f.mem, true)
}

// explicitMemory tries the core-bound layout first and falls back to a
// memory-bound one.
func (f *fitter) explicitMemory(mb int) TaskResources {
	threads := f.spec.Threads()

	// Processes are clamped to np here so that mem_per_node covers only
	// the processes that run. mb*ppn <= mem also gives mb*np <= mem*nodes.
	// Compared by division so that huge requests cannot overflow.
	ppn := f.packPerNode(f.cores / threads)
	if ppn <= f.mem/mb {
		return f.placement(threads, ppn, mb*ppn, false)
	}

	return f.memoryBound(mb)
}

// memoryBound packs floor(mem/mb) processes per node. Since it only runs
// after the core-bound layout failed, that count is below cores/threads.
func (f *fitter) memoryBound(mb int) TaskResources {
	threads := f.spec.Threads()

	ppn := f.packPerNode(f.mem / mb)
	if ppn > 0 {
		if !f.spec.Threadable() || threads*ppn <= f.cores {
			return f.placement(threads, ppn, mb*ppn, false)
		}

		// Unreachable with the core-bound check above; kept so the
		// rebalancing order stays explicit if that check changes.
		if f.spec.AdjustableThreads() {
			if res, ok := f.adjustThreads(mb); ok {
				return res
			}
		}

		ppn = f.packPerNode(f.cores / threads)
		return f.placement(threads, ppn, mb*ppn, false)
	}

	// A single process needs more than a whole node. The memory bound does
	// not depend on threads, so the divisor search finds nothing here and
	// the request is capped; it runs for the threads-adjusted contract.
	if f.spec.Threadable() && f.spec.AdjustableThreads() {
		if res, ok := f.adjustThreads(mb); ok {
			return res
		}
	}
	return f.capToNode(mb)
}

// adjustThreads picks the smallest divisor of cores above the current thread
// count that still leaves room for at least one process per node.
func (f *fitter) adjustThreads(mb int) (TaskResources, bool) {
	threads := f.spec.Threads()

	for candidate := threads + 1; candidate <= f.cores; candidate++ {
		if f.cores%candidate != 0 {
			continue
		}
		ppn := f.packPerNode(min(f.mem/mb, f.cores/candidate))
		if ppn == 0 {
			continue
		}

		f.warn(KindThreadsAdjusted,
			fmt.Sprintf("%d threads", threads),
			fmt.Sprintf("%d threads", candidate),
			fmt.Sprintf("threads modified from %d to %d to satisfy memory requirements", threads, candidate))
		return f.placement(candidate, ppn, mb*ppn, false), true
	}
	return TaskResources{}, false
}

// capToNode is the last resort: one process per exclusive node with all of
// the node's memory.
func (f *fitter) capToNode(mb int) TaskResources {
	f.warn(KindMemoryCapped,
		memory.Format(mb),
		memory.Format(f.mem),
		fmt.Sprintf("memory requirement of %s per PE exceeds the %s available on a node; setting memory request to %s",
			memory.Format(mb), memory.Format(f.mem), memory.Format(f.mem)))
	return f.placement(f.spec.Threads(), 1, f.mem, true)
}

// oversubscribed handles a process that has more threads than a node has
// cores: each process gets a node to itself.
func (f *fitter) oversubscribed() TaskResources {
	threads := f.spec.Threads()
	f.warn(KindThreadsOversubscribed,
		fmt.Sprintf("%d threads", threads),
		fmt.Sprintf("1 PE per exclusive node of %d cores", f.cores),
		fmt.Sprintf("%d threads per PE exceeds the %d cores on a node; placing one PE per exclusive node", threads, f.cores))

	memPerNode := f.mem
	if req := f.spec.MemPerProcess(); req.Kind() == MemoryExplicit {
		if req.MB() > f.mem {
			return f.capToNode(req.MB())
		}
		memPerNode = req.MB()
	}
	return f.placement(threads, 1, memPerNode, true)
}

// capPerNode applies the optional processes-per-node cap. The result is
// floored; zero means nothing fits.
func (f *fitter) capPerNode(fit int) int {
	ppn := fit
	if f.maxPPN > 0 {
		ppn = min(ppn, f.maxPPN)
	}
	if ppn < 0 {
		return 0
	}
	return ppn
}

// packPerNode is capPerNode further bounded by the process count.
func (f *fitter) packPerNode(fit int) int {
	return f.capPerNode(min(fit, f.spec.NumProcesses()))
}

func (f *fitter) placement(threads, ppn, memPerNode int, exclusive bool) TaskResources {
	np := f.spec.NumProcesses()
	return TaskResources{
		NumProcesses:     np,
		Threads:          threads,
		ProcessesPerNode: ppn,
		NumNodes:         ceilDiv(np, ppn),
		MemPerNodeMB:     memPerNode,
		Exclusive:        exclusive,
	}
}

func (f *fitter) warn(kind DiagnosticKind, requested, substituted, message string) {
	f.diags = append(f.diags, Diagnostic{
		Severity:    SeverityWarning,
		Kind:        kind,
		Task:        f.task,
		Requested:   requested,
		Substituted: substituted,
		Message:     message,
	})
}

// ceilDiv rounds up; used whenever a count is scaled up to cover demand.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
