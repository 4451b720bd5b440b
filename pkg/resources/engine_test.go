package resources

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/memory"
)

var hera = host.Profile{Name: "hera", CoresPerNode: 40, MemPerNodeMB: 192000}

func mustSpec(t *testing.T, o SpecOptions) TaskSpec {
	t.Helper()
	if o.Walltime == "" {
		o.Walltime = "00:30:00"
	}
	spec, err := NewTaskSpec(o)
	require.NoError(t, err)
	return spec
}

func TestFit(t *testing.T) {
	tests := []struct {
		name      string
		opts      SpecOptions
		fitOpts   []FitOption
		want      TaskResources
		wantDiags []DiagnosticKind
	}{
		{
			name: "default memory packs by cores",
			opts: SpecOptions{NumProcesses: 80, Threads: 2, Threadable: true},
			want: TaskResources{NumProcesses: 80, Threads: 2, ProcessesPerNode: 20, NumNodes: 4, MemPerNodeMB: 192000},
		},
		{
			name: "max memory reserves whole nodes",
			opts: SpecOptions{NumProcesses: 80, Threads: 2, Threadable: true, MemPerProcess: MaxMemory()},
			want: TaskResources{NumProcesses: 80, Threads: 2, ProcessesPerNode: 20, NumNodes: 4, MemPerNodeMB: 192000, Exclusive: true},
		},
		{
			name:      "explicit request larger than a node is capped",
			opts:      SpecOptions{NumProcesses: 4, MemPerProcess: ExplicitMemory(300000)},
			want:      TaskResources{NumProcesses: 4, Threads: 1, ProcessesPerNode: 1, NumNodes: 4, MemPerNodeMB: 192000, Exclusive: true},
			wantDiags: []DiagnosticKind{KindMemoryCapped},
		},
		{
			name: "explicit request that fits is core bound",
			opts: SpecOptions{NumProcesses: 80, MemPerProcess: ExplicitMemory(2000)},
			want: TaskResources{NumProcesses: 80, Threads: 1, ProcessesPerNode: 40, NumNodes: 2, MemPerNodeMB: 80000},
		},
		{
			name: "explicit request is memory bound",
			opts: SpecOptions{NumProcesses: 80, MemPerProcess: ExplicitMemory(10000)},
			want: TaskResources{NumProcesses: 80, Threads: 1, ProcessesPerNode: 19, NumNodes: 5, MemPerNodeMB: 190000},
		},
		{
			name: "threaded memory bound request keeps threads",
			opts: SpecOptions{NumProcesses: 10, Threads: 4, Threadable: true, MemPerProcess: ExplicitMemory(50000)},
			want: TaskResources{NumProcesses: 10, Threads: 4, ProcessesPerNode: 3, NumNodes: 4, MemPerNodeMB: 150000},
		},
		{
			name:      "adjustable threads cannot shrink a process larger than a node",
			opts:      SpecOptions{NumProcesses: 3, Threads: 2, Threadable: true, AdjustableThreads: true, MemPerProcess: ExplicitMemory(200000)},
			want:      TaskResources{NumProcesses: 3, Threads: 2, ProcessesPerNode: 1, NumNodes: 3, MemPerNodeMB: 192000, Exclusive: true},
			wantDiags: []DiagnosticKind{KindMemoryCapped},
		},
		{
			name:      "more threads than cores gets exclusive nodes",
			opts:      SpecOptions{NumProcesses: 2, Threads: 64, Threadable: true},
			want:      TaskResources{NumProcesses: 2, Threads: 64, ProcessesPerNode: 1, NumNodes: 2, MemPerNodeMB: 192000, Exclusive: true},
			wantDiags: []DiagnosticKind{KindThreadsOversubscribed},
		},
		{
			name:      "more threads than cores with a modest explicit request",
			opts:      SpecOptions{NumProcesses: 2, Threads: 64, Threadable: true, MemPerProcess: ExplicitMemory(1000)},
			want:      TaskResources{NumProcesses: 2, Threads: 64, ProcessesPerNode: 1, NumNodes: 2, MemPerNodeMB: 1000, Exclusive: true},
			wantDiags: []DiagnosticKind{KindThreadsOversubscribed},
		},
		{
			name:      "more threads than cores and more memory than a node",
			opts:      SpecOptions{NumProcesses: 2, Threads: 64, Threadable: true, MemPerProcess: ExplicitMemory(500000)},
			want:      TaskResources{NumProcesses: 2, Threads: 64, ProcessesPerNode: 1, NumNodes: 2, MemPerNodeMB: 192000, Exclusive: true},
			wantDiags: []DiagnosticKind{KindThreadsOversubscribed, KindMemoryCapped},
		},
		{
			name:    "processes per node cap",
			opts:    SpecOptions{NumProcesses: 80},
			fitOpts: []FitOption{WithMaxProcessesPerNode(10)},
			want:    TaskResources{NumProcesses: 80, Threads: 1, ProcessesPerNode: 10, NumNodes: 8, MemPerNodeMB: 48000},
		},
		{
			name:    "cap above cores is ignored",
			opts:    SpecOptions{NumProcesses: 80},
			fitOpts: []FitOption{WithMaxProcessesPerNode(400)},
			want:    TaskResources{NumProcesses: 80, Threads: 1, ProcessesPerNode: 40, NumNodes: 2, MemPerNodeMB: 192000},
		},
		{
			name: "default memory packs a full node for a small task",
			opts: SpecOptions{NumProcesses: 4},
			want: TaskResources{NumProcesses: 4, Threads: 1, ProcessesPerNode: 40, NumNodes: 1, MemPerNodeMB: 192000},
		},
		{
			name: "default memory for one process",
			opts: SpecOptions{NumProcesses: 1},
			want: TaskResources{NumProcesses: 1, Threads: 1, ProcessesPerNode: 40, NumNodes: 1, MemPerNodeMB: 192000},
		},
		{
			name: "max memory for one threaded process",
			opts: SpecOptions{NumProcesses: 1, Threads: 4, Threadable: true, MemPerProcess: MaxMemory()},
			want: TaskResources{NumProcesses: 1, Threads: 4, ProcessesPerNode: 10, NumNodes: 1, MemPerNodeMB: 192000, Exclusive: true},
		},
		{
			name:    "cap applies to small default tasks",
			opts:    SpecOptions{NumProcesses: 4},
			fitOpts: []FitOption{WithMaxProcessesPerNode(8)},
			want:    TaskResources{NumProcesses: 4, Threads: 1, ProcessesPerNode: 8, NumNodes: 1, MemPerNodeMB: 38400},
		},
		{
			name: "explicit request for a small task covers only its processes",
			opts: SpecOptions{NumProcesses: 4, MemPerProcess: ExplicitMemory(2000)},
			want: TaskResources{NumProcesses: 4, Threads: 1, ProcessesPerNode: 4, NumNodes: 1, MemPerNodeMB: 8000},
		},
		{
			name:      "explicit request near the integer limit is capped",
			opts:      SpecOptions{NumProcesses: 4, MemPerProcess: ExplicitMemory(math.MaxInt / 2)},
			want:      TaskResources{NumProcesses: 4, Threads: 1, ProcessesPerNode: 1, NumNodes: 4, MemPerNodeMB: 192000, Exclusive: true},
			wantDiags: []DiagnosticKind{KindMemoryCapped},
		},
		{
			name:      "threadable explicit request near the integer limit is capped",
			opts:      SpecOptions{NumProcesses: 80, Threads: 2, Threadable: true, AdjustableThreads: true, MemPerProcess: ExplicitMemory(math.MaxInt)},
			want:      TaskResources{NumProcesses: 80, Threads: 2, ProcessesPerNode: 1, NumNodes: 80, MemPerNodeMB: 192000, Exclusive: true},
			wantDiags: []DiagnosticKind{KindMemoryCapped},
		},
		{
			name: "threads that do not divide cores round nodes up",
			opts: SpecOptions{NumProcesses: 80, Threads: 3, Threadable: true},
			want: TaskResources{NumProcesses: 80, Threads: 3, ProcessesPerNode: 13, NumNodes: 7, MemPerNodeMB: 187200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := mustSpec(t, tt.opts)
			tt.want.Walltime = spec.Walltime()

			got, diags, err := Fit("fcst", spec, hera, tt.fitOpts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			var kinds []DiagnosticKind
			for _, d := range diags {
				assert.Equal(t, "fcst", d.Task)
				assert.Equal(t, SeverityWarning, d.Severity)
				assert.NotEmpty(t, d.Requested)
				assert.NotEmpty(t, d.Substituted)
				kinds = append(kinds, d.Kind)
			}
			assert.Equal(t, tt.wantDiags, kinds)
		})
	}
}

func TestFitCappedDiagnostic(t *testing.T) {
	spec := mustSpec(t, SpecOptions{NumProcesses: 4, MemPerProcess: ExplicitMemory(300000)})

	_, diags, err := Fit("anal", spec, hera)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "300000MB", diags[0].Requested)
	assert.Equal(t, "192000MB", diags[0].Substituted)
	assert.Contains(t, diags[0].Message, "192000MB")
}

func TestFitMemoryBoundKeepsRequestedThreads(t *testing.T) {
	// memory, not cores, limits this task; adjustable threads stay as requested
	small := host.Profile{Name: "small", CoresPerNode: 4, MemPerNodeMB: 4000}
	spec := mustSpec(t, SpecOptions{NumProcesses: 8, Threads: 1, Threadable: true, AdjustableThreads: true, MemPerProcess: ExplicitMemory(1500)})

	got, diags, err := Fit("post", spec, small)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, 2, got.ProcessesPerNode)
	assert.Equal(t, 4, got.NumNodes)
	assert.Equal(t, 3000, got.MemPerNodeMB)
}

func TestFitErrors(t *testing.T) {
	_, _, err := Fit("fcst", TaskSpec{}, hera)
	assert.ErrorIs(t, err, ErrInfeasibleRequest)

	var te *TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fcst", te.Task)

	spec := mustSpec(t, SpecOptions{NumProcesses: 1})
	_, _, err = Fit("fcst", spec, host.Profile{Name: "empty"})
	assert.ErrorIs(t, err, ErrInfeasibleRequest)
}

func TestFitIsDeterministic(t *testing.T) {
	spec := mustSpec(t, SpecOptions{NumProcesses: 37, Threads: 4, Threadable: true, AdjustableThreads: true, MemPerProcess: ExplicitMemory(70000)})

	first, firstDiags, err := Fit("eupd", spec, hera)
	require.NoError(t, err)
	second, secondDiags, err := Fit("eupd", spec, hera)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstDiags, secondDiags)
}

func TestTaskResourcesHelpers(t *testing.T) {
	r := TaskResources{ProcessesPerNode: 20, Threads: 2, MemPerNodeMB: 1024}
	assert.Equal(t, "1024MB", r.MemPerNode())
	assert.Equal(t, 40, r.CoresPerNode())
}

func TestFitHugeMemoryString(t *testing.T) {
	spec, err := Validate("fcst", map[string]interface{}{
		KeyNumPEs:   4,
		KeyWalltime: "00:30:00",
		KeyMemPerPE: "4611686018427387904MB",
	})
	require.NoError(t, err)

	got, diags, err := Fit("fcst", spec, hera)
	require.NoError(t, err)
	assert.Equal(t, 192000, got.MemPerNodeMB)
	assert.True(t, got.Exclusive)
	require.Len(t, diags, 1)
	assert.Equal(t, KindMemoryCapped, diags[0].Kind)

	_, err = Validate("fcst", map[string]interface{}{
		KeyNumPEs:   4,
		KeyWalltime: "00:30:00",
		KeyMemPerPE: "18014398509481985GB",
	})
	assert.ErrorIs(t, err, memory.ErrInvalidMemoryFormat)
}
