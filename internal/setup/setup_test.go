package setup

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/metrics"
	"github.com/gwflow/gwsetup/pkg/resources"
)

const configBaseTmpl = `#! /usr/bin/env bash
export MACHINE="@MACHINE@"
export HOMEgfs="@HOMEgfs@"
export EXPDIR="@EXPDIR@"
export ACCOUNT="@ACCOUNT@"
export MODE="cycled"
export BUILD_gfs="@BUILD_gfs@"
export BUILD_upp="@BUILD_upp@"
export BUILD_gsi="NO"
`

const configCompile = `#! /usr/bin/env bash
echo "BEGIN: config.compile"
`

const resourcesTmpl = `check_configuration:
  valid: true

compile_gfs:
  parameters:
    walltime: "01:00:00"
    threadable: true
  build:
    num_PEs: {{ index .host_info "cores_per_node" }}
    threads: 2
    mem_per_PE: max
    BUILD_JOBS: 20

compile_upp:
  parameters:
    num_PEs: 4
    walltime: "00:30:00"
    mem_per_PE: 300000MB
`

var hera = host.Profile{Name: "hera", CoresPerNode: 40, MemPerNodeMB: 192000, Scheduler: host.SchedulerSlurm, Account: "fv3-cpu"}

func newWorkflow(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/gw/parm/config/build/config.base":    configBaseTmpl,
		"/gw/parm/config/build/config.compile": configCompile,
		"/gw/parm/config/build/resources.yaml": resourcesTmpl,
		"/gw/build_opts.yaml":                  "BUILD_gfs: YES\nBUILD_upp: YES\n",
	}
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	}
	return fs
}

func TestRun(t *testing.T) {
	fs := newWorkflow(t)
	rec := metrics.NewRecorder()

	result, err := Run(context.Background(), Options{
		Fs:       fs,
		Home:     "/gw",
		YAML:     "/gw/build_opts.yaml",
		Account:  "da-cpu",
		Host:     hera,
		Recorder: rec,
	})
	require.NoError(t, err)

	assert.Equal(t, "/gw/sorc/build", result.ExpDir)
	assert.Equal(t, []string{"config.base", "config.compile"}, result.Configs)

	base, err := afero.ReadFile(fs, "/gw/sorc/build/config.base")
	require.NoError(t, err)
	assert.Contains(t, string(base), `export MACHINE="HERA"`)
	assert.Contains(t, string(base), `export EXPDIR="/gw/sorc/build"`)
	assert.Contains(t, string(base), `export ACCOUNT="da-cpu"`)
	assert.Contains(t, string(base), `export BUILD_gfs="YES"`)

	build := result.Resolutions["build"]
	assert.Equal(t, []string{"compile_gfs", "compile_upp"}, build.Tasks())
	assert.Equal(t, 2, build.Resources["compile_gfs"].NumNodes)
	assert.True(t, build.Resources["compile_upp"].Exclusive)

	diags := result.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, resources.KindMemoryCapped, diags[0].Kind)

	gfs, err := afero.ReadFile(fs, "/gw/sorc/build/config.compile_gfs")
	require.NoError(t, err)
	want := `#! /usr/bin/env bash
if [[ ${RUN} == "build" ]]; then
  export BUILD_JOBS=20
  export is_exclusive=true
  export memory=192000MB
  export nodes=2
  export ntasks=40
  export tasks_per_node=20
  export threads_per_task=2
  export walltime=01:00:00
fi
echo "BEGIN: config.compile"
`
	assert.Equal(t, want, string(gfs))

	compile, err := afero.ReadFile(fs, "/gw/sorc/build/config.compile")
	require.NoError(t, err)
	assert.Equal(t, configCompile, string(compile))
}

func TestRunTwice(t *testing.T) {
	fs := newWorkflow(t)
	opts := Options{
		Fs:       fs,
		Home:     "/gw",
		YAML:     "/gw/build_opts.yaml",
		Account:  "da-cpu",
		Host:     hera,
		Recorder: metrics.NewRecorder(),
	}

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)
	first, err := afero.ReadFile(fs, "/gw/sorc/build/config.compile_gfs")
	require.NoError(t, err)

	_, err = Run(context.Background(), opts)
	require.NoError(t, err)
	second, err := afero.ReadFile(fs, "/gw/sorc/build/config.compile_gfs")
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, strings.Count(string(second), `if [[ ${RUN} == "build" ]]; then`))
}

func TestRunMissingYAML(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Fs:   newWorkflow(t),
		Home: "/gw",
		YAML: "/gw/missing.yaml",
		Host: hera,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YAML file does not exist")
}

func TestRunUndefinedTask(t *testing.T) {
	fs := newWorkflow(t)
	require.NoError(t, afero.WriteFile(fs, "/gw/build_opts.yaml", []byte("BUILD_gfs: YES\nBUILD_upp: YES\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/gw/parm/config/build/config.base",
		[]byte(configBaseTmpl+"export BUILD_gdas=YES\n"), 0644))

	_, err := Run(context.Background(), Options{
		Fs:   fs,
		Home: "/gw",
		YAML: "/gw/build_opts.yaml",
		Host: hera,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, resources.ErrUndefinedResources)
	assert.Contains(t, err.Error(), "compile_gdas")

	exists, err := afero.Exists(fs, "/gw/sorc/build/config.compile_gfs")
	require.NoError(t, err)
	assert.False(t, exists, "no task config is written when resolution fails")
}

func TestRunInvalidHost(t *testing.T) {
	_, err := Run(context.Background(), Options{Fs: newWorkflow(t), Home: "/gw", Host: host.Profile{Name: "empty"}})
	assert.ErrorIs(t, err, host.ErrInvalidProfile)

	_, err = Run(context.Background(), Options{Fs: newWorkflow(t), Host: hera})
	assert.Error(t, err)
}
