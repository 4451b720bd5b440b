package render

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/resources"
)

var fcst = resources.TaskResources{
	NumProcesses:     80,
	Threads:          2,
	ProcessesPerNode: 20,
	NumNodes:         4,
	MemPerNodeMB:     192000,
	Walltime:         "02:00:00",
}

func TestExports(t *testing.T) {
	got := Exports(fcst, map[string]string{"ZVAR": "1", "APRUN": "srun -l"})

	keys := make([]string, len(got))
	for i, e := range got {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{"ntasks", "threads_per_task", "tasks_per_node", "nodes", "memory", "is_exclusive", "walltime", "APRUN", "ZVAR"}, keys)
	assert.Equal(t, "192000MB", got[4].Value)
	assert.Equal(t, "false", got[5].Value)
}

func TestShell(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Shell(&buf, "gfs", Exports(fcst, map[string]string{"APRUN": "srun -l", "NOTE": "it's"})))

	want := `if [[ ${RUN} == "gfs" ]]; then
  export ntasks=80
  export threads_per_task=2
  export tasks_per_node=20
  export nodes=4
  export memory=192000MB
  export is_exclusive=false
  export walltime=02:00:00
  export APRUN='srun -l'
  export NOTE='it'\''s'
fi
`
	assert.Equal(t, want, buf.String())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "plain", Quote("plain"))
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, "'$HOME'", Quote("$HOME"))
}

func TestSlurmDirectives(t *testing.T) {
	res := fcst
	res.Exclusive = true
	h := host.Profile{Name: "hera", CoresPerNode: 40, MemPerNodeMB: 192000, Account: "fv3-cpu", Partition: "hera"}

	var buf bytes.Buffer
	require.NoError(t, Directives(&buf, "SLURM", "fcst", res, h))

	want := `#SBATCH --job-name=fcst
#SBATCH --nodes=4
#SBATCH --ntasks-per-node=20
#SBATCH --cpus-per-task=2
#SBATCH --mem=192000M
#SBATCH --time=02:00:00
#SBATCH --exclusive
#SBATCH --account=fv3-cpu
#SBATCH --partition=hera
`
	assert.Equal(t, want, buf.String())
}

func TestPBSDirectives(t *testing.T) {
	h := host.Profile{Name: "wcoss2", CoresPerNode: 128, MemPerNodeMB: 512000, Queue: "dev"}

	var buf bytes.Buffer
	require.NoError(t, Directives(&buf, host.SchedulerPBS, "fcst", fcst, h))

	want := `#PBS -N fcst
#PBS -l select=4:mpiprocs=20:ompthreads=2:ncpus=40:mem=192000MB
#PBS -l walltime=02:00:00
#PBS -q dev
`
	assert.Equal(t, want, buf.String())
}

func TestUnknownScheduler(t *testing.T) {
	var buf bytes.Buffer
	err := Directives(&buf, "lsf", "fcst", fcst, host.Profile{})
	assert.ErrorIs(t, err, ErrUnknownScheduler)
	assert.Equal(t, []string{"pbspro", "slurm"}, Schedulers())
}

func TestShellRejectsUnsafeNames(t *testing.T) {
	for _, run := range []string{"", `gfs"; rm -rf ~; "`, "$(id)", "gfs\ngdas"} {
		var buf bytes.Buffer
		err := Shell(&buf, run, Exports(fcst, nil))
		assert.ErrorIs(t, err, ErrInvalidName, run)
		assert.Empty(t, buf.String())
	}

	for _, key := range []string{"", "1ST", "A-B", "X=1; id #", "PATH\nid"} {
		var buf bytes.Buffer
		err := Shell(&buf, "gfs", []Export{{Key: key, Value: "v"}})
		assert.ErrorIs(t, err, ErrInvalidName, key)
		assert.Empty(t, buf.String())
	}

	var buf bytes.Buffer
	require.NoError(t, Shell(&buf, "enkfgdas.v2", []Export{{Key: "_A1", Value: "x"}}))
	assert.Equal(t, RunGuard("enkfgdas.v2")+"\n  export _A1=x\nfi\n", buf.String())
}

func TestDirectivesRejectMultilineValues(t *testing.T) {
	res := fcst
	res.Walltime = "02:00:00\n#SBATCH --qos=urgent"
	var buf bytes.Buffer
	assert.ErrorIs(t, Directives(&buf, host.SchedulerSlurm, "fcst", res, host.Profile{}), ErrInvalidValue)

	h := host.Profile{Account: "fv3\r-cpu"}
	assert.ErrorIs(t, Directives(&buf, host.SchedulerPBS, "fcst", fcst, h), ErrInvalidValue)
	assert.ErrorIs(t, Directives(&buf, host.SchedulerPBS, "fcst\n", fcst, host.Profile{}), ErrInvalidValue)
	assert.Empty(t, buf.String())
}
