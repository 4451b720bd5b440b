package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwflow/gwsetup/pkg/auth"
	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/resources"
)

// execute runs the root command with args and returns its stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func writeHostDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hera.yaml"), []byte("cores_per_node: 40\nmem_per_node: 96GB\nscheduler: slurm\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wcoss2.yaml"), []byte("cores_per_node: 128\nmem_per_node: 500GB\nscheduler: pbspro\n"), 0644))
	return dir
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{FormatTable, FormatJSON, FormatYAML, FormatBash, "slurm", "pbspro"} {
		assert.NoError(t, checkFormat(f), f)
	}
	err := checkFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format \"xml\"")
}

func TestWriteResolution(t *testing.T) {
	h := host.Profile{Name: "hera", CoresPerNode: 40, MemPerNodeMB: 96000}
	res := resources.Resolution{
		Resources: map[string]resources.TaskResources{
			"fcst": {NumProcesses: 80, Threads: 1, ProcessesPerNode: 40, NumNodes: 2, MemPerNodeMB: 96000, Walltime: "01:00:00"},
			"anal": {NumProcesses: 4, Threads: 10, ProcessesPerNode: 4, NumNodes: 1, MemPerNodeMB: 96000, Exclusive: true},
		},
		Variables: map[string]map[string]string{"fcst": {"APRUN": "srun"}},
	}

	t.Run("bash", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeResolution(&buf, FormatBash, "gdas", h, res))
		out := buf.String()
		assert.True(t, strings.Index(out, "# anal") < strings.Index(out, "# fcst"), "tasks are sorted")
		assert.Contains(t, out, `if [[ ${RUN} == "gdas" ]]; then`)
		assert.Contains(t, out, "  export APRUN=srun\n")
		assert.Contains(t, out, "  export is_exclusive=true\n")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeResolution(&buf, FormatJSON, "gdas", h, res))

		var got runResult
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "gdas", got.Run)
		assert.Equal(t, "hera", got.Host)
		assert.Equal(t, 2, got.Resources["fcst"].NumNodes)
		assert.Equal(t, "srun", got.Variables["fcst"]["APRUN"])
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeResolution(&buf, FormatTable, "gdas", h, res))
		out := buf.String()
		assert.Contains(t, out, "fcst")
		assert.Contains(t, out, "96000MB")
		assert.Contains(t, out, "Host: hera (40 cores, 96000MB per node)")
	})

	t.Run("slurm", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeResolution(&buf, "slurm", "gdas", h, res))
		assert.Contains(t, buf.String(), "#SBATCH")
	})
}

func TestHostFileOf(t *testing.T) {
	got := hostFileOf(host.Profile{Name: "local", CoresPerNode: 8, MemPerNodeMB: 16000})
	assert.Equal(t, map[string]interface{}{
		"cores_per_node": 8,
		"mem_per_node":   "16000MB",
	}, got)
}

func TestFitCommand(t *testing.T) {
	out, err := execute(t, "fit",
		"--cores", "40", "--node-mem", "192000MB",
		"--num-pes", "80", "--walltime", "00:10:00",
		"-o", "bash")
	require.NoError(t, err)

	want := `# task
if [[ ${RUN} == "gfs" ]]; then
  export ntasks=80
  export threads_per_task=1
  export tasks_per_node=40
  export nodes=2
  export memory=192000MB
  export is_exclusive=false
  export walltime=00:10:00
fi
`
	assert.Equal(t, want, out)
}

func TestHostCommands(t *testing.T) {
	dir := writeHostDir(t)

	out, err := execute(t, "host", "list", "--host-dir", dir, "-o", "json")
	require.NoError(t, err)

	var profiles []host.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &profiles))
	require.Len(t, profiles, 2)
	assert.Equal(t, "hera", profiles[0].Name)
	assert.Equal(t, 128, profiles[1].CoresPerNode)

	out, err = execute(t, "host", "show", "wcoss2", "--host-dir", dir, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "512000MB")
	assert.Contains(t, out, "pbspro")

	_, err = execute(t, "host", "show", "orion", "--host-dir", dir, "-o", "table")
	assert.Error(t, err)
}

func TestKeyGenerate(t *testing.T) {
	out, err := execute(t, "key", "generate")
	require.NoError(t, err)

	var key, hash string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		require.Len(t, fields, 2)
		switch fields[0] {
		case "Key:":
			key = fields[1]
		case "Hash:":
			hash = fields[1]
		}
	}

	ks, err := auth.NewKeyStore(hash)
	require.NoError(t, err)
	assert.NoError(t, ks.Validate(key))
}

func TestResourcesCommand(t *testing.T) {
	dir := writeHostDir(t)
	manifestPath := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`fcst:
  gfs:
    num_PEs: {{ .host_info.cores_per_node }}
    walltime: "00:10:00"
anal:
  gdas:
    num_PEs: 4
    walltime: "00:20:00"
`), 0644))

	out, err := execute(t, "resources", "--host-dir", dir, "--machine", "hera",
		"--manifest", manifestPath, "--run", "gfs", "-o", "json")
	require.NoError(t, err)

	var got runResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "gfs", got.Run)
	assert.Equal(t, "hera", got.Host)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, 40, got.Resources["fcst"].NumProcesses)
	assert.Equal(t, 40, got.Resources["fcst"].ProcessesPerNode)
	assert.Equal(t, 1, got.Resources["fcst"].NumNodes)
}
