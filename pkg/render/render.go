// Package render turns computed task resources into shell exports and
// batch scheduler directives.
package render

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/resources"
)

var (
	// ErrUnknownScheduler is returned for schedulers without a directive template.
	ErrUnknownScheduler = errors.New("unknown scheduler")
	// ErrInvalidName is returned for run names and export keys that are
	// not plain shell words.
	ErrInvalidName = errors.New("invalid shell name")
	// ErrInvalidValue is returned for directive values spanning lines.
	ErrInvalidValue = errors.New("invalid directive value")
)

var (
	exportKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	runName   = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// Export is one shell variable assignment.
type Export struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Exports lists the resource variables of res followed by the task
// variables in key order.
func Exports(res resources.TaskResources, vars map[string]string) []Export {
	out := []Export{
		{Key: "ntasks", Value: strconv.Itoa(res.NumProcesses)},
		{Key: "threads_per_task", Value: strconv.Itoa(res.Threads)},
		{Key: "tasks_per_node", Value: strconv.Itoa(res.ProcessesPerNode)},
		{Key: "nodes", Value: strconv.Itoa(res.NumNodes)},
		{Key: "memory", Value: res.MemPerNode()},
		{Key: "is_exclusive", Value: strconv.FormatBool(res.Exclusive)},
	}
	if res.Walltime != "" {
		out = append(out, Export{Key: "walltime", Value: res.Walltime})
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, Export{Key: k, Value: vars[k]})
	}
	return out
}

// Quote returns v as a single shell word.
func Quote(v string) string {
	if v != "" && strings.IndexFunc(v, needsQuote) < 0 {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_.:/@%+=,", r):
		return false
	}
	return true
}

// RunGuard returns the opening line of the block Shell writes for run.
func RunGuard(run string) string {
	return fmt.Sprintf("if [[ ${RUN} == \"%s\" ]]; then", run)
}

// Shell writes exports as a block guarded by the run name, the form
// inserted into config.<task> files.
func Shell(w io.Writer, run string, exports []Export) error {
	if !runName.MatchString(run) {
		return fmt.Errorf("%w: run %q", ErrInvalidName, run)
	}
	var b strings.Builder
	b.WriteString(RunGuard(run))
	b.WriteString("\n")
	for _, e := range exports {
		if !exportKey.MatchString(e.Key) {
			return fmt.Errorf("%w: export key %q", ErrInvalidName, e.Key)
		}
		fmt.Fprintf(&b, "  export %s=%s\n", e.Key, Quote(e.Value))
	}
	b.WriteString("fi\n")
	_, err := io.WriteString(w, b.String())
	return err
}

type directiveData struct {
	Task      string
	Res       resources.TaskResources
	MemMB     int
	Account   string
	Partition string
	Queue     string
}

var directiveTemplates = map[string]*template.Template{
	host.SchedulerSlurm: template.Must(template.New("slurm").Parse(`#SBATCH --job-name={{ .Task }}
#SBATCH --nodes={{ .Res.NumNodes }}
#SBATCH --ntasks-per-node={{ .Res.ProcessesPerNode }}
#SBATCH --cpus-per-task={{ .Res.Threads }}
#SBATCH --mem={{ .MemMB }}M
{{- with .Res.Walltime }}
#SBATCH --time={{ . }}
{{- end }}
{{- if .Res.Exclusive }}
#SBATCH --exclusive
{{- end }}
{{- with .Account }}
#SBATCH --account={{ . }}
{{- end }}
{{- with .Partition }}
#SBATCH --partition={{ . }}
{{- end }}
`)),
	host.SchedulerPBS: template.Must(template.New("pbspro").Parse(`#PBS -N {{ .Task }}
#PBS -l select={{ .Res.NumNodes }}:mpiprocs={{ .Res.ProcessesPerNode }}:ompthreads={{ .Res.Threads }}:ncpus={{ .Res.CoresPerNode }}:mem={{ .MemMB }}MB
{{- with .Res.Walltime }}
#PBS -l walltime={{ . }}
{{- end }}
{{- if .Res.Exclusive }}
#PBS -l place=excl
{{- end }}
{{- with .Account }}
#PBS -A {{ . }}
{{- end }}
{{- with .Queue }}
#PBS -q {{ . }}
{{- end }}
`)),
}

// Schedulers lists the schedulers Directives supports.
func Schedulers() []string {
	names := make([]string, 0, len(directiveTemplates))
	for name := range directiveTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Directives writes the batch header for task in the dialect of scheduler.
// Account, partition and queue come from the host profile.
func Directives(w io.Writer, scheduler, task string, res resources.TaskResources, h host.Profile) error {
	tmpl, ok := directiveTemplates[strings.ToLower(scheduler)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScheduler, scheduler)
	}
	fields := []struct{ name, value string }{
		{"task", task},
		{"walltime", res.Walltime},
		{"account", h.Account},
		{"partition", h.Partition},
		{"queue", h.Queue},
	}
	for _, f := range fields {
		if strings.IndexFunc(f.value, unicode.IsControl) >= 0 {
			return fmt.Errorf("%w: %s %q", ErrInvalidValue, f.name, f.value)
		}
	}
	return tmpl.Execute(w, directiveData{
		Task:      task,
		Res:       res,
		MemMB:     res.MemPerNodeMB,
		Account:   h.Account,
		Partition: h.Partition,
		Queue:     h.Queue,
	})
}
