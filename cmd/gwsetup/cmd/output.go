package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/memory"
	"github.com/gwflow/gwsetup/pkg/render"
	"github.com/gwflow/gwsetup/pkg/resources"
)

// Output formats accepted by --output
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatBash  = "bash"
)

func validFormats() []string {
	return append([]string{FormatTable, FormatJSON, FormatYAML, FormatBash}, render.Schedulers()...)
}

func checkFormat(format string) error {
	for _, f := range validFormats() {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("unknown output format %q, expected one of %s", format, strings.Join(validFormats(), ", "))
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

// runResult is the structured form of a resolution for one run
type runResult struct {
	Run         string                             `json:"run" yaml:"run"`
	Host        string                             `json:"host" yaml:"host"`
	Resources   map[string]resources.TaskResources `json:"resources" yaml:"resources"`
	Variables   map[string]map[string]string       `json:"variables,omitempty" yaml:"variables,omitempty"`
	Diagnostics []resources.Diagnostic             `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// writeResolution renders one run's resolution in format
func writeResolution(w io.Writer, format, run string, h host.Profile, res resources.Resolution) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, runResult{Run: run, Host: h.Name, Resources: res.Resources, Variables: res.Variables, Diagnostics: res.Diagnostics})

	case FormatYAML:
		return writeYAML(w, runResult{Run: run, Host: h.Name, Resources: res.Resources, Variables: res.Variables, Diagnostics: res.Diagnostics})

	case FormatBash:
		for _, task := range res.Tasks() {
			fmt.Fprintf(w, "# %s\n", task)
			if err := render.Shell(w, run, render.Exports(res.Resources[task], res.Variables[task])); err != nil {
				return err
			}
		}
		return nil

	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Task", "PEs", "Threads", "PEs/Node", "Nodes", "Mem/Node", "Exclusive", "Walltime")
		for _, task := range res.Tasks() {
			r := res.Resources[task]
			table.Append(
				task,
				strconv.Itoa(r.NumProcesses),
				strconv.Itoa(r.Threads),
				strconv.Itoa(r.ProcessesPerNode),
				strconv.Itoa(r.NumNodes),
				r.MemPerNode(),
				boolToYesNo(r.Exclusive),
				r.Walltime,
			)
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nHost: %s (%d cores, %s per node)\n", h.Name, h.CoresPerNode, memory.Format(h.MemPerNodeMB))
		return nil

	default:
		for i, task := range res.Tasks() {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := render.Directives(w, format, task, res.Resources[task], h); err != nil {
				return err
			}
		}
		return nil
	}
}

// logDiagnostics reports substitutions made by the engine
func logDiagnostics(diags []resources.Diagnostic) {
	for _, d := range diags {
		logger.Warn(d.Message, d.Fields())
	}
}

func boolToYesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
