// Package manifest loads the templated resource definitions of a workflow.
//
// A manifest is a YAML document rendered first as a Go text/template. Its
// top-level keys are task names; each task holds an optional "parameters"
// mapping shared by every run and one mapping per run that overrides it:
//
//	fcst:
//	  parameters:
//	    threadable: true
//	    walltime: "02:00:00"
//	  gfs:
//	    num_PEs: {{ .host_info.cores_per_node }}
//
// The reserved key "check_configuration" lets the template reject an
// unsupported configuration before any task is resolved.
package manifest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/gwflow/gwsetup/pkg/resources"
)

const (
	// CheckKey is the reserved top-level key holding configuration checks.
	CheckKey = "check_configuration"
	// ParametersKey holds the definitions shared by every run of a task.
	ParametersKey = "parameters"
	// HostInfoKey is the template context entry for the host profile.
	HostInfoKey = "host_info"
)

// Options control template rendering.
type Options struct {
	// AllowMissing renders undefined template keys as zero values instead
	// of failing.
	AllowMissing bool
}

// Manifest is a parsed resource manifest.
type Manifest struct {
	path  string
	tasks map[string]map[string]interface{}
	check map[string]interface{}
}

// Load renders the template at path with ctx and decodes the result.
func Load(fs afero.Fs, path string, ctx map[string]interface{}, opts Options) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(path, data, ctx, opts)
}

// Parse renders data as a template named name and decodes the result.
func Parse(name string, data []byte, ctx map[string]interface{}, opts Options) (*Manifest, error) {
	missing := "missingkey=error"
	if opts.AllowMissing {
		missing = "missingkey=zero"
	}

	tmpl, err := template.New(name).Option(missing).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("failed to render manifest %s: %w", name, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", name, err)
	}

	m := &Manifest{
		path:  name,
		tasks: make(map[string]map[string]interface{}, len(doc)),
	}
	for key, value := range doc {
		section, err := cast.ToStringMapE(value)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %s must be a mapping", name, key)
		}
		if key == CheckKey {
			m.check = section
			continue
		}
		m.tasks[key] = section
	}
	return m, nil
}

// Path is the file the manifest was loaded from.
func (m *Manifest) Path() string { return m.path }

// Tasks returns the defined task names in sorted order.
func (m *Manifest) Tasks() []string {
	names := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TasksFor returns, sorted, the tasks that define resources for run either
// directly or through their parameters.
func (m *Manifest) TasksFor(run string) []string {
	var names []string
	for _, name := range m.Tasks() {
		section := m.tasks[name]
		if section[run] != nil || section[ParametersKey] != nil {
			names = append(names, name)
		}
	}
	return names
}

// Raw returns the definition of task for run: its parameters overlaid by
// the run-specific mapping. It satisfies resources.Source.
func (m *Manifest) Raw(task, run string) (map[string]interface{}, error) {
	section, ok := m.tasks[task]
	if !ok {
		return nil, fmt.Errorf("%w: add a definition for %s to %s", resources.ErrUndefinedResources, task, m.path)
	}

	raw := make(map[string]interface{})
	for _, key := range []string{ParametersKey, run} {
		v, ok := section[key]
		if !ok || v == nil {
			continue
		}
		overlay, err := cast.ToStringMapE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s must be a mapping in %s", resources.ErrInvalidField, task, key, m.path)
		}
		for k, val := range overlay {
			raw[k] = val
		}
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no definitions for run %s in %s", resources.ErrUndefinedResources, run, m.path)
	}
	return raw, nil
}

// Check reports every component the manifest marks as invalid. A manifest
// without a check_configuration section is valid.
func (m *Manifest) Check() error {
	if m.check == nil {
		return nil
	}
	if valid, ok := m.check["valid"]; !ok || cast.ToBool(valid) {
		return nil
	}

	keys := make([]string, 0, len(m.check))
	for k := range m.check {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result *multierror.Error
	for _, key := range keys {
		component, ok := strings.CutPrefix(key, "valid_")
		if !ok || cast.ToBool(m.check[key]) {
			continue
		}
		reason := cast.ToString(m.check["reason_"+component])
		if reason == "" {
			reason = "no reason given"
		}
		result = multierror.Append(result, fmt.Errorf("%s: %s", component, reason))
	}

	if result == nil {
		return fmt.Errorf("invalid configuration in %s", m.path)
	}
	return fmt.Errorf("invalid configuration in %s: %w", m.path, result.ErrorOrNil())
}
