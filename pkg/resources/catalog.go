package resources

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/gwflow/gwsetup/pkg/host"
)

// Source supplies the raw resource definition of a task for a run.
// Implementations return ErrUndefinedResources when the task is unknown.
type Source interface {
	Raw(task, run string) (map[string]interface{}, error)
}

// Resolution is the outcome of resolving a set of tasks against one host.
type Resolution struct {
	Resources   map[string]TaskResources     `json:"resources" yaml:"resources"`
	Variables   map[string]map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Diagnostics []Diagnostic                 `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Tasks returns the resolved task names in sorted order.
func (r Resolution) Tasks() []string {
	names := make([]string, 0, len(r.Resources))
	for name := range r.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog resolves enumerated tasks from a Source.
type Catalog struct {
	source Source
}

// NewCatalog returns a catalog reading definitions from source.
func NewCatalog(source Source) *Catalog {
	return &Catalog{source: source}
}

// ComputeAll fits every spec on h. Diagnostics are ordered by task name.
func ComputeAll(specs map[string]TaskSpec, h host.Profile, opts ...FitOption) (map[string]TaskResources, []Diagnostic, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	var result *multierror.Error
	out := make(map[string]TaskResources, len(specs))
	var diags []Diagnostic

	for _, name := range names {
		res, d, err := Fit(name, specs[name], h, opts...)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		out[name] = res
		diags = append(diags, d...)
	}

	if err := flatten(result); err != nil {
		return nil, nil, err
	}
	return out, diags, nil
}

// Resolve validates and fits the named tasks for run. Every task must be
// defined by the source. All problems are reported together and no partial
// result is returned.
func (c *Catalog) Resolve(names []string, run string, h host.Profile, opts ...FitOption) (Resolution, error) {
	var result *multierror.Error
	specs := make(map[string]TaskSpec, len(names))
	vars := make(map[string]map[string]string, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		raw, err := c.source.Raw(name, run)
		if err != nil {
			if !errors.Is(err, ErrUndefinedResources) {
				err = fmt.Errorf("reading resources for run %s: %w", run, err)
			}
			result = multierror.Append(result, taskError(name, err))
			continue
		}
		if len(raw) == 0 {
			result = multierror.Append(result, taskError(name, ErrUndefinedResources))
			continue
		}

		spec, err := Validate(name, raw)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		specs[name] = spec
		if _, v := Variables(raw); len(v) > 0 {
			vars[name] = v
		}
	}

	if err := flatten(result); err != nil {
		return Resolution{}, err
	}

	resources, diags, err := ComputeAll(specs, h, opts...)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Resources: resources, Variables: vars, Diagnostics: diags}, nil
}

// ResolveAll resolves the tasks of every run. Results are keyed by run then
// task name.
func (c *Catalog) ResolveAll(tasks map[string][]string, h host.Profile, opts ...FitOption) (map[string]Resolution, error) {
	runs := make([]string, 0, len(tasks))
	for run := range tasks {
		runs = append(runs, run)
	}
	sort.Strings(runs)

	var result *multierror.Error
	out := make(map[string]Resolution, len(tasks))
	for _, run := range runs {
		res, err := c.Resolve(tasks[run], run, h, opts...)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("run %s: %w", run, err))
			continue
		}
		out[run] = res
	}

	if err := flatten(result); err != nil {
		return nil, err
	}
	return out, nil
}
