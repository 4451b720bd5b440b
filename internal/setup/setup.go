// Package setup prepares the experiment directory of a compute-node build.
package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/gwflow/gwsetup/internal/expdir"
	"github.com/gwflow/gwsetup/pkg/app"
	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/logging"
	"github.com/gwflow/gwsetup/pkg/manifest"
	"github.com/gwflow/gwsetup/pkg/metrics"
	"github.com/gwflow/gwsetup/pkg/render"
	"github.com/gwflow/gwsetup/pkg/resources"
)

// ManifestName is the resource manifest looked up next to the build configs.
const ManifestName = "resources.yaml"

// Options configure a build setup.
type Options struct {
	Fs afero.Fs
	// Home is the workflow checkout; configs are read from
	// <Home>/parm/config/build.
	Home string
	// ExpDir defaults to <Home>/sorc/build.
	ExpDir string
	// YAML holds user values substituted into config.base.
	YAML string
	// Manifest defaults to <config dir>/resources.yaml.
	Manifest string
	// Account overrides the host's default account when set.
	Account string
	Host    host.Profile

	FitOptions []resources.FitOption
	Logger     *logging.Logger
	Recorder   *metrics.Recorder
}

// Result summarizes a completed setup.
type Result struct {
	ExpDir      string
	Configs     []string
	Resolutions map[string]resources.Resolution
}

// Diagnostics returns the diagnostics of every run, ordered by run.
func (r *Result) Diagnostics() []resources.Diagnostic {
	runs := make([]string, 0, len(r.Resolutions))
	for run := range r.Resolutions {
		runs = append(runs, run)
	}
	sort.Strings(runs)

	var out []resources.Diagnostic
	for _, run := range runs {
		out = append(out, r.Resolutions[run].Diagnostics...)
	}
	return out
}

func (o *Options) defaults() error {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Home == "" {
		return errors.New("workflow home directory is required")
	}
	if o.ExpDir == "" {
		o.ExpDir = filepath.Join(o.Home, "sorc", "build")
	}
	if o.Manifest == "" {
		o.Manifest = filepath.Join(o.configDir(), ManifestName)
	}
	if o.Account != "" {
		o.Host.Account = o.Account
	}
	return o.Host.Validate()
}

func (o *Options) configDir() string {
	return filepath.Join(o.Home, "parm", "config", "build")
}

// Run copies the build configs into the experiment directory, fills
// config.base and writes the resources of every build task into its config.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	log := opts.Logger.WithField("expdir", opts.ExpDir)

	userValues, err := readYAML(opts.Fs, opts.YAML)
	if err != nil {
		return nil, err
	}

	configs, err := expdir.FillExpDir(opts.Fs, opts.configDir(), opts.ExpDir)
	if err != nil {
		return nil, err
	}
	log.Info("Copied build configs", map[string]interface{}{"count": len(configs)})

	dict := map[string]string{
		"@HOMEgfs@": opts.Home,
		"@EXPDIR@":  opts.ExpDir,
		"@MACHINE@": strings.ToUpper(opts.Host.Name),
	}
	for k, v := range expdir.TemplateDict(userValues) {
		dict[k] = v
	}

	hostValues := make(map[string]interface{})
	for k, v := range opts.Host.TemplateValues() {
		hostValues[k] = v
	}

	basePath := filepath.Join(opts.ExpDir, "config.base")
	if err := expdir.EditConfig(opts.Fs, filepath.Join(opts.configDir(), "config.base"), basePath, hostValues, dict); err != nil {
		return nil, err
	}
	log.Info("Edited config.base")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, err := app.LoadBase(opts.Fs, basePath)
	if err != nil {
		return nil, err
	}
	build, err := app.NewBuildApp(base)
	if err != nil {
		return nil, err
	}
	base = build.UpdateBase(base)

	tmplCtx := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		tmplCtx[k] = v
	}
	tmplCtx[manifest.HostInfoKey] = opts.Host.Info()

	m, err := manifest.Load(opts.Fs, opts.Manifest, tmplCtx, manifest.Options{})
	if err != nil {
		return nil, err
	}
	if err := m.Check(); err != nil {
		return nil, err
	}

	resolutions, err := app.Resolve(build, resources.NewCatalog(m), opts.Host, opts.FitOptions...)
	if opts.Recorder != nil {
		for _, res := range resolutions {
			opts.Recorder.ObserveResolution(res, nil)
		}
		if err != nil {
			opts.Recorder.ObserveError()
		}
	}
	if err != nil {
		return nil, err
	}

	result := &Result{ExpDir: opts.ExpDir, Configs: configs, Resolutions: resolutions}
	for _, d := range result.Diagnostics() {
		log.Warn(d.Message, d.Fields())
	}

	for run, res := range resolutions {
		for _, task := range res.Tasks() {
			path, err := taskConfig(opts.Fs, opts.ExpDir, task, build.ConfigNames())
			if err != nil {
				return nil, err
			}
			exports := render.Exports(res.Resources[task], res.Variables[task])
			if err := expdir.InsertRunBlock(opts.Fs, path, run, exports); err != nil {
				return nil, err
			}
			log.Debug("Wrote task resources", map[string]interface{}{"task": task, "run": run, "config": path})
		}
	}

	log.Info("Build setup complete", map[string]interface{}{"tasks": len(build.TaskNames()[app.BuildRun])})
	return result, nil
}

func readYAML(fs afero.Fs, path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("YAML file does not exist, check path: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return values, nil
}

// taskConfig returns config.<task>, seeding it from the application config
// whose name prefixes the task (config.compile for compile_gfs) when the
// task has no config of its own.
func taskConfig(fs afero.Fs, dir, task string, configNames []string) (string, error) {
	path := filepath.Join(dir, "config."+task)
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return "", err
	}
	if exists {
		return path, nil
	}

	for _, name := range configNames {
		if !strings.HasPrefix(task, name) {
			continue
		}
		data, err := afero.ReadFile(fs, filepath.Join(dir, "config."+name))
		if err != nil {
			return "", fmt.Errorf("failed to read config.%s for %s: %w", name, task, err)
		}
		if err := afero.WriteFile(fs, path, data, 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no config file for task %s in %s", task, dir)
}
