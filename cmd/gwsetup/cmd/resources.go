package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gwflow/gwsetup/pkg/app"
	"github.com/gwflow/gwsetup/pkg/manifest"
	"github.com/gwflow/gwsetup/pkg/resources"
)

var resourcesFlags struct {
	manifest     string
	base         string
	run          string
	tasks        []string
	output       string
	allowMissing bool
	maxPPN       int
}

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Resolve the resources of manifest tasks",
	Long: `Renders a resource manifest for the selected host, validates the requested
tasks and prints their node layout. Every misconfigured task is reported at
once and nothing is printed unless all tasks resolve.`,
	Example: `  gwsetup resources --machine hera --manifest resources.yaml --run gfs
  gwsetup resources --manifest resources.yaml --base config.base --run gdas --task anal --task fcst -o bash`,
	RunE: runResources,
}

func init() {
	rootCmd.AddCommand(resourcesCmd)

	f := resourcesCmd.Flags()
	f.StringVar(&resourcesFlags.manifest, "manifest", "", "resource manifest template (required)")
	f.StringVar(&resourcesFlags.base, "base", "", "config.base whose values are available to the template")
	f.StringVar(&resourcesFlags.run, "run", "", "run to resolve (required)")
	f.StringSliceVar(&resourcesFlags.tasks, "task", nil, "task to resolve, repeatable (default every task defining the run)")
	f.StringVarP(&resourcesFlags.output, "output", "o", FormatTable, "output format: table, json, yaml, bash, slurm, pbspro")
	f.BoolVar(&resourcesFlags.allowMissing, "allow-missing", false, "render undefined template values as empty")
	f.IntVar(&resourcesFlags.maxPPN, "max-ppn", 0, "cap processes per node")
	resourcesCmd.MarkFlagRequired("manifest")
	resourcesCmd.MarkFlagRequired("run")
}

func runResources(cmd *cobra.Command, args []string) error {
	if err := checkFormat(resourcesFlags.output); err != nil {
		return err
	}

	h, err := lookupHost("")
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	ctx := map[string]interface{}{}
	if resourcesFlags.base != "" {
		base, err := app.LoadBase(fs, resourcesFlags.base)
		if err != nil {
			return err
		}
		if err := app.ValidateMode(base); err != nil {
			return err
		}
		for k, v := range base {
			ctx[k] = v
		}
	}
	ctx[manifest.HostInfoKey] = h.Info()

	m, err := manifest.Load(fs, resourcesFlags.manifest, ctx, manifest.Options{AllowMissing: resourcesFlags.allowMissing})
	if err != nil {
		return err
	}
	if err := m.Check(); err != nil {
		return err
	}

	tasks := resourcesFlags.tasks
	if len(tasks) == 0 {
		tasks = m.TasksFor(resourcesFlags.run)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("%s defines no tasks for run %s", resourcesFlags.manifest, resourcesFlags.run)
	}

	var opts []resources.FitOption
	if resourcesFlags.maxPPN > 0 {
		opts = append(opts, resources.WithMaxProcessesPerNode(resourcesFlags.maxPPN))
	}

	res, err := resources.NewCatalog(m).Resolve(tasks, resourcesFlags.run, h, opts...)
	recorder.ObserveResolution(res, err)
	if err != nil {
		return err
	}
	logDiagnostics(res.Diagnostics)

	logger.Debug("Resolved tasks", map[string]interface{}{"run": resourcesFlags.run, "host": h.Name, "count": len(res.Resources)})
	return writeResolution(cmd.OutOrStdout(), resourcesFlags.output, resourcesFlags.run, h, res)
}
