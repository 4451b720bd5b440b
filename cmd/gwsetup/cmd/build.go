package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gwflow/gwsetup/internal/setup"
	"github.com/gwflow/gwsetup/pkg/resources"
)

var buildFlags struct {
	yaml     string
	expDir   string
	manifest string
	maxPPN   int
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Prepare compute-node builds",
}

var buildSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up the experiment directory of a build",
	Long: `Copies the build configs into the experiment directory, fills config.base
from the YAML file and the host profile, then resolves the resources of every
enabled build and inserts them into config.<task>.`,
	Example: `  gwsetup build setup --machine hera --home $HOMEgfs --yaml build_opts.yaml
  HPC_ACCOUNT=fv3-cpu gwsetup build setup --home . --yaml build_opts.yaml --expdir /tmp/build`,
	RunE: runBuildSetup,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.AddCommand(buildSetupCmd)

	f := buildSetupCmd.Flags()
	f.StringVar(&buildFlags.yaml, "yaml", "", "YAML file of values substituted into config.base (required)")
	f.String("home", "", "workflow checkout (default $GWSETUP_HOME)")
	f.String("account", "", "HPC account to charge (default $HPC_ACCOUNT)")
	f.StringVar(&buildFlags.expDir, "expdir", "", "experiment directory (default <home>/sorc/build)")
	f.StringVar(&buildFlags.manifest, "manifest", "", "resource manifest (default <home>/parm/config/build/resources.yaml)")
	f.IntVar(&buildFlags.maxPPN, "max-ppn", 0, "cap processes per node")
	buildSetupCmd.MarkFlagRequired("yaml")

	viper.BindPFlag("home", f.Lookup("home"))
	viper.BindPFlag("account", f.Lookup("account"))
}

func runBuildSetup(cmd *cobra.Command, args []string) error {
	h, err := lookupHost("")
	if err != nil {
		return err
	}

	home := viper.GetString("home")
	if home == "" {
		return fmt.Errorf("no workflow home given: use --home or set GWSETUP_HOME")
	}
	if home, err = filepath.Abs(home); err != nil {
		return err
	}

	opts := setup.Options{
		Home:     home,
		ExpDir:   buildFlags.expDir,
		YAML:     buildFlags.yaml,
		Manifest: buildFlags.manifest,
		Account:  viper.GetString("account"),
		Host:     h,
		Logger:   logger,
		Recorder: recorder,
	}
	if buildFlags.maxPPN > 0 {
		opts.FitOptions = append(opts.FitOptions, resources.WithMaxProcessesPerNode(buildFlags.maxPPN))
	}

	result, err := setup.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Experiment directory: %s\n", result.ExpDir)
	for _, name := range result.Configs {
		fmt.Fprintf(out, "  %s\n", name)
	}
	for run, res := range result.Resolutions {
		fmt.Fprintf(out, "Resolved %d tasks for run %s on %s\n", len(res.Resources), run, h.Name)
	}
	return nil
}
