package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/resources"
)

var fitFlags struct {
	task       string
	run        string
	numPEs     int
	threads    int
	threadable bool
	adjThreads bool
	adjPEs     bool
	mem        string
	walltime   string
	cores      int
	nodeMem    string
	maxPPN     int
	output     string
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a single task to a host",
	Long: `Validates one task definition given on the command line and prints the node
layout it needs on the selected host. The host is either a profile
(--machine) or given inline with --cores and --node-mem.`,
	Example: `  gwsetup fit --machine hera --num-pes 80 --threads 2 --threadable --walltime 02:00:00
  gwsetup fit --cores 128 --node-mem 500GB --num-pes 4 --mem 300GB --walltime 00:30:00 -o slurm`,
	RunE: runFit,
}

func init() {
	rootCmd.AddCommand(fitCmd)

	f := fitCmd.Flags()
	f.StringVar(&fitFlags.task, "task", "task", "task name used in output and diagnostics")
	f.StringVar(&fitFlags.run, "run", "gfs", "run name for bash output")
	f.IntVar(&fitFlags.numPEs, "num-pes", 0, "number of processes (required)")
	f.IntVar(&fitFlags.threads, "threads", 1, "threads per process")
	f.BoolVar(&fitFlags.threadable, "threadable", false, "the task supports more than one thread")
	f.BoolVar(&fitFlags.adjThreads, "adjustable-threads", false, "allow the thread count to be raised to fit memory")
	f.BoolVar(&fitFlags.adjPEs, "adjustable-pes", true, "the process count is a minimum")
	f.StringVar(&fitFlags.mem, "mem", "default", "memory per process: default, max or <n>MB|GB")
	f.StringVar(&fitFlags.walltime, "walltime", "", "walltime (required)")
	f.IntVar(&fitFlags.cores, "cores", 0, "cores per node of an inline host")
	f.StringVar(&fitFlags.nodeMem, "node-mem", "", "memory per node of an inline host")
	f.IntVar(&fitFlags.maxPPN, "max-ppn", 0, "cap processes per node")
	f.StringVarP(&fitFlags.output, "output", "o", FormatTable, "output format: table, json, yaml, bash, slurm, pbspro")
}

func runFit(cmd *cobra.Command, args []string) error {
	if err := checkFormat(fitFlags.output); err != nil {
		return err
	}

	h, err := fitHost(cmd)
	if err != nil {
		return err
	}

	raw := map[string]interface{}{
		resources.KeyAdjustablePEs: fitFlags.adjPEs,
		resources.KeyMemPerPE:      fitFlags.mem,
	}
	if cmd.Flags().Changed("num-pes") {
		raw[resources.KeyNumPEs] = fitFlags.numPEs
	}
	if fitFlags.walltime != "" {
		raw[resources.KeyWalltime] = fitFlags.walltime
	}
	if cmd.Flags().Changed("threads") {
		raw[resources.KeyThreads] = fitFlags.threads
	}
	if cmd.Flags().Changed("threadable") {
		raw[resources.KeyThreadable] = fitFlags.threadable
	}
	if cmd.Flags().Changed("adjustable-threads") {
		raw[resources.KeyAdjustableThreads] = fitFlags.adjThreads
	}

	spec, err := resources.Validate(fitFlags.task, raw)
	if err != nil {
		recorder.ObserveError()
		return err
	}

	var opts []resources.FitOption
	if fitFlags.maxPPN > 0 {
		opts = append(opts, resources.WithMaxProcessesPerNode(fitFlags.maxPPN))
	}
	res, diags, err := resources.Fit(fitFlags.task, spec, h, opts...)
	if err != nil {
		recorder.ObserveError()
		return err
	}
	recorder.ObserveFit(fitFlags.task, spec, res, diags)
	logDiagnostics(diags)

	return writeResolution(cmd.OutOrStdout(), fitFlags.output, fitFlags.run, h, resources.Resolution{
		Resources:   map[string]resources.TaskResources{fitFlags.task: res},
		Diagnostics: diags,
	})
}

func fitHost(cmd *cobra.Command) (host.Profile, error) {
	inline := cmd.Flags().Changed("cores") || cmd.Flags().Changed("node-mem")
	if !inline {
		return lookupHost("")
	}
	if cmd.Flags().Changed("machine") {
		return host.Profile{}, fmt.Errorf("--machine cannot be combined with --cores/--node-mem")
	}
	p, err := host.NewProfile("custom", fitFlags.cores, fitFlags.nodeMem)
	if err != nil {
		return host.Profile{}, err
	}
	return p, p.Validate()
}
