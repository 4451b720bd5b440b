package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/logging"
	"github.com/gwflow/gwsetup/pkg/metrics"
)

// LocalMachine selects the profile detected on the current machine.
const LocalMachine = "local"

var (
	cfgFile  string
	logger   = logging.Discard()
	recorder = metrics.NewRecorder()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gwsetup",
	Short: "Fit workflow task resources to HPC hosts",
	Long: `gwsetup computes how many nodes, processes per node and how much memory each
workflow task needs on a given HPC host, writes the results into experiment
configs and serves the same calculation over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.NewLogger(
			logging.ParseLevel(viper.GetString("log_level")),
			viper.GetString("log_format") == "json",
		)
		logger.SetOutput(cmd.ErrOrStderr())
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("metrics_file")
		if path == "" {
			return nil
		}
		if err := recorder.WriteTextfile(afero.NewOsFs(), path); err != nil {
			return err
		}
		logger.Debug("Wrote metrics", map[string]interface{}{"path": path})
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gwsetup/config.yaml)")
	flags.String("host-dir", "", "directory of <machine>.yaml host profiles (default $HOME/.gwsetup/hosts)")
	flags.String("machine", "", "host profile to fit against, or \"local\" to detect this machine")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")

	viper.BindPFlag("host_dir", flags.Lookup("host-dir"))
	viper.BindPFlag("machine", flags.Lookup("machine"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("metrics_file", flags.Lookup("metrics-file"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".gwsetup"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.SetDefault("host_dir", filepath.Join(home, ".gwsetup", "hosts"))
	}

	viper.SetEnvPrefix("gwsetup")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("account", "GWSETUP_ACCOUNT", "HPC_ACCOUNT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
}

// hostProvider returns the provider over the configured host directory
func hostProvider() *host.FileProvider {
	return host.NewFileProvider(viper.GetString("host_dir"))
}

// lookupHost resolves --machine (or the configured machine) to a profile
func lookupHost(machine string) (host.Profile, error) {
	if machine == "" {
		machine = viper.GetString("machine")
	}
	if machine == "" {
		return host.Profile{}, fmt.Errorf("no machine given: use --machine or set machine in the config file")
	}
	if strings.EqualFold(machine, LocalMachine) {
		return host.Detect()
	}
	return hostProvider().Lookup(machine)
}
