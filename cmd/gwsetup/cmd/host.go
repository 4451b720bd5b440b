package cmd

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/memory"
)

var hostOutput string

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Inspect host profiles",
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known host profiles",
	RunE:  runHostList,
}

var hostShowCmd = &cobra.Command{
	Use:   "show [machine]",
	Short: "Show one host profile",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHostShow,
}

var hostDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect the profile of this machine",
	Long: `Reads the core count and memory of the current machine. The result is a
single-node profile that can be saved as a host file.`,
	RunE: runHostDetect,
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.AddCommand(hostListCmd)
	hostCmd.AddCommand(hostShowCmd)
	hostCmd.AddCommand(hostDetectCmd)

	hostCmd.PersistentFlags().StringVarP(&hostOutput, "output", "o", FormatTable, "output format: table, json, yaml")
}

func runHostList(cmd *cobra.Command, args []string) error {
	provider := hostProvider()
	names, err := provider.List()
	if err != nil {
		return err
	}

	profiles := make([]host.Profile, 0, len(names))
	for _, name := range names {
		p, err := provider.Lookup(name)
		if err != nil {
			logger.Warn("Skipping unreadable host profile", map[string]interface{}{"machine": name, "error": err.Error()})
			continue
		}
		profiles = append(profiles, p)
	}

	switch hostOutput {
	case FormatJSON:
		return writeJSON(cmd.OutOrStdout(), profiles)
	case FormatYAML:
		return writeYAML(cmd.OutOrStdout(), profiles)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Machine", "Cores/Node", "Mem/Node", "Mem/Core", "Scheduler", "Account")
	for _, p := range profiles {
		table.Append(
			p.Name,
			strconv.Itoa(p.CoresPerNode),
			memory.Format(p.MemPerNodeMB),
			memory.Format(p.MemPerCoreMB()),
			p.Scheduler,
			p.Account,
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal hosts: %d\n", len(profiles))
	return nil
}

func runHostShow(cmd *cobra.Command, args []string) error {
	machine := ""
	if len(args) == 1 {
		machine = args[0]
	}
	p, err := lookupHost(machine)
	if err != nil {
		return err
	}
	return writeProfile(cmd, p)
}

func runHostDetect(cmd *cobra.Command, args []string) error {
	p, err := host.Detect()
	if err != nil {
		return fmt.Errorf("failed to detect host: %w", err)
	}
	return writeProfile(cmd, p)
}

func writeProfile(cmd *cobra.Command, p host.Profile) error {
	switch hostOutput {
	case FormatJSON:
		return writeJSON(cmd.OutOrStdout(), p)
	case FormatYAML:
		return writeYAML(cmd.OutOrStdout(), hostFileOf(p))
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Property", "Value")
	table.Append([]string{"Machine", p.Name})
	table.Append([]string{"Cores per node", strconv.Itoa(p.CoresPerNode)})
	table.Append([]string{"Memory per node", memory.Format(p.MemPerNodeMB)})
	table.Append([]string{"Memory per core", memory.Format(p.MemPerCoreMB())})
	if p.Scheduler != "" {
		table.Append([]string{"Scheduler", p.Scheduler})
	}
	if p.Account != "" {
		table.Append([]string{"Account", p.Account})
	}
	if p.Partition != "" {
		table.Append([]string{"Partition", p.Partition})
	}
	if p.Queue != "" {
		table.Append([]string{"Queue", p.Queue})
	}
	return table.Render()
}

// hostFileOf returns p in the layout FileProvider reads, so that
// "host detect -o yaml" output can be saved as a host file
func hostFileOf(p host.Profile) map[string]interface{} {
	out := map[string]interface{}{
		"cores_per_node": p.CoresPerNode,
		"mem_per_node":   memory.Format(p.MemPerNodeMB),
	}
	if p.Scheduler != "" {
		out["scheduler"] = p.Scheduler
	}
	if p.Account != "" {
		out["account"] = p.Account
	}
	if p.Partition != "" {
		out["partition"] = p.Partition
	}
	if p.Queue != "" {
		out["queue"] = p.Queue
	}
	return out
}
