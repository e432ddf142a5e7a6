package main

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"netwatch-agent/internal/agent"
	"netwatch-agent/internal/config"
)

var (
	configFile      string
	snapshotTimeout time.Duration

	rootCmd = &cobra.Command{
		Use:           "netwatch-agent",
		Short:         "Network interface monitor and anomaly worker supervisor",
		Long:          `Polls host interfaces, runs one classification worker per addressed interface and serves the merged network state over HTTP and websocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAgent,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring daemon (default)",
		RunE:  runAgent,
	}
	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Print one interface snapshot as JSON and exit",
		RunE:  runSnapshot,
	}
	interfacesCmd = &cobra.Command{
		Use:   "interfaces",
		Short: "Run the helper script and print the address to name index",
		RunE:  runInterfaces,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides "+config.ConfigFileEnv+")")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 10*time.Second, "upper bound for the OS queries")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(interfacesCmd)
}

func loadConfig() (config.Config, error) {
	if configFile != "" {
		if err := os.Setenv(config.ConfigFileEnv, configFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		return err
	}

	if err := a.Run(cmd.Context()); err != nil {
		logger.Error("agent runtime failed", "error", err)
		return err
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
	defer cancel()

	records := agent.CollectOnce(ctx, agent.BuildLogger(cfg))
	return writeJSON(cmd, records)
}

func runInterfaces(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx := agent.ResolveNames(cmd.Context(), cfg, agent.BuildLogger(cfg))

	type entry struct {
		Address string `json:"ipv4"`
		Name    string `json:"name"`
	}
	entries := idx.Entries()
	out := make([]entry, 0, len(entries))
	for addr, name := range entries {
		out = append(out, entry{Address: addr, Name: name})
	}
	slices.SortFunc(out, func(a, b entry) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.Address, b.Address))
	})
	return writeJSON(cmd, out)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
