package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/ndb/pkg/ndb/config"
)

// sourcesCmd manages the sources list in a config file on disk. It edits
// config, not a running daemon's live registry (cmd/ndbd has no admin
// RPC surface of its own — pkg/rtnlremote is kernel transport, not
// control plane); changes take effect on the daemon's next restart.
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the configured source list",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources in a config file",
	RunE:  runSourcesList,
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a source to a config file",
	RunE:  runSourcesAdd,
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove <target>",
	Short: "Remove a source from a config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesRemove,
}

func init() {
	for _, c := range []*cobra.Command{sourcesListCmd, sourcesAddCmd, sourcesRemoveCmd} {
		c.Flags().String("config", "ndbd.yaml", "Path to YAML config file")
	}
	sourcesAddCmd.Flags().String("target", "", "Target name (required)")
	sourcesAddCmd.Flags().String("kind", "", "Source kind: local, netns, or remote (inferred from --hostname/--netns if empty)")
	sourcesAddCmd.Flags().String("hostname", "", "Remote hostname shorthand")
	sourcesAddCmd.Flags().String("netns", "", "Network namespace shorthand")
	sourcesAddCmd.Flags().Bool("persistent", false, "Reconnect automatically on failure")
	sourcesAddCmd.Flags().StringSlice("option", nil, "Source option as key=value, repeatable")
	_ = sourcesAddCmd.MarkFlagRequired("target")

	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesRemoveCmd)
}

func loadOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func saveConfig(path string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadOrDefault(path)
	if err != nil {
		return err
	}
	for _, s := range cfg.Sources {
		fmt.Printf("%-20s kind=%-8s persistent=%v\n", s.Target, s.Kind, s.Persistent)
	}
	return nil
}

func runSourcesAdd(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadOrDefault(path)
	if err != nil {
		return err
	}

	target, _ := cmd.Flags().GetString("target")
	for _, s := range cfg.Sources {
		if s.Target == target {
			return fmt.Errorf("source %q already configured", target)
		}
	}

	kind, _ := cmd.Flags().GetString("kind")
	hostname, _ := cmd.Flags().GetString("hostname")
	netns, _ := cmd.Flags().GetString("netns")
	persistent, _ := cmd.Flags().GetBool("persistent")
	rawOptions, _ := cmd.Flags().GetStringSlice("option")

	options := map[string]string{}
	for _, kv := range rawOptions {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --option %q, expected key=value", kv)
		}
		options[k] = v
	}

	cfg.Sources = append(cfg.Sources, config.SourceConfig{
		Target:     target,
		Kind:       kind,
		Hostname:   hostname,
		Netns:      netns,
		Persistent: persistent,
		Options:    options,
	})

	if err := saveConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("added source %q to %s\n", target, path)
	return nil
}

func runSourcesRemove(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadOrDefault(path)
	if err != nil {
		return err
	}

	target := args[0]
	kept := cfg.Sources[:0]
	found := false
	for _, s := range cfg.Sources {
		if s.Target == target {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return fmt.Errorf("source %q not found", target)
	}
	cfg.Sources = kept

	if err := saveConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("removed source %q from %s\n", target, path)
	return nil
}
