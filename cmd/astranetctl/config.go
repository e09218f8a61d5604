package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astranet/astranetctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change cluster configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		cfg := a.cfg
		// Never print the admin password.
		cfg.AdminPassword = "********"
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY=VALUE [KEY=VALUE...]",
	Short: "Update configuration fields",
	Long: `Update one or more configuration fields and persist them. Other
sections of the configuration file are left untouched.

Keys: sql_port, http_port, domain, cluster_nodes (comma-separated),
database_name, admin_user, admin_password, ca_server_port, ca_server_email.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}

		partial := map[string]any{}
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected KEY=VALUE, got %q", arg)
			}
			parsed, err := parseConfigValue(key, value)
			if err != nil {
				return err
			}
			partial[key] = parsed
		}

		if err := validateMerged(a.cfg, partial); err != nil {
			return err
		}
		if err := a.store.Update(partial); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %d setting(s) in %s\n", len(partial), a.store.Path())
		return nil
	},
}

func parseConfigValue(key, value string) (any, error) {
	switch key {
	case "sql_port", "http_port", "ca_server_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", key, value)
		}
		return n, nil
	case "cluster_nodes":
		if value == "" {
			return []string{}, nil
		}
		nodes := strings.Split(value, ",")
		for i := range nodes {
			nodes[i] = strings.TrimSpace(nodes[i])
		}
		return nodes, nil
	case "domain", "database_name", "admin_user", "admin_password", "ca_server_email":
		return value, nil
	default:
		return nil, fmt.Errorf("unknown configuration key %q", key)
	}
}

// validateMerged applies partial on top of cfg and validates the result, so
// a bad value is rejected before anything is written.
func validateMerged(cfg config.ClusterConfig, partial map[string]any) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for k, v := range partial {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var out config.ClusterConfig
	if err := json.Unmarshal(merged, &out); err != nil {
		return err
	}
	return config.Validate(out)
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
