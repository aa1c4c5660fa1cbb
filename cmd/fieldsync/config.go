package main

import (
	"fmt"

	"fieldsync/internal/config"
	"fieldsync/internal/utils"

	"github.com/spf13/cobra"
)

func newConfigCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(e))
	cmd.AddCommand(newConfigShowCmd(e))
	return cmd
}

func newConfigInitCmd(e *env) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample config",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.configPath != "" {
				config.SetCustomConfigPath(e.configPath)
			}
			path, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			if err := config.WriteSample(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
			fmt.Fprintln(cmd.OutOrStdout(), "  1. Set rider_id and api.base_url")
			fmt.Fprintln(cmd.OutOrStdout(), "  2. Store your API token: fieldsync credentials set --prompt")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

func newConfigShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return err
			}
			masked := *cfg
			masked.API.Token = maskSecret(cfg.API.Token)
			masked.Alerts.RedisPassword = maskSecret(cfg.Alerts.RedisPassword)

			format := e.output
			if !e.structured() {
				format = utils.FormatYAML
			}
			return utils.WriteStructured(cmd.OutOrStdout(), format, masked)
		},
	}
}

// maskSecret keeps only enough of a secret to recognize it
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "********"
	default:
		return s[:4] + "********"
	}
}
