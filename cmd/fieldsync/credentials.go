package main

import (
	"fmt"
	"os"
	"strings"

	"fieldsync/internal/config"
	"fieldsync/internal/credentials"
	"fieldsync/internal/utils"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newCredentialsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the task server API token",
		Long: `Securely manage the API token using the system keyring.

The token is looked up in this order:
  1. System keyring (most secure) - recommended
  2. FIELDSYNC_API_TOKEN environment variable (good for CI/CD)
  3. api.token in the config file (least secure)

Examples:
  fieldsync credentials set --prompt
  fieldsync credentials get
  fieldsync credentials delete`,
	}

	cmd.AddCommand(newCredentialsSetCmd(e))
	cmd.AddCommand(newCredentialsGetCmd(e))
	cmd.AddCommand(newCredentialsDeleteCmd(e))
	return cmd
}

// keyringTarget returns the keyring host and rider for the loaded config
func keyringTarget(cfg *config.Config) (string, string, error) {
	if cfg.API.BaseURL == "" {
		return "", "", utils.ErrServerNotConfigured()
	}
	if cfg.RiderID == "" {
		return "", "", utils.ErrRiderNotConfigured()
	}
	host, err := credentials.ServerHost(cfg.API.BaseURL)
	if err != nil {
		return "", "", err
	}
	return host, cfg.RiderID, nil
}

func newCredentialsSetCmd(e *env) *cobra.Command {
	var prompt bool

	cmd := &cobra.Command{
		Use:   "set [token]",
		Short: "Store the API token in the system keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return err
			}
			host, rider, err := keyringTarget(cfg)
			if err != nil {
				return err
			}

			var token string
			switch {
			case prompt:
				fmt.Fprintf(cmd.OutOrStdout(), "Enter API token for %s@%s: ", rider, host)
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(string(raw))
			case len(args) == 1:
				token = args[0]
			default:
				return fmt.Errorf("token is required (use --prompt for interactive input)")
			}

			if err := credentials.Set(host, rider, token); err != nil {
				if !credentials.IsAvailable() {
					return utils.WrapWithSuggestion(err, "System keyring is not available. Export "+credentials.TokenEnvVar+" instead")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token stored for %s@%s\n", rider, host)
			if cfg.API.Token != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "  You can now remove api.token from the config file")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&prompt, "prompt", false, "Prompt for the token interactively (recommended)")
	return cmd
}

func newCredentialsGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show where the API token comes from",
		Long:  "Show which source provides the API token. The token itself is never printed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return err
			}
			if _, _, err := keyringTarget(cfg); err != nil {
				return err
			}

			token, err := credentials.NewResolver().Resolve(cfg.API.BaseURL, cfg.RiderID, cfg.API.Token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if token.Source == credentials.SourceNone {
				fmt.Fprintf(out, "✗ No API token found for rider %q\n", cfg.RiderID)
				return utils.ErrTokenNotFound(cfg.RiderID)
			}

			fmt.Fprintf(out, "✓ API token found\n  Rider:  %s\n  Host:   %s\n  Source: %s\n", cfg.RiderID, token.Host, token.Source)
			switch token.Source {
			case credentials.SourceKeyring:
				fmt.Fprintln(out, "\n✓ Using secure keyring storage (recommended)")
			case credentials.SourceEnv, credentials.SourceConfig:
				fmt.Fprintln(out, "\n⚠ Consider moving the token to the keyring:")
				fmt.Fprintln(out, "    fieldsync credentials set --prompt")
			}
			return nil
		},
	}
}

func newCredentialsDeleteCmd(e *env) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the API token from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return err
			}
			host, rider, err := keyringTarget(cfg)
			if err != nil {
				return err
			}

			if !force {
				q := fmt.Sprintf("Delete token for %s@%s from keyring?", rider, host)
				if !utils.PromptYesNo(cmd.InOrStdin(), cmd.OutOrStdout(), q) {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}

			if err := credentials.Delete(host, rider); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token removed for %s@%s\n", rider, host)
			fmt.Fprintln(cmd.OutOrStdout(), "\n⚠ Note: FIELDSYNC_API_TOKEN and api.token are not affected.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}
