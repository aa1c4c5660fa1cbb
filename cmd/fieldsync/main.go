package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"fieldsync/internal/app"
	"fieldsync/internal/cli"
	"fieldsync/internal/config"
	"fieldsync/internal/utils"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// env carries the global flags and the lazily loaded configuration
type env struct {
	configPath string
	verbose    bool
	output     string

	cfg *config.Config
}

// load reads the config and configures logging once per invocation
func (e *env) load() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}

	path := e.configPath
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return nil, err
		}
	} else {
		config.SetCustomConfigPath(path)
		path, _ = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	utils.SetVerboseMode(e.verbose)
	logOpts, err := cfg.LogOptions()
	if err != nil {
		return nil, err
	}
	if err := utils.GetLogger().Configure(logOpts); err != nil {
		return nil, err
	}

	e.cfg = cfg
	return cfg, nil
}

// withApp opens the application for the duration of fn
func (e *env) withApp(opts app.Options, fn func(a *app.App) error) error {
	cfg, err := e.load()
	if err != nil {
		return err
	}
	a, err := app.NewApp(cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// structured reports whether --output asks for JSON or YAML
func (e *env) structured() bool {
	return e.output == utils.FormatJSON || e.output == utils.FormatYAML
}

func (e *env) write(w io.Writer, data interface{}) error {
	return utils.WriteStructured(w, e.output, data)
}

// termWidth is the terminal width, or 80 when output is not a terminal
func termWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return cli.GetTerminalWidth()
	}
	return 80
}

func newRootCmd() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline-first task sync for field riders",
		Long: `fieldsync records task actions locally while offline and reconciles
them with the task server once connectivity returns.

Examples:
  fieldsync tasks                     # List your tasks
  fieldsync act T-1042 reach          # Record an action (works offline)
  fieldsync sync                      # Push queued actions, pull assignments
  fieldsync sync status               # Show queue and health
  fieldsync run                       # Keep syncing in the background`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch e.output {
			case utils.FormatText, utils.FormatJSON, utils.FormatYAML:
			default:
				return utils.ErrInvalidValue("output format", e.output, []string{utils.FormatText, utils.FormatJSON, utils.FormatYAML})
			}
			// config init must work without a valid config
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			_, err := e.load()
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&e.configPath, "config", "", "Config file or directory (default: $XDG_CONFIG_HOME/fieldsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&e.output, "output", "o", utils.FormatText, "Output format: text, json, yaml")

	rootCmd.AddCommand(newTasksCmd(e))
	rootCmd.AddCommand(newCreateCmd(e))
	rootCmd.AddCommand(newActCmd(e))
	rootCmd.AddCommand(newSyncCmd(e))
	rootCmd.AddCommand(newRunCmd(e))
	rootCmd.AddCommand(newBackgroundSyncCmd(e))
	rootCmd.AddCommand(newConfigCmd(e))
	rootCmd.AddCommand(newCredentialsCmd(e))

	return rootCmd
}

func main() {
	defer utils.GetLogger().Close()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
