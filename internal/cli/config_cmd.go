// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config command implementation.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Set a value in the config file
//   reset               Write the default configuration
//   path                Show configuration file path
//   keys                List settable keys
//
// Examples:
//   ollama-view config set default_model mistral
//   ollama-view config set ollama.url http://gpu-box:11434
//   ollama-view config set storage.backend sqlite
//   ollama-view config get log.level
//
// Environment variables (OLLAMA_VIEW_*, OLLAMA_HOST) and flags override the
// file; show and get print the effective value, set only edits the file.
package cli

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollama-view/internal/config"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.showConfig()
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Display the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.showConfig()
			},
		},
		newConfigGetCommand(app),
		newConfigSetCommand(app),
		newConfigResetCommand(app),
		&cobra.Command{
			Use:   "path",
			Short: "Show configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := app.configPath()
				if err != nil {
					return err
				}
				if app.flags.json {
					return app.outputJSON("config path", map[string]string{"path": path})
				}
				fmt.Fprintln(app.out, path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List settable keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if app.flags.json {
					return app.outputJSON("config keys", config.Keys())
				}
				for _, k := range config.Keys() {
					fmt.Fprintln(app.out, k)
				}
				return nil
			},
		},
	)
	return cmd
}

// configPath is the --config path or the default location.
func (a *App) configPath() (string, error) {
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	return config.ConfigPath()
}

func (a *App) showConfig() error {
	if a.flags.json {
		return a.outputJSON("config show", a.cfg)
	}
	path, err := a.configPath()
	if err == nil {
		fmt.Fprintln(a.out, DimStyle.Render("# "+path))
	}
	fmt.Fprint(a.out, a.cfg.String())
	return nil
}

func newConfigGetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return config.Keys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := app.cfg.Get(args[0])
			if err != nil {
				return err
			}
			if app.flags.json {
				return app.outputJSON("config get", map[string]interface{}{"key": args[0], "value": v})
			}
			fmt.Fprintln(app.out, v)
			return nil
		},
	}
}

func newConfigSetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a value in the config file",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return config.Keys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}

			// Edit the file as written, without env or flag overrides.
			cfg := config.Default()
			if _, err := os.Stat(path); err == nil {
				if err := config.LoadTOML(cfg, path); err != nil {
					return err
				}
			}
			key, value := args[0], args[1]
			if err := cfg.Set(key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return errors.Wrapf(err, "%s=%s", key, value)
			}
			if err := config.SaveTOML(cfg, path); err != nil {
				return err
			}

			if app.flags.json {
				return app.outputJSON("config set", map[string]string{"key": key, "value": value, "path": path})
			}
			fmt.Fprintf(app.out, "%s %s = %s\n", RenderStatus("ok"), key, value)
			return nil
		},
	}
}

func newConfigResetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Write the default configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configPath()
			if err != nil {
				return err
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			if app.flags.json {
				return app.outputJSON("config reset", map[string]string{"path": path})
			}
			fmt.Fprintf(app.out, "%s wrote defaults to %s\n", RenderStatus("ok"), path)
			return nil
		},
	}
}
