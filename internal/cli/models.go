// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Ollama model management commands.
//
// Command: models
// Short:   List, pull, remove, load and unload Ollama models
//
// Examples:
//   ollama-view models                 Installed models and their state
//   ollama-view models ps              Models loaded in memory
//   ollama-view models pull mistral    Download a model
//   ollama-view models start llama3    Load a model
//   ollama-view models stop llama3     Unload a model
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/ollama"
	"github.com/jeranaias/ollama-view/internal/util"
)

// pullProgressInterval throttles repeated progress lines of one pull step.
const pullProgressInterval = 250 * time.Millisecond

func newModelsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "List, pull, remove, load and unload Ollama models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.listModels(cmd)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "Installed models and whether they are loaded",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.listModels(cmd)
			},
		},
		newModelsPsCommand(app),
		newModelsPullCommand(app),
		newModelAction(app, "rm NAME", "Remove an installed model", "Removed", (*ollama.Client).DeleteModel),
		newModelAction(app, "start NAME", "Load a model into memory", "Loaded", (*ollama.Client).StartModel),
		newModelAction(app, "stop NAME", "Unload a model from memory", "Unloaded", (*ollama.Client).StopModel),
	)
	return cmd
}

// =============================================================================
// LIST / PS
// =============================================================================

// modelJSON is the JSON form of a listed model.
type modelJSON struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Family  string `json:"family,omitempty"`
	Running bool   `json:"running"`
}

// listModels fetches installed and loaded models concurrently and joins
// them.
func (a *App) listModels(cmd *cobra.Command) error {
	client := a.Client()
	var (
		installed []ollama.ModelInfo
		running   []ollama.RunningModel
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() (err error) {
		installed, err = client.ListModels(ctx)
		return err
	})
	g.Go(func() (err error) {
		running, err = client.ListRunning(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	statuses := model.JoinModelStatus(installed, running)
	if a.flags.json {
		out := make([]modelJSON, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, modelJSON{Name: s.Name, Size: s.Size, Family: s.Family, Running: s.Running})
		}
		return a.outputJSON("models list", out)
	}

	if len(statuses) == 0 {
		fmt.Fprintln(a.out, "No models installed.")
		fmt.Fprintf(a.out, "%s %s\n", DimStyle.Render("Try:"), strings.Join(model.PopularModels[:4], ", "))
		return nil
	}

	nameWidth := len("Name")
	for _, s := range statuses {
		nameWidth = max(nameWidth, min(util.RuneLen(s.Name), 40))
	}
	fmt.Fprintln(a.out, TitleStyle.Render(
		util.PadWidth("Name", nameWidth)+"  "+util.PadWidth("Size", 10)+"  "+util.PadWidth("Family", 10)+"  Status"))
	for _, s := range statuses {
		fmt.Fprintf(a.out, "%s  %s  %s  %s\n",
			util.PadWidth(s.Name, nameWidth),
			util.PadWidth(s.SizeString(), 10),
			util.PadWidth(s.Family, 10),
			RenderStatus(strings.ToLower(s.StatusString())))
	}
	return nil
}

func newModelsPsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "Models loaded in memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			running, err := app.Client().ListRunning(cmd.Context())
			if err != nil {
				return err
			}
			if app.flags.json {
				return app.outputJSON("models ps", running)
			}
			if len(running) == 0 {
				fmt.Fprintln(app.out, "No models loaded.")
				return nil
			}
			for _, m := range running {
				fmt.Fprintf(app.out, "%s  %s  until %s\n",
					util.PadWidth(m.Name, 24),
					model.ModelStatus{Size: m.Size}.SizeString(),
					m.ExpiresAt.Local().Format("15:04:05"))
			}
			return nil
		},
	}
}

// =============================================================================
// PULL
// =============================================================================

func newModelsPullCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pull NAME",
		Short: "Download a model from the Ollama library",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return model.SuggestModels(toComplete), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			name := args[0]
			err := app.Client().PullModel(ctx, name, newPullPrinter(app))
			if err != nil {
				if app.flags.json {
					return app.outputJSONError("models pull", err)
				}
				return err
			}
			if app.flags.json {
				return app.outputJSON("models pull", map[string]string{"model": name, "status": "success"})
			}
			fmt.Fprintf(app.out, "%s %s\n", RenderStatus("ok"), name)
			return nil
		},
	}
}

// newPullPrinter prints every status change and at most one progress line
// per interval while a layer downloads.
func newPullPrinter(app *App) ollama.PullProgressFunc {
	limiter := rate.NewLimiter(rate.Every(pullProgressInterval), 1)
	last := ""
	return func(p ollama.PullProgress) {
		if app.flags.json {
			return
		}
		if p.Status == last && !limiter.Allow() {
			return
		}
		last = p.Status
		fmt.Fprintln(app.errOut, DimStyle.Render(p.String()))
	}
}

// =============================================================================
// RM / START / STOP
// =============================================================================

// modelFunc is a client method acting on one model by name.
type modelFunc func(c *ollama.Client, ctx context.Context, name string) error

func newModelAction(app *App, use, short, done string, fn modelFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := fn(app.Client(), cmd.Context(), name); err != nil {
				return err
			}
			if app.flags.json {
				return app.outputJSON("models "+cmd.Name(), map[string]string{"model": name})
			}
			fmt.Fprintf(app.out, "%s %s\n", done, name)
			return nil
		},
	}
}
