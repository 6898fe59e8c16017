// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chats.go - Conversation management commands.
//
// Command: chats
// Short:   List, inspect, export and delete conversations
//
// Examples:
//   ollama-view chats list                   All conversations, newest first
//   ollama-view chats list -m llama3         Only llama3 conversations
//   ollama-view chats show 3f2a              Show a conversation by ID prefix
//   ollama-view chats export 3f2a -f yaml    Export as YAML
//   ollama-view chats search "rust"          Search names and messages
//   ollama-view chats watch                  Reprint the list on changes
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/storage"
)

// previewRunes bounds the first-message preview in listings.
const previewRunes = 60

func newChatsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chats",
		Aliases: []string{"c"},
		Short:   "List, inspect, export and delete conversations",
	}
	cmd.AddCommand(
		newChatsListCommand(app),
		newChatsNewCommand(app),
		newChatsShowCommand(app),
		newChatsDeleteCommand(app),
		newChatsExportCommand(app),
		newChatsSearchCommand(app),
		newChatsWatchCommand(app),
	)
	return cmd
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

// chatSummary is the JSON form of a listed conversation.
type chatSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	Preview   string    `json:"preview,omitempty"`
}

func summarize(convs []*model.Conversation) []chatSummary {
	out := make([]chatSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, chatSummary{
			ID:        c.ID,
			Name:      c.Name,
			Model:     c.ModelName,
			Messages:  len(c.Messages),
			CreatedAt: c.CreatedAt,
			Preview:   storage.Preview(c, previewRunes),
		})
	}
	return out
}

func (a *App) printList(command string, convs []*model.Conversation) error {
	if a.flags.json {
		return a.outputJSON(command, summarize(convs))
	}
	out := storage.FormatList(convs)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	fmt.Fprint(a.out, out)
	return nil
}

func newChatsListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var convs []*model.Conversation
			if app.flags.model != "" {
				convs, err = store.ListForModel(ctx, app.flags.model)
			} else {
				convs, err = store.List(ctx)
			}
			if err != nil {
				return err
			}
			return app.printList("chats list", convs)
		},
	}
}

func newChatsSearchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Find conversations whose name or messages contain QUERY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			convs, err := store.Search(cmd.Context(), app.flags.model, args[0])
			if err != nil {
				return err
			}
			return app.printList("chats search", convs)
		},
	}
}

// =============================================================================
// NEW / DELETE
// =============================================================================

func newChatsNewCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an empty conversation for the selected model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			conv, err := store.CreateChat(cmd.Context(), app.modelName())
			if err != nil {
				return err
			}
			if app.flags.json {
				return app.outputJSON("chats new", summarize([]*model.Conversation{conv})[0])
			}
			fmt.Fprintf(app.out, "%s %s (%s)\n", conv.ID, conv.Name, conv.ModelName)
			return nil
		},
	}
}

func newChatsDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID...",
		Aliases: []string{"rm"},
		Short:   "Delete conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			deleted := make([]string, 0, len(args))
			for _, prefix := range args {
				id, err := app.resolveID(ctx, prefix)
				if err != nil {
					return err
				}
				if err := store.Delete(ctx, id); err != nil {
					return err
				}
				deleted = append(deleted, id)
			}
			if app.flags.json {
				return app.outputJSON("chats delete", map[string][]string{"deleted": deleted})
			}
			for _, id := range deleted {
				fmt.Fprintf(app.out, "Deleted %s\n", storage.ShortID(id))
			}
			return nil
		},
	}
}

// =============================================================================
// SHOW / EXPORT
// =============================================================================

func newChatsShowCommand(app *App) *cobra.Command {
	var markdown, plain bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print a conversation with message indices",
		Long: `Print a conversation. The bracketed index before each message is the
INDEX accepted by edit, regenerate and fork.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := app.loadConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if app.flags.json {
				return app.outputJSON("chats show", conv)
			}
			render := app.cfg.UI.Markdown
			if cmd.Flags().Changed("markdown") {
				render = markdown
			}
			if plain {
				render = false
			}
			app.printConversation(conv, render)
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render assistant replies as markdown")
	cmd.Flags().BoolVar(&plain, "plain", false, "print raw message text")
	return cmd
}

func newChatsExportCommand(app *App) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Export a conversation as markdown, json or yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := storage.ParseExportFormat(format)
			if err != nil {
				return err
			}
			conv, err := app.loadConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := storage.Export(conv, f)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = app.out.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return errors.Wrap(err, "write export")
			}
			fmt.Fprintf(app.errOut, "Exported %s to %s\n", storage.ShortID(conv.ID), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "export format: markdown, json, yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func (a *App) loadConversation(ctx context.Context, prefix string) (*model.Conversation, error) {
	id, err := a.resolveID(ctx, prefix)
	if err != nil {
		return nil, err
	}
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, id)
}

// printConversation writes the header and every message with its index.
func (a *App) printConversation(conv *model.Conversation, markdown bool) {
	width := terminalWidth(a.out)
	fmt.Fprintln(a.out, TitleStyle.Render(conv.Name))
	fmt.Fprintf(a.out, "%s%s\n", LabelStyle.Render("ID"), conv.ID)
	fmt.Fprintf(a.out, "%s%s\n", LabelStyle.Render("Model"), conv.ModelName)
	fmt.Fprintf(a.out, "%s%s\n", LabelStyle.Render("Created"), conv.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintln(a.out, RenderSeparator(min(width-4, 70)))

	var renderer *glamour.TermRenderer
	if markdown {
		renderer = a.markdownRenderer(width)
	}

	for i, msg := range conv.Messages {
		fmt.Fprintf(a.out, "%s %s %s\n",
			DimStyle.Render(fmt.Sprintf("[%d]", i)),
			roleLabel(msg.Role),
			DimStyle.Render(msg.Timestamp.Local().Format("15:04")))
		fmt.Fprintln(a.out, a.renderContent(renderer, msg))
	}
	if conv.IsEmpty() {
		fmt.Fprintln(a.out, DimStyle.Render("(no messages)"))
	}
}

// markdownRenderer builds a glamour renderer for the output, or nil when it
// cannot be created.
func (a *App) markdownRenderer(width int) *glamour.TermRenderer {
	style := glamour.WithStandardStyle("notty")
	if ColorsEnabled() {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width-2))
	if err != nil {
		a.log.Debug().Err(err).Msg("markdown renderer unavailable")
		return nil
	}
	return r
}

// renderContent renders assistant messages as markdown when a renderer is
// given and returns other content unchanged.
func (a *App) renderContent(r *glamour.TermRenderer, msg model.Message) string {
	if r == nil || !msg.IsAssistant() {
		return msg.Content + "\n"
	}
	out, err := r.Render(msg.Content)
	if err != nil {
		return msg.Content + "\n"
	}
	return strings.TrimLeft(out, "\n")
}

// =============================================================================
// WATCH
// =============================================================================

func newChatsWatchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the conversation list whenever another process changes it",
		Long: `Print the conversation list, then reprint it each time another
process (another ollama-view, an editor) changes the stored conversations.
Requires the file backend. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			reprint := func() {
				convs, err := store.List(ctx)
				if err != nil {
					app.log.Warn().Err(err).Msg("reload conversations")
					return
				}
				fmt.Fprintln(app.out, DimStyle.Render(time.Now().Format("15:04:05")))
				_ = app.printList("chats watch", convs)
			}

			reprint()
			err = store.Watch(ctx, reprint)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
