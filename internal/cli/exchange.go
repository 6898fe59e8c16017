// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// exchange.go - One-shot commands that run a single exchange.
//
// Examples:
//   ollama-view send "Why is the sky blue?"          New conversation
//   ollama-view send --chat 3f2a "And at sunset?"    Continue a conversation
//   ollama-view edit 3f2a 2 "Explain it simply"      Replace message 2, regenerate
//   ollama-view regenerate 3f2a                      New reply to the last prompt
//   ollama-view fork 3f2a 2 "What about Mars?"       Branch before message 2
//
// Ctrl+C stops the reply; nothing from a stopped reply is stored.
package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollama-view/internal/exchange"
	"github.com/jeranaias/ollama-view/internal/session"
)

// sessionRun runs one exchange on an open session.
type sessionRun func(ctx context.Context, sess *session.Session, l exchange.Listener) (*exchange.Result, error)

// runOnChat opens the conversation named by prefix (or a new one when
// prefix is empty), runs fn with streamed output and reports the result.
func (a *App) runOnChat(cmd *cobra.Command, command, prefix string, dumpEvents bool, fn sessionRun) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	mgr, err := a.Sessions()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := mgr.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.log.Warn().Err(cerr).Msg("close sessions")
		}
	}()

	var sess *session.Session
	if prefix == "" {
		sess, err = mgr.New(ctx, a.modelName())
	} else {
		var id string
		if id, err = a.resolveID(ctx, prefix); err == nil {
			sess, err = mgr.Open(ctx, id)
		}
	}
	if err != nil {
		return a.reportResult(command, nil, err)
	}
	conv, err := sess.Conversation(ctx)
	if err != nil {
		return a.reportResult(command, nil, err)
	}

	opts := streamOptions{label: conv.ModelName, quiet: a.flags.json, dumpEvents: dumpEvents}
	res, err := a.stream(ctx, opts, func(ctx context.Context, l exchange.Listener) (*exchange.Result, error) {
		return fn(ctx, sess, l)
	})
	return a.reportResult(command, res, err)
}

// parseIndex parses a 0-based message index as printed by "chats show".
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid message index %q: want a number from chats show", s)
	}
	return n, nil
}

func addEventsFlag(cmd *cobra.Command, dump *bool) {
	cmd.Flags().BoolVar(dump, "events", false, "write exchange events as JSON lines to stderr")
}

// =============================================================================
// SEND
// =============================================================================

func newSendCommand(app *App) *cobra.Command {
	var (
		chat string
		dump bool
	)
	cmd := &cobra.Command{
		Use:   "send [--chat ID] TEXT...",
		Short: "Send a message and stream the reply",
		Long: `Send a message and stream the reply. Without --chat a new conversation
is created for the selected model and named after the message.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return app.runOnChat(cmd, "send", chat, dump, func(ctx context.Context, sess *session.Session, l exchange.Listener) (*exchange.Result, error) {
				return sess.Send(ctx, text, l)
			})
		},
	}
	cmd.Flags().StringVarP(&chat, "chat", "c", "", "conversation ID (prefix) to continue")
	addEventsFlag(cmd, &dump)
	return cmd
}

// =============================================================================
// EDIT / REGENERATE
// =============================================================================

func newEditCommand(app *App) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "edit ID INDEX TEXT...",
		Short: "Replace a message, discard what followed, and regenerate",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			text := strings.Join(args[2:], " ")
			return app.runOnChat(cmd, "edit", args[0], dump, func(ctx context.Context, sess *session.Session, l exchange.Listener) (*exchange.Result, error) {
				return sess.Edit(ctx, index, text, l)
			})
		},
	}
	addEventsFlag(cmd, &dump)
	return cmd
}

func newRegenerateCommand(app *App) *cobra.Command {
	var (
		at   int
		dump bool
	)
	cmd := &cobra.Command{
		Use:     "regenerate ID",
		Aliases: []string{"regen"},
		Short:   "Discard the last reply and generate a new one",
		Long: `Discard the last assistant reply and generate a new one. With --at,
discard messages from INDEX on and reply to the messages before it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			atSet := cmd.Flags().Changed("at")
			if atSet && at < 0 {
				return errors.Errorf("invalid message index %d", at)
			}
			return app.runOnChat(cmd, "regenerate", args[0], dump, func(ctx context.Context, sess *session.Session, l exchange.Listener) (*exchange.Result, error) {
				if atSet {
					return sess.RegenerateAt(ctx, at, l)
				}
				return sess.Regenerate(ctx, l)
			})
		},
	}
	cmd.Flags().IntVar(&at, "at", 0, "message index to regenerate from")
	addEventsFlag(cmd, &dump)
	return cmd
}

// =============================================================================
// FORK
// =============================================================================

func newForkCommand(app *App) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "fork ID INDEX [TEXT...]",
		Short: "Branch a new conversation before a message",
		Long: `Create a new conversation holding the messages before INDEX and stream
its reply. With TEXT, the branch continues with TEXT as a new user message;
without, the model replies to the copied history. The original conversation
is not changed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			text := strings.Join(args[2:], " ")
			return app.runOnChat(cmd, "fork", args[0], dump, func(ctx context.Context, sess *session.Session, l exchange.Listener) (*exchange.Result, error) {
				var (
					res *exchange.Result
					err error
				)
				if text != "" {
					_, res, err = sess.Fork(ctx, index, text, l)
				} else {
					_, res, err = sess.ForkFrom(ctx, index, l)
				}
				return res, err
			})
		},
	}
	addEventsFlag(cmd, &dump)
	return cmd
}
