// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Command: chat [ID]
// Short:   Interactive chat with history, editing and forking
//
// Examples:
//   ollama-view chat                  New conversation with the default model
//   ollama-view chat -m mistral       New conversation with mistral
//   ollama-view chat 3f2a             Continue a conversation
//
// Ctrl+C stops the reply being streamed; Ctrl+D or /quit leaves.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollama-view/internal/exchange"
	"github.com/jeranaias/ollama-view/internal/ollama"
	"github.com/jeranaias/ollama-view/internal/session"
	"github.com/jeranaias/ollama-view/internal/storage"
	"github.com/jeranaias/ollama-view/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads REPL input lines.
type lineReader interface {
	// Prompt returns the next line, io.EOF on Ctrl+D and
	// liner.ErrPromptAborted on Ctrl+C.
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// linerReader provides line editing with history persisted across runs.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader(historyFile string) lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	r := &linerReader{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	return r.line.Prompt(prompt)
}

func (r *linerReader) AppendHistory(line string) {
	r.line.AppendHistory(line)
}

// Close saves history (owner read/write only) and restores the terminal.
func (r *linerReader) Close() error {
	defer r.line.Close()
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = r.line.WriteHistory(f)
	return err
}

// replCommands are completed on Tab.
var replCommands = []string{"/help", "/history", "/edit ", "/regen", "/fork ", "/new", "/ps", "/quit"}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range replCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(app *App) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "chat [ID]",
		Short: "Interactive chat with history, editing and forking",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.flags.json {
				return errors.New("chat is interactive and does not support --json")
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return app.runChat(cmd.Context(), prefix, dump)
		},
	}
	addEventsFlag(cmd, &dump)
	return cmd
}

// chatREPL is the state of one interactive run.
type chatREPL struct {
	app        *App
	mgr        *session.Manager
	input      lineReader
	dumpEvents bool

	// sess is read by the interrupt handler.
	sess atomic.Pointer[session.Session]

	exchanges int
	tokens    int

	// running caches /ps; exchanges load and unload models so any state
	// change invalidates it.
	mu      sync.Mutex
	running []ollama.RunningModel
	stale   bool
}

func (a *App) runChat(ctx context.Context, prefix string, dumpEvents bool) error {
	r := &chatREPL{app: a, dumpEvents: dumpEvents, stale: true}

	mgr, err := a.Sessions(session.WithStateChange(r.onStateChange))
	if err != nil {
		return err
	}
	r.mgr = mgr
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
		return err
	}
	r.sess.Store(sess)

	if err := a.Client().CheckRunning(ctx); err != nil {
		fmt.Fprintln(a.errOut, RenderStatus("warn"), describeError(err))
	}

	r.input = a.newLineReader()
	defer func() {
		if err := r.input.Close(); err != nil {
			a.log.Debug().Err(err).Msg("save chat history")
		}
	}()

	stop := r.handleInterrupts()
	defer stop()

	if err := r.printWelcome(ctx); err != nil {
		return err
	}
	return r.loop(ctx)
}

// handleInterrupts cancels the in-flight exchange on Ctrl+C. At the prompt
// the line editor consumes Ctrl+C itself.
func (r *chatREPL) handleInterrupts() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		for range sigs {
			if s := r.sess.Load(); s != nil && s.Busy() {
				s.Cancel()
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(sigs)
	}
}

func (r *chatREPL) onStateChange(sc session.StateChange) {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
}

// =============================================================================
// LOOP
// =============================================================================

func (r *chatREPL) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		conv, err := r.sess.Load().Conversation(ctx)
		if err != nil {
			return err
		}

		line, err := r.input.Prompt(PromptStyle.Render(conv.ModelName + "> "))
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(r.app.errOut, DimStyle.Render("Ctrl+D or /quit to leave"))
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(r.app.out)
			r.printSummary()
			return nil
		case err != nil:
			return errors.Wrap(err, "read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.input.AppendHistory(line)

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				r.printError(err)
			}
			if quit {
				r.printSummary()
				return nil
			}
			continue
		}

		r.run(ctx, func(ctx context.Context, s *session.Session, l exchange.Listener) (*exchange.Result, error) {
			return s.Send(ctx, line, l)
		})
	}
}

// run streams one exchange on the current session and prints its outcome.
func (r *chatREPL) run(ctx context.Context, fn sessionRun) {
	s := r.sess.Load()
	conv, err := s.Conversation(ctx)
	if err != nil {
		r.printError(err)
		return
	}
	opts := streamOptions{label: conv.ModelName, dumpEvents: r.dumpEvents}
	res, err := r.app.stream(ctx, opts, func(ctx context.Context, l exchange.Listener) (*exchange.Result, error) {
		return fn(ctx, s, l)
	})
	r.record(res)
	if err := r.app.reportResult("chat", res, err); err != nil {
		r.printError(err)
	}
}

func (r *chatREPL) record(res *exchange.Result) {
	if res != nil && res.Committed() {
		r.exchanges++
		r.tokens += res.Tokens
	}
}

func (r *chatREPL) printError(err error) {
	fmt.Fprintln(r.app.errOut, RenderConditional(ErrorStyle, "[Error]"), describeError(err))
}

// switchTo makes next the current session and closes the previous one.
func (r *chatREPL) switchTo(ctx context.Context, next *session.Session) {
	prev := r.sess.Swap(next)
	if prev != nil && prev != next {
		if err := prev.Close(ctx); err != nil {
			r.app.log.Warn().Err(err).Str("conversation", prev.ID()).Msg("close session")
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /history            Show the conversation with message indices
  /edit N TEXT        Replace message N, discard what followed, regenerate
  /regen [N]          Regenerate the last reply, or from message N
  /fork N [TEXT]      Branch before message N and switch to the branch
  /new [MODEL]        Start a new conversation
  /ps                 Show models loaded by Ollama
  /quit               Leave (Ctrl+D works too)`

// command runs a slash command and reports whether the REPL should exit.
func (r *chatREPL) command(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		fmt.Fprintln(r.app.out, chatHelp)

	case "/history", "/h":
		conv, err := r.sess.Load().Conversation(ctx)
		if err != nil {
			return false, err
		}
		r.app.printConversation(conv, r.app.cfg.UI.Markdown)

	case "/edit":
		idxArg, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if idxArg == "" || text == "" {
			return false, errors.New("usage: /edit N TEXT")
		}
		index, err := parseIndex(idxArg)
		if err != nil {
			return false, err
		}
		r.run(ctx, func(ctx context.Context, s *session.Session, l exchange.Listener) (*exchange.Result, error) {
			return s.Edit(ctx, index, text, l)
		})

	case "/regen", "/regenerate":
		if rest == "" {
			r.run(ctx, func(ctx context.Context, s *session.Session, l exchange.Listener) (*exchange.Result, error) {
				return s.Regenerate(ctx, l)
			})
			break
		}
		index, err := parseIndex(rest)
		if err != nil {
			return false, err
		}
		r.run(ctx, func(ctx context.Context, s *session.Session, l exchange.Listener) (*exchange.Result, error) {
			return s.RegenerateAt(ctx, index, l)
		})

	case "/fork":
		return false, r.fork(ctx, rest)

	case "/new":
		modelName := rest
		if modelName == "" {
			conv, err := r.sess.Load().Conversation(ctx)
			if err != nil {
				return false, err
			}
			modelName = conv.ModelName
		}
		next, err := r.mgr.New(ctx, modelName)
		if err != nil {
			return false, err
		}
		r.switchTo(ctx, next)
		fmt.Fprintf(r.app.out, "%s %s\n", RenderStatus("ok"), DimStyle.Render("new conversation with "+modelName))

	case "/ps":
		return false, r.printRunning(ctx)

	default:
		return false, errors.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

// fork branches the current conversation and switches to the branch.
func (r *chatREPL) fork(ctx context.Context, args string) error {
	idxArg, text, _ := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	if idxArg == "" {
		return errors.New("usage: /fork N [TEXT]")
	}
	index, err := parseIndex(idxArg)
	if err != nil {
		return err
	}

	var forked *session.Session
	r.run(ctx, func(ctx context.Context, s *session.Session, l exchange.Listener) (*exchange.Result, error) {
		var (
			res *exchange.Result
			err error
		)
		if text != "" {
			forked, res, err = s.Fork(ctx, index, text, l)
		} else {
			forked, res, err = s.ForkFrom(ctx, index, l)
		}
		return res, err
	})
	if forked == nil {
		return nil
	}

	r.switchTo(ctx, forked)
	conv, err := forked.Conversation(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.app.out, "%s %s\n", RenderStatus("ok"),
		DimStyle.Render(fmt.Sprintf("switched to %s %s", storage.ShortID(conv.ID), conv.Name)))
	return nil
}

// printRunning lists loaded models, refreshing the cache when an exchange
// changed state since the last call.
func (r *chatREPL) printRunning(ctx context.Context) error {
	r.mu.Lock()
	stale := r.stale
	running := r.running
	r.mu.Unlock()

	if stale {
		var err error
		running, err = r.app.Client().ListRunning(ctx)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.running, r.stale = running, false
		r.mu.Unlock()
	}

	if len(running) == 0 {
		fmt.Fprintln(r.app.out, DimStyle.Render("No models loaded"))
		return nil
	}
	for _, m := range running {
		until := "-"
		if !m.ExpiresAt.IsZero() {
			until = time.Until(m.ExpiresAt).Round(time.Second).String()
		}
		fmt.Fprintf(r.app.out, "%s  %s\n", util.PadWidth(m.Name, 24), DimStyle.Render("unloads in "+until))
	}
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *chatREPL) printWelcome(ctx context.Context) error {
	conv, err := r.sess.Load().Conversation(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.app.out, TitleStyle.Render("ollama-view chat"))
	if conv.IsEmpty() {
		fmt.Fprintf(r.app.out, "%s%s\n", LabelStyle.Render("Model"), conv.ModelName)
	} else {
		r.app.printConversation(conv, r.app.cfg.UI.Markdown)
	}
	fmt.Fprintln(r.app.out, DimStyle.Render("/help for commands, Ctrl+C stops a reply, Ctrl+D leaves"))
	return nil
}

func (r *chatREPL) printSummary() {
	if r.exchanges == 0 {
		return
	}
	fmt.Fprintln(r.app.out, DimStyle.Render(fmt.Sprintf("%d replies, %d tokens", r.exchanges, r.tokens)))
}
