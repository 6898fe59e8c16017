// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command, global flags and shared wiring for ollama-view.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollama-view/internal/config"
	"github.com/jeranaias/ollama-view/internal/exchange"
	"github.com/jeranaias/ollama-view/internal/kv"
	"github.com/jeranaias/ollama-view/internal/logging"
	"github.com/jeranaias/ollama-view/internal/model"
	"github.com/jeranaias/ollama-view/internal/ollama"
	"github.com/jeranaias/ollama-view/internal/session"
	"github.com/jeranaias/ollama-view/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// sqliteFile is the database name inside the data directory.
const sqliteFile = "ollama-view.db"

// =============================================================================
// APP
// =============================================================================

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	model      string
	ollamaURL  string
	storage    string
	dataDir    string
	json       bool
}

// App holds the configuration and the lazily opened clients for one run.
type App struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	flags globalFlags
	cfg   *config.Config
	log   zerolog.Logger

	client  *ollama.Client
	backend kv.Store
	store   *storage.ConversationStore

	// newLineReader builds the REPL input; tests replace it.
	newLineReader func() lineReader
}

// NewApp creates an App reading from in and writing to out and errOut.
func NewApp(in io.Reader, out, errOut io.Writer) *App {
	a := &App{in: in, out: out, errOut: errOut, log: zerolog.Nop()}
	a.newLineReader = func() lineReader { return newLinerReader(a.historyPath()) }
	return a
}

// setup loads configuration, applies flags and configures logging.
func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}

	if a.flags.model != "" {
		cfg.DefaultModel = a.flags.model
	}
	if a.flags.ollamaURL != "" {
		cfg.Ollama.URL = a.flags.ollamaURL
	}
	if a.flags.storage != "" {
		cfg.Storage.Backend = a.flags.storage
	}
	if a.flags.dataDir != "" {
		cfg.Storage.Dir = a.flags.dataDir
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	a.cfg = cfg

	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, a.errOut)
	if err != nil {
		return err
	}
	a.log = logger
	applyColorMode(cfg.UI.Color, a.out)

	a.log.Debug().Str("command", cmd.CommandPath()).Str("storage", cfg.Storage.Backend).Str("ollama", cfg.Ollama.URL).Msg("configured")
	return nil
}

// Client returns the Ollama client, creating it on first use.
func (a *App) Client() *ollama.Client {
	if a.client == nil {
		a.client = ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:       a.cfg.Ollama.URL,
			Timeout:       a.cfg.OllamaTimeout(),
			StreamTimeout: a.cfg.StreamTimeout(),
		})
	}
	return a.client
}

// Store opens the configured backend on first use.
func (a *App) Store() (*storage.ConversationStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	backend, err := openBackend(a.cfg)
	if err != nil {
		return nil, err
	}
	a.backend = backend
	a.store = storage.NewConversationStore(backend,
		storage.WithKey(a.cfg.Storage.Key),
		storage.WithLogger(a.log),
	)
	return a.store, nil
}

// Sessions builds a session manager streaming from the Ollama client.
func (a *App) Sessions(opts ...session.Option) (*session.Manager, error) {
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	coord := exchange.NewCoordinator(a.Client(), store, exchange.WithLogger(a.log))
	opts = append([]session.Option{session.WithLogger(a.log)}, opts...)
	return session.NewManager(store, coord, opts...), nil
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// openBackend constructs the key-value store selected in cfg.
func openBackend(cfg *config.Config) (kv.Store, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return kv.NewMemoryStore(), nil
	}

	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return kv.NewFileStore(dir)
	case config.BackendSQLite:
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrap(err, "create data directory")
		}
		return kv.NewSQLiteStore(filepath.Join(dir, sqliteFile))
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// modelName returns the --model flag value or the configured default.
func (a *App) modelName() string {
	return a.cfg.DefaultModel
}

// resolveID expands a conversation ID prefix.
func (a *App) resolveID(ctx context.Context, prefix string) (string, error) {
	store, err := a.Store()
	if err != nil {
		return "", err
	}
	convs, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	return storage.ResolveID(convs, prefix)
}

func (a *App) historyPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chat_history")
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "ollama-view",
		Short: "Branching conversations with local Ollama models",
		Long: `ollama-view keeps named conversations with models served by a local
Ollama daemon. Earlier messages can be edited (discarding what followed),
replies regenerated, and conversations forked at any point.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}
	root.SetIn(app.in)
	root.SetOut(app.out)
	root.SetErr(app.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&app.flags.configPath, "config", "", "config file (default ~/.ollama-view/config.toml)")
	pf.StringVar(&app.flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVarP(&app.flags.model, "model", "m", "", "model for new conversations")
	pf.StringVar(&app.flags.ollamaURL, "ollama-url", "", "Ollama daemon URL")
	pf.StringVar(&app.flags.storage, "storage", "", "storage backend: file, sqlite, memory")
	pf.StringVar(&app.flags.dataDir, "data-dir", "", "data directory for the file and sqlite backends")
	pf.BoolVar(&app.flags.json, "json", false, "machine-readable JSON output")

	root.AddCommand(
		newChatsCommand(app),
		newSendCommand(app),
		newEditCommand(app),
		newRegenerateCommand(app),
		newForkCommand(app),
		newChatCommand(app),
		newModelsCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return root
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.flags.json {
				return app.outputJSON("version", map[string]string{
					"version": Version, "commit": GitCommit, "built": BuildDate,
				})
			}
			fmt.Fprintf(app.out, "ollama-view %s (%s, %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	app := NewApp(os.Stdin, os.Stdout, os.Stderr)
	root := NewRootCommand(app)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		_ = app.Close()
		fmt.Fprintln(os.Stderr, RenderConditional(ErrorStyle, "Error:"), describeError(err))
		return exitCode(err)
	}
	return 0
}

// describeError adds a hint for the failures users hit most.
func describeError(err error) string {
	switch {
	case ollama.IsNotRunning(err):
		return err.Error() + "\n  Start the daemon with: ollama serve"
	case ollama.IsModelNotFound(err):
		return err.Error() + "\n  Install it with: ollama-view models pull <name>"
	case errors.Is(err, storage.ErrConflict):
		return err.Error() + "\n  Another process changed the conversations; retry the command."
	default:
		return err.Error()
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, exchange.ErrCancelled):
		return 130
	case errors.Is(err, storage.ErrConversationNotFound):
		return 3
	default:
		return 1
	}
}

// roleLabel is the display label for a message role.
func roleLabel(r model.Role) string {
	switch r {
	case model.RoleUser:
		return UserStyle.Render(r.DisplayName())
	case model.RoleAssistant:
		return AssistantStyle.Render(r.DisplayName())
	default:
		return DimStyle.Render(r.DisplayName())
	}
}
