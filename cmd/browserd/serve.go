package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/browserd/internal/agent"
	"github.com/seantiz/browserd/internal/api"
	"github.com/seantiz/browserd/internal/browser"
	"github.com/seantiz/browserd/internal/config"
	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/session"
	"github.com/seantiz/browserd/internal/store"
	"github.com/seantiz/browserd/internal/wire"
)

var (
	serveAddr      string
	serveDBPath    string
	serveMode      string
	serveHeadless  bool
	serveStaticDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server.

In shared mode one browser is launched on the first task and reused until
POST /close-browser or shutdown. In isolated mode every task runs in a fresh
"browserd worker" process with its own browser.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !model.ValidMode(cfg.Mode) {
			return fmt.Errorf("invalid mode %q: want %q or %q", cfg.Mode, model.ModeShared, model.ModeIsolated)
		}
		return serve(cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", "", "listen address (overrides BROWSERD_LISTEN_ADDR)")
	f.StringVar(&serveDBPath, "db", "", "SQLite database path (overrides BROWSERD_DB_PATH)")
	f.StringVar(&serveMode, "mode", "", "execution mode: shared or isolated (overrides BROWSERD_MODE)")
	f.BoolVar(&serveHeadless, "headless", false, "hide the browser window (overrides BROWSERD_HEADLESS)")
	f.StringVar(&serveStaticDir, "static-dir", "", "frontend directory (overrides BROWSERD_STATIC_DIR)")
}

func serve(cfg config.Config) error {
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("browserd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"mode", cfg.Mode,
		"model", cfg.Model,
		"headless", cfg.Headless,
	)
	if cfg.APIKey == "" {
		logger.Warn("credential not set; tasks will be rejected", "env", config.EnvAPIKey)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	runner, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}

	svc := session.New(runner, db, session.Options{
		APIKey:      cfg.APIKey,
		Mode:        cfg.Mode,
		TaskTimeout: cfg.TaskTimeout,
	}, logger)
	svc.Start()

	srv := api.NewServer(cfg.ListenAddr, svc, db, api.Options{
		StaticDir:       cfg.StaticDir,
		LogPollInterval: cfg.LogPollInterval,
	}, logger)

	return srv.Run()
}

// newRunner builds the task runner for the configured mode.
func newRunner(cfg config.Config, logger *slog.Logger) (session.Runner, error) {
	if cfg.Mode == model.ModeIsolated {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
		return session.NewIsolatedRunner(session.IsolatedConfig{
			Path:     exe,
			Args:     []string{"worker"},
			Settings: settingsFrom(cfg),
		}, logger), nil
	}
	return sharedRunner(settingsFrom(cfg), logger)
}

func settingsFrom(cfg config.Config) wire.Settings {
	return wire.Settings{
		Model:         cfg.Model,
		BaseURL:       cfg.LLMBaseURL,
		APIKey:        cfg.APIKey,
		Headless:      cfg.Headless,
		InstallDriver: cfg.InstallDriver,
		MaxSteps:      cfg.MaxSteps,
	}
}

// sharedRunner wires a Playwright browser and the LLM agent into a runner.
// Without a credential the planner cannot be built, but the runner is never
// reached either: the session rejects the task first.
func sharedRunner(s wire.Settings, logger *slog.Logger) (session.Runner, error) {
	launcher := browser.NewPlaywrightLauncher(logger)
	ctrl := browser.NewController(launcher, browser.Options{
		Headless:      s.Headless,
		InstallDriver: s.InstallDriver,
	}, logger)

	var engine agent.Engine = missingCredentialEngine{}
	if s.APIKey != "" {
		planner, err := agent.NewLLMPlanner(s.APIKey, s.BaseURL, s.Model)
		if err != nil {
			return nil, fmt.Errorf("create planner: %w", err)
		}
		engine = agent.New(planner, s.MaxSteps, logger)
	}
	return session.NewSharedRunner(ctrl, engine, logger), nil
}

type missingCredentialEngine struct{}

func (missingCredentialEngine) Run(context.Context, browser.Handle, string, func(string)) (*agent.Result, error) {
	return nil, fmt.Errorf("%s is not set", config.EnvAPIKey)
}
