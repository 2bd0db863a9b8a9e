package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/livinlefevreloca/omakase-sync/internal/clock"
	"github.com/livinlefevreloca/omakase-sync/internal/config"
	"github.com/livinlefevreloca/omakase-sync/internal/cron"
	"github.com/livinlefevreloca/omakase-sync/internal/db"
	"github.com/livinlefevreloca/omakase-sync/internal/guardian"
	"github.com/livinlefevreloca/omakase-sync/internal/hooks"
	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
	"github.com/livinlefevreloca/omakase-sync/internal/installer"
	"github.com/livinlefevreloca/omakase-sync/internal/options"
	"github.com/livinlefevreloca/omakase-sync/internal/plugins"
	"github.com/livinlefevreloca/omakase-sync/internal/reporter"
	"github.com/livinlefevreloca/omakase-sync/internal/scheduler"
	"github.com/livinlefevreloca/omakase-sync/internal/update"
)

// Callback names the app itself attaches
const (
	scheduleCheckCallback = "omakase_sync_schedule_update_check"
	scanCallback          = "omakase_sync_scan_plugins"
)

// app holds every wired component
type app struct {
	config *config.Config
	logger *slog.Logger
	clock  clock.Clock

	db        *db.DB
	options   *options.SQLStore
	plugins   *plugins.SQLRegistry
	cron      *cron.Registry
	hooks     *hooks.Registry
	guardian  *guardian.Guardian
	reporter  *reporter.Reporter
	resolver  *update.Resolver
	installer *installer.Installer
}

// newLogger builds the process logger from the logging section
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newApp opens the state database and wires the components together
func newApp(cfg *config.Config, logger *slog.Logger, clk clock.Clock) (*app, error) {
	logger.Debug("connecting to database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if !cfg.Database.SkipMigrations {
		version, err := database.Migrate()
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Debug("database schema ready", "version", version)
	}

	client, err := httpclient.New(cfg.HTTP)
	if err != nil {
		database.Close()
		return nil, err
	}

	a := &app{
		config:  cfg,
		logger:  logger,
		clock:   clk,
		db:      database,
		options: options.NewSQLStore(database),
		plugins: plugins.NewSQLRegistry(database),
		cron:    cron.NewRegistry(database, clk, logger.With("component", "cron")),
		hooks:   hooks.NewRegistry(),
	}

	if err := a.wire(client); err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(client httpclient.Client) error {
	cfg := a.config

	var err error
	a.guardian, err = guardian.New(cfg.Plugin, a.cron, a.plugins, a.clock, a.logger.With("component", "guardian"))
	if err != nil {
		return err
	}

	a.reporter, err = reporter.New(cfg.Sync, a.options, a.plugins, client, a.logger.With("component", "reporter"))
	if err != nil {
		return err
	}

	source, err := update.NewSource(cfg.Update, client)
	if err != nil {
		return err
	}
	a.resolver, err = update.New(cfg.Update, source, a.plugins, a.options, a.clock, a.logger.With("component", "update"))
	if err != nil {
		return err
	}

	a.installer, err = installer.New(cfg.Installer, installer.OSMover{}, a.resolver, a.plugins, a.logger.With("component", "installer"))
	if err != nil {
		return err
	}

	// The inventory is refreshed before the guardian checks whether the
	// plugin is still active
	if cfg.Installer.Scan {
		a.hooks.AddAction(hooks.AdminInit, scanCallback, func(context.Context) error {
			_, err := a.scanPlugins()
			return err
		})
	}

	a.guardian.Attach(a.hooks)
	a.reporter.Attach(a.hooks)
	a.resolver.Attach(a.hooks)

	a.hooks.AddAction(hooks.Init, scheduleCheckCallback, func(context.Context) error {
		_, err := a.cron.Schedule(cfg.Update.CheckHook, cfg.Update.CheckSchedule, a.clock.Now())
		return err
	})

	return nil
}

// scanPlugins rebuilds the plugin inventory from the plugins directory
func (a *app) scanPlugins() (int, error) {
	found, err := plugins.Scan(os.DirFS(a.config.Installer.PluginsDir))
	if err != nil {
		return 0, err
	}
	if err := a.plugins.Sync(found); err != nil {
		return 0, err
	}
	a.logger.Debug("plugin inventory refreshed", "dir", a.config.Installer.PluginsDir, "plugins", len(found))
	return len(found), nil
}

// admin fires the hooks an administrative invocation fires
func (a *app) admin(ctx context.Context) {
	if err := a.hooks.Do(ctx, hooks.Init); err != nil {
		a.logger.Warn("init hooks failed", "error", err)
	}
	if err := a.hooks.Do(ctx, hooks.AdminInit); err != nil {
		a.logger.Warn("admin_init hooks failed", "error", err)
	}
}

// newScheduler builds the daemon loop over the wired registries
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.NewScheduler(a.config.Scheduler, a.cron, a.hooks, a.db, a.clock, a.logger.With("component", "scheduler"))
}

// Close releases the database
func (a *app) Close() error {
	return a.db.Close()
}
