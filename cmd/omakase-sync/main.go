// omakase-sync keeps a site's plugin inventory reported to the Omakase
// management server and keeps the omakase-sync plugin itself up to date.
//
// The daemon ("run") owns the recurring jobs: it reports the inventory
// every five minutes, repairs the reporting job if it goes missing and
// periodically checks for a newer release. The remaining commands are
// one-shot administrative actions against the same state database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/livinlefevreloca/omakase-sync/internal/clock"
	"github.com/livinlefevreloca/omakase-sync/internal/config"
	"github.com/livinlefevreloca/omakase-sync/internal/options"
	"github.com/livinlefevreloca/omakase-sync/internal/reporter"
	_ "github.com/mattn/go-sqlite3"
)

const usage = `usage: omakase-sync [--config FILE] <command> [flags]

commands:
  run            run the daemon loop
  sync           report the site inventory once
  check-update   recompute the pending update offer
  debug          show a fresh view of the update lookup
  info           show plugin details for the update screen
  activate       activate the plugin and schedule reporting
  deactivate     stop reporting and deactivate the plugin
  settings       store the site id and api key
  install        finalize an unpacked plugin package
  scan           rebuild the plugin inventory from the plugins directory
  history        show recent runs of a scheduled hook
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var configFile string

	flagSet := pflag.NewFlagSet("omakase-sync", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to configuration file (TOML)")
	if err := flagSet.Parse(args); err != nil {
		return errUsage
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return errUsage
	}
	command, commandArgs := rest[0], rest[1:]

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Logging, stderr)

	a, err := newApp(cfg, logger, clock.Real())
	if err != nil {
		return err
	}
	defer a.Close()

	if command == "run" {
		return a.runDaemon(ctx)
	}

	a.admin(ctx)

	switch command {
	case "sync":
		return a.cmdSync(ctx, stdout)
	case "check-update":
		return a.cmdCheckUpdate(ctx, commandArgs, stdout, stderr)
	case "debug":
		return a.cmdDebug(ctx, stdout)
	case "info":
		return a.cmdInfo(ctx, commandArgs, stdout, stderr)
	case "activate":
		return a.cmdActivate(stdout)
	case "deactivate":
		return a.cmdDeactivate(stdout)
	case "settings":
		return a.cmdSettings(commandArgs, stdout, stderr)
	case "install":
		return a.cmdInstall(ctx, commandArgs, stdout, stderr)
	case "history":
		return a.cmdHistory(commandArgs, stdout, stderr)
	case "scan":
		n, err := a.scanPlugins()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "found %d plugins in %s\n", n, cfg.Installer.PluginsDir)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		return errUsage
	}
}

func (a *app) runDaemon(ctx context.Context) error {
	s, err := a.newScheduler()
	if err != nil {
		return err
	}

	a.logger.Info("omakase-sync is running",
		"hook", a.config.Plugin.Hook,
		"schedule", a.config.Plugin.ScheduleName,
		"update_source", a.config.Update.Source)

	if err := s.Run(ctx); err != nil {
		return err
	}
	a.logger.Info("shutting down gracefully")
	return nil
}

func (a *app) cmdSync(ctx context.Context, stdout io.Writer) error {
	result := a.reporter.RunSyncTick(ctx)
	switch result.Outcome {
	case reporter.Skipped:
		fmt.Fprintln(stdout, "skipped: site id or api key not configured")
		return nil
	case reporter.Delivered:
		fmt.Fprintf(stdout, "delivered (HTTP %d)\n", result.StatusCode)
		return nil
	default:
		return fmt.Errorf("sync failed: %w", result.Err)
	}
}

func (a *app) cmdCheckUpdate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var force bool
	flagSet := pflag.NewFlagSet("check-update", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVarP(&force, "force", "f", false, "bypass the release cache")
	if err := flagSet.Parse(args); err != nil {
		return errUsage
	}

	offer, err := a.resolver.RefreshOffer(ctx, force)
	if err != nil {
		return err
	}
	if offer == nil {
		fmt.Fprintln(stdout, "up to date")
		return nil
	}
	fmt.Fprintf(stdout, "update available: %s %s\n  package: %s\n", offer.Slug, offer.NewVersion, offer.Package)
	return nil
}

func (a *app) cmdDebug(ctx context.Context, stdout io.Writer) error {
	report := a.resolver.Debug(ctx)

	fmt.Fprintf(stdout, "Source:       %s\n", report.Source)
	fmt.Fprintf(stdout, "Local ver.:   %s\n", orNone(report.LocalVersion))
	fmt.Fprintf(stdout, "Latest tag:   %s\n", orNone(report.LatestVersion))
	fmt.Fprintf(stdout, "Package URL:  %s\n", orNone(report.PackageURL))
	fmt.Fprintf(stdout, "Assets found: %d\n", report.AssetCount)

	switch {
	case report.LatestVersion == "":
		fmt.Fprintf(stdout, "Status:       release lookup failed: %v\n", report.Err)
	case report.UpdateAvailable:
		fmt.Fprintln(stdout, "Status:       update available")
	default:
		fmt.Fprintln(stdout, "Status:       up to date")
	}
	if report.Err != nil && report.LatestVersion != "" {
		fmt.Fprintf(stdout, "Warning:      showing cached release: %v\n", report.Err)
	}
	return nil
}

func (a *app) cmdInfo(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	slug := a.resolver.Slug()
	flagSet := pflag.NewFlagSet("info", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&slug, "slug", slug, "plugin slug or file path to describe")
	if err := flagSet.Parse(args); err != nil {
		return errUsage
	}

	info := a.resolver.PluginInfo(ctx, slug)
	if info == nil {
		return fmt.Errorf("no details available for %q", slug)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (a *app) cmdActivate(stdout io.Writer) error {
	pluginFile := a.config.Plugin.PluginFile
	if err := a.plugins.Activate(pluginFile); err != nil {
		return fmt.Errorf("%w (is the plugin installed? try scan)", err)
	}
	if err := a.guardian.Activate(); err != nil {
		return err
	}

	next, _, err := a.cron.NextRun(a.config.Plugin.Hook)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "activated %s, next sync at %s\n", pluginFile, next.Format(time.RFC3339))
	return nil
}

func (a *app) cmdDeactivate(stdout io.Writer) error {
	pluginFile := a.config.Plugin.PluginFile
	if err := a.guardian.Deactivate(); err != nil {
		return err
	}
	if err := a.plugins.Deactivate(pluginFile); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "deactivated %s\n", pluginFile)
	return nil
}

func (a *app) cmdSettings(args []string, stdout, stderr io.Writer) error {
	var siteID, apiKey string
	flagSet := pflag.NewFlagSet("settings", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&siteID, "site-id", "", "site id assigned by the management server")
	flagSet.StringVar(&apiKey, "api-key", "", "api key assigned by the management server")
	if err := flagSet.Parse(args); err != nil {
		return errUsage
	}

	if flagSet.Changed("site-id") {
		if err := a.options.Set(options.KeySiteID, siteID); err != nil {
			return err
		}
	}
	if flagSet.Changed("api-key") {
		if err := a.options.Set(options.KeyAPIKey, apiKey); err != nil {
			return err
		}
	}

	creds, err := a.reporter.Credentials()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "site id: %s\napi key: %s\n", orNone(creds.SiteID), mask(creds.APIKey))
	return nil
}

func (a *app) cmdInstall(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var from string
	flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&from, "from", "", "directory the new package was unpacked to")
	if err := flagSet.Parse(args); err != nil {
		return errUsage
	}
	if from == "" {
		fmt.Fprintln(stderr, "install requires --from")
		return errUsage
	}

	result, err := a.installer.FinalizeInstall(ctx, from, a.config.Update.PluginFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "installed to %s\n", result.Destination)
	if result.ReactivateErr != nil {
		return fmt.Errorf("plugin installed but could not be reactivated: %w", result.ReactivateErr)
	}
	if result.Reactivated {
		fmt.Fprintln(stdout, "reactivated")
	}
	return nil
}

func (a *app) cmdHistory(args []string, stdout, stderr io.Writer) error {
	hook := a.config.Plugin.Hook
	var limit int
	flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&hook, "hook", hook, "hook whose runs to show")
	flagSet.IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	if err := flagSet.Parse(args); err != nil {
		return errUsage
	}

	runs, err := a.db.GetJobRuns(hook, limit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintf(stdout, "no runs recorded for %s\n", hook)
		return nil
	}

	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %s", r.ScheduledAt.Local().Format(time.RFC3339), r.Status, r.RunID)
		if r.Error != nil {
			line += "  " + *r.Error
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func mask(s string) string {
	if s == "" {
		return "(none)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
