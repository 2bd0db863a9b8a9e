// Package installer finishes a plugin update once the host has unpacked
// the new package: it moves the files into the plugin's folder, records the
// installed version, drops the pending update notice and restores the
// plugin's activation state.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/livinlefevreloca/omakase-sync/internal/plugins"
	"github.com/livinlefevreloca/omakase-sync/internal/update"
)

// Mover relocates an unpacked package. Overwrite semantics belong to the
// implementation.
type Mover interface {
	Move(src, dst string) error
}

// UpdateNotifier owns the pending "update available" indicator
type UpdateNotifier interface {
	PendingOffer() (*update.UpdateOffer, error)
	ClearPendingUpdate(ctx context.Context) error
}

// PluginRegistry is the part of the plugin registry the installer drives
type PluginRegistry interface {
	IsActive(filePath string) (bool, error)
	Activate(filePath string) error
	SetVersion(filePath, version string) error
}

// Config holds installer settings
type Config struct {
	// PluginsDir is the directory plugin folders live in
	PluginsDir string `toml:"plugins_dir"`
	// Scan rebuilds the plugin inventory from PluginsDir on admin_init
	Scan bool `toml:"scan"`
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.PluginsDir == "" {
		return fmt.Errorf("plugins_dir must not be empty")
	}
	return nil
}

// Result describes a finished install
type Result struct {
	Destination string
	Reactivated bool
	// ReactivateErr is set when the plugin was active but could not be
	// activated again. The files are already in place.
	ReactivateErr error
}

// Installer finalizes unpacked plugin packages
type Installer struct {
	config   Config
	mover    Mover
	notifier UpdateNotifier
	plugins  PluginRegistry
	logger   *slog.Logger
}

// New creates an installer
func New(config Config, mover Mover, notifier UpdateNotifier, registry PluginRegistry, logger *slog.Logger) (*Installer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid installer config: %w", err)
	}

	return &Installer{
		config:   config,
		mover:    mover,
		notifier: notifier,
		plugins:  registry,
		logger:   logger,
	}, nil
}

// Target returns the permanent folder for pluginFile
func (i *Installer) Target(pluginFile string) (string, error) {
	slug := plugins.Slug(pluginFile)
	if slug == "" {
		return "", fmt.Errorf("plugin %q does not live in its own folder", pluginFile)
	}
	return filepath.Join(i.config.PluginsDir, slug), nil
}

// FinalizeInstall moves tempDestination into the folder of pluginFile and
// restores the plugin's state. A failed move is returned as an error;
// everything after the move is best effort.
func (i *Installer) FinalizeInstall(ctx context.Context, tempDestination, pluginFile string) (*Result, error) {
	target, err := i.Target(pluginFile)
	if err != nil {
		return nil, err
	}

	wasActive, err := i.plugins.IsActive(pluginFile)
	if err != nil {
		i.logger.Warn("failed to read plugin state before install",
			"plugin", pluginFile,
			"error", err)
	}

	if filepath.Clean(tempDestination) != target {
		if err := i.mover.Move(tempDestination, target); err != nil {
			return nil, fmt.Errorf("failed to move %s to %s: %w", tempDestination, target, err)
		}
	}
	i.logger.Info("installed plugin package", "plugin", pluginFile, "destination", target)

	result := &Result{Destination: target}

	offer, err := i.notifier.PendingOffer()
	if err != nil {
		i.logger.Warn("failed to read pending update", "plugin", pluginFile, "error", err)
	}
	if offer != nil && offer.Slug == pluginFile {
		if err := i.plugins.SetVersion(pluginFile, offer.NewVersion); err != nil {
			i.logger.Warn("failed to record installed version",
				"plugin", pluginFile,
				"version", offer.NewVersion,
				"error", err)
		}
	}

	if err := i.notifier.ClearPendingUpdate(ctx); err != nil {
		i.logger.Warn("failed to clear pending update", "plugin", pluginFile, "error", err)
	}

	if wasActive {
		if err := i.plugins.Activate(pluginFile); err != nil {
			i.logger.Error("failed to reactivate plugin after install",
				"plugin", pluginFile,
				"error", err)
			result.ReactivateErr = err
		} else {
			result.Reactivated = true
		}
	}

	return result, nil
}
