package cli

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wagiedev/stdiomux/internal/errors"
)

// VersionCheckTimeout is the timeout for the engine version probe.
const VersionCheckTimeout = 2 * time.Second

// Engines lists the supported container engine binaries in preference order.
var Engines = []string{"docker", "podman"}

// Config holds configuration for engine discovery.
type Config struct {
	// EnginePath is an explicit binary path that skips the search.
	EnginePath string

	// Engine restricts the search to one engine name. Empty searches Engines
	// in order.
	Engine string

	// SkipVersionCheck skips the version probe during discovery.
	// Can also be controlled via STDIOMUX_SKIP_VERSION_CHECK env var.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	// If nil, a default no-op logger is used.
	Logger *slog.Logger
}

// Discoverer locates the container engine binary.
type Discoverer interface {
	// Discover returns the absolute path to the engine binary or an error.
	Discover(ctx context.Context) (string, error)
}

// discoverer implements the Discoverer interface.
type discoverer struct {
	cfg *Config
	log *slog.Logger
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new engine discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	return &discoverer{
		cfg: cfg,
		log: log,
	}
}

// Discover locates the engine binary and logs its version.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	d.log.Debug("Discovering container engine binary")

	path, err := d.find()
	if err != nil {
		d.log.Error("Failed to find container engine", "error", err)

		return "", err
	}

	d.log.Debug("Found container engine binary", "engine_path", path)

	d.checkVersion(ctx, path)

	return path, nil
}

// find locates the engine binary.
func (d *discoverer) find() (string, error) {
	// If explicit path provided, use it and only it
	if d.cfg.EnginePath != "" {
		d.log.Debug("Using explicit engine path", "engine_path", d.cfg.EnginePath)

		if _, err := os.Stat(d.cfg.EnginePath); err == nil {
			return d.cfg.EnginePath, nil
		}

		return "", &errors.EngineNotFoundError{SearchedPaths: []string{d.cfg.EnginePath}}
	}

	names := Engines
	if d.cfg.Engine != "" {
		names = []string{d.cfg.Engine}
	}

	searchedPaths := make([]string, 0, 4*len(names))

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			d.log.Debug("Found engine in PATH", "engine", name, "path", path)

			return path, nil
		}

		searchedPaths = append(searchedPaths, "$PATH/"+name)

		for _, path := range commonPaths(name) {
			searchedPaths = append(searchedPaths, path)

			if _, err := os.Stat(path); err == nil {
				d.log.Debug("Found engine at common path", "path", path)

				return path, nil
			}
		}
	}

	d.log.Warn("Container engine not found in any searched paths", "searched_paths", searchedPaths)

	return "", &errors.EngineNotFoundError{SearchedPaths: searchedPaths}
}

func commonPaths(name string) []string {
	paths := []string{
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/usr/bin", name),
		filepath.Join("/opt/homebrew/bin", name),
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".local/bin", name))
	}

	return paths
}

// checkVersion runs "<engine> --version" and logs the result. Failures are
// ignored: the version is informational only.
func (d *discoverer) checkVersion(ctx context.Context, path string) {
	if d.cfg.SkipVersionCheck || os.Getenv("STDIOMUX_SKIP_VERSION_CHECK") != "" {
		d.log.Debug("Skipping engine version check")

		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the engine path comes from discovery, not user input
	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		d.log.Debug("Engine version check failed", "error", err)

		return
	}

	d.log.Debug("Container engine version", "version", strings.TrimSpace(string(output)))
}
