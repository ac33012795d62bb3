package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/stdiomux/internal/errors"
)

// TestDiscoverer_NotFound tests that an invalid engine path returns EngineNotFoundError.
func TestDiscoverer_NotFound(t *testing.T) {
	discoverer := NewDiscoverer(&Config{
		EnginePath:       "/nonexistent/path/to/docker",
		SkipVersionCheck: true,
		Logger:           slog.Default(),
	})

	_, err := discoverer.Discover(context.Background())

	require.Error(t, err)
	require.IsType(t, &errors.EngineNotFoundError{}, err)
}

// TestDiscoverer_ExplicitPath tests discovery with an explicit path.
func TestDiscoverer_ExplicitPath(t *testing.T) {
	fakeEngine := filepath.Join(t.TempDir(), "docker")

	err := os.WriteFile(fakeEngine, []byte("#!/bin/sh\necho Docker version 27.0.0"), 0o755)
	require.NoError(t, err)

	discoverer := NewDiscoverer(&Config{
		EnginePath: fakeEngine,
		Logger:     slog.Default(),
	})

	path, err := discoverer.Discover(context.Background())

	require.NoError(t, err)
	require.Equal(t, fakeEngine, path)
}

// TestDiscoverer_SearchesPath tests that the engine is found through PATH.
func TestDiscoverer_SearchesPath(t *testing.T) {
	dir := t.TempDir()
	fakeEngine := filepath.Join(dir, "podman")

	require.NoError(t, os.WriteFile(fakeEngine, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", dir)

	discoverer := NewDiscoverer(&Config{Engine: "podman", SkipVersionCheck: true})

	path, err := discoverer.Discover(context.Background())

	require.NoError(t, err)
	require.Equal(t, fakeEngine, path)
}

func TestBuildExecArgs(t *testing.T) {
	require.Equal(t,
		[]string{"exec", "-i", "alpha-svc", "node", "server.js"},
		BuildExecArgs("alpha-svc", "", []string{"node", "server.js"}),
	)

	require.Equal(t,
		[]string{"exec", "-i", "-w", "/app", "alpha-svc", "python", "-m", "beta"},
		BuildExecArgs("alpha-svc", "/app", []string{"python", "-m", "beta"}),
	)
}

func TestBuildEnvironment(t *testing.T) {
	base := []string{"PATH=/usr/bin"}

	require.Equal(t, base, BuildEnvironment(base, ""))
	require.Equal(t,
		[]string{"PATH=/usr/bin", "DOCKER_HOST=unix:///run/user/1000/docker.sock"},
		BuildEnvironment(base, "unix:///run/user/1000/docker.sock"),
	)
	require.Len(t, base, 1)
}
