// Package cli locates the container engine binary and builds the command
// lines used to attach processes inside running containers.
//
// # Engine Discovery
//
// The Discoverer interface locates the engine binary:
//
//	discoverer := cli.NewDiscoverer(&cli.Config{
//	    EnginePath: "",           // Optional explicit path
//	    Logger:     slog.Default(),
//	})
//	enginePath, err := discoverer.Discover(ctx)
//
// Discovery searches in the following order:
//  1. Explicit path in Config.EnginePath (if provided)
//  2. The system PATH, for docker then podman (or Config.Engine only)
//  3. Common installation directories (/usr/local/bin, /usr/bin, /opt/homebrew/bin, ~/.local/bin)
//
// # Command Building
//
//	args := cli.BuildExecArgs("alpha-svc", "/app", []string{"node", "server.js"})
//	// exec -i -w /app alpha-svc node server.js
package cli
