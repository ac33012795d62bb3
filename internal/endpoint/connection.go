package endpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	internalmcp "github.com/wagiedev/stdiomux/internal/mcp"
	"github.com/wagiedev/stdiomux/internal/protocol"
	"github.com/wagiedev/stdiomux/internal/subprocess"
)

// Connection is one process instance of an endpoint together with its
// correlation engine. It is never reused: a reconnect builds a new one.
type Connection struct {
	// ID identifies this process instance.
	ID        string
	StartedAt time.Time

	process    *subprocess.Process
	controller *protocol.Controller

	mu      sync.Mutex
	server  *mcp.InitializeResult
	catalog *internalmcp.Catalog

	closeOnce sync.Once
}

func newConnection(log *slog.Logger, id string, process *subprocess.Process) *Connection {
	ctrl := protocol.NewController(log, process.Endpoint(), process)

	// Servers may ping the client too.
	ctrl.RegisterHandler(internalmcp.MethodPing, func(context.Context, json.RawMessage) (any, error) {
		return struct{}{}, nil
	})
	ctrl.Start()

	return &Connection{
		ID:         id,
		StartedAt:  time.Now(),
		process:    process,
		controller: ctrl,
	}
}

// Controller returns the correlation engine of this instance.
func (c *Connection) Controller() *protocol.Controller {
	return c.controller
}

// Pid returns the process id of this instance.
func (c *Connection) Pid() int {
	return c.process.Pid()
}

// Exited is closed when the process is gone.
func (c *Connection) Exited() <-chan struct{} {
	return c.process.Done()
}

// Server returns what the backend reported during the handshake.
func (c *Connection) Server() *mcp.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.server
}

// Catalog returns the cached tools, or nil if none were fetched yet.
func (c *Connection) Catalog() *internalmcp.Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.catalog
}

func (c *Connection) handshake(ctx context.Context, req internalmcp.HandshakeRequest, timeout time.Duration) error {
	result, err := internalmcp.Handshake(ctx, c.controller, req, timeout)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.server = result
	c.mu.Unlock()

	return nil
}

// refreshCatalog fetches tools/list and caches the result on this instance.
func (c *Connection) refreshCatalog(ctx context.Context, timeout time.Duration) (*internalmcp.Catalog, error) {
	tools, err := internalmcp.ListTools(ctx, c.controller, timeout)
	if err != nil {
		return nil, err
	}

	catalog := internalmcp.NewCatalog(tools)

	c.mu.Lock()
	c.catalog = catalog
	c.mu.Unlock()

	return catalog, nil
}

// close fails every pending call with TransportClosed and kills the process.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.controller.Stop()
		_ = c.process.Close()
	})
}
