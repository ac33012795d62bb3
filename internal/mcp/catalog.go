package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Catalog is the set of tools one backend advertised.
type Catalog struct {
	tools map[string]*mcp.Tool

	mu       sync.Mutex
	resolved map[string]*jsonschema.Resolved
}

// NewCatalog indexes tools by name. Later duplicates win.
func NewCatalog(tools []*mcp.Tool) *Catalog {
	c := &Catalog{
		tools:    make(map[string]*mcp.Tool, len(tools)),
		resolved: make(map[string]*jsonschema.Resolved, len(tools)),
	}

	for _, t := range tools {
		if t != nil {
			c.tools[t.Name] = t
		}
	}

	return c
}

// Tools returns the tools sorted by name.
func (c *Catalog) Tools() []*mcp.Tool {
	out := make([]*mcp.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Lookup returns the named tool.
func (c *Catalog) Lookup(name string) (*mcp.Tool, bool) {
	t, ok := c.tools[name]

	return t, ok
}

// Validate checks arguments against the named tool's input schema. A tool
// the catalog does not know, or one without a schema, is not checked.
func (c *Catalog) Validate(name string, arguments map[string]any) error {
	resolved, err := c.schemaFor(name)
	if err != nil {
		return err
	}

	if resolved == nil {
		return nil
	}

	if arguments == nil {
		arguments = map[string]any{}
	}

	if err := resolved.Validate(arguments); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	return nil
}

func (c *Catalog) schemaFor(name string) (*jsonschema.Resolved, error) {
	tool, ok := c.tools[name]
	if !ok || tool.InputSchema == nil {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.resolved[name]; ok {
		return r, nil
	}

	schema, err := toJSONSchema(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: resolve input schema: %w", name, err)
	}

	c.resolved[name] = resolved

	return resolved, nil
}

// toJSONSchema converts a decoded inputSchema of any shape to a
// *jsonschema.Schema by round-tripping through JSON.
func toJSONSchema(v any) (*jsonschema.Schema, error) {
	if s, ok := v.(*jsonschema.Schema); ok {
		return s, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}

	return &schema, nil
}
