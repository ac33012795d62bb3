// Package mcp builds and decodes the Model Context Protocol payloads the
// multiplexer exchanges with backends: the initialize handshake, tools/list,
// tools/call, and ping. Payload types come from the official go-sdk; this
// package only drives them over a Caller.
//
// A Catalog holds the tools one backend advertised and can validate call
// arguments against each tool's input schema.
package mcp
