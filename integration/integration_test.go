//go:build integration

// Integration tests run against a real container engine. They need:
//
//	STDIOMUX_IT_CONTAINER  a running container with an MCP server installed
//	STDIOMUX_IT_COMMAND    the command starting the server on stdio
//	STDIOMUX_IT_TOOL       optional tool to call, with no arguments
package integration

import (
	"errors"
	"os"
	"strings"
	"testing"

	stdiomux "github.com/wagiedev/stdiomux"
)

// skipIfEngineNotInstalled skips the test if the error indicates no engine was found.
func skipIfEngineNotInstalled(t *testing.T, err error) {
	t.Helper()

	if _, ok := errors.AsType[*stdiomux.EngineNotFoundError](err); ok {
		t.Skip("No container engine installed")
	}
}

// testEndpoint returns the endpoint configured through the environment, or
// skips the test.
func testEndpoint(t *testing.T, name string) stdiomux.EndpointConfig {
	t.Helper()

	container := os.Getenv("STDIOMUX_IT_CONTAINER")
	command := strings.Fields(os.Getenv("STDIOMUX_IT_COMMAND"))

	if container == "" || len(command) == 0 {
		t.Skip("STDIOMUX_IT_CONTAINER and STDIOMUX_IT_COMMAND not set")
	}

	return stdiomux.EndpointConfig{
		Name:      name,
		Container: container,
		Command:   command,
	}
}

// missingEndpoint points at a container that does not exist.
func missingEndpoint(name string) stdiomux.EndpointConfig {
	return stdiomux.EndpointConfig{
		Name:      name,
		Container: "stdiomux-it-does-not-exist",
		Command:   []string{"true"},
	}
}
