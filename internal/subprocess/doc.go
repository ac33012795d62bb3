// Package subprocess supervises the backend processes attached inside
// containers.
//
// A Supervisor checks that the target container is running and attaches a
// Process to it through the configured runtime. A Process owns the three
// pipes: it serializes writes to stdin, forwards stderr to the diagnostic
// sink, decodes stdout into messages, and reports exactly one terminal event
// when the process goes away.
package subprocess
