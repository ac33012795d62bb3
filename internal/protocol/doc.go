// Package protocol correlates JSON-RPC requests with their responses over a
// single backend process.
//
// A Controller assigns each outbound call a fresh integer id, records it as
// pending, and resolves it exactly once: by the matching response, by its
// timeout, by cancellation of the caller's context, or by the transport
// closing underneath it. Responses whose id is no longer pending are dropped.
//
// Example usage:
//
//	ctrl := protocol.NewController(log, "alpha", process)
//	ctrl.Start()
//	defer ctrl.Stop()
//
//	result, err := ctrl.Call(ctx, "tools/list", nil, 30*time.Second)
package protocol
