package mcpclient

import (
	"errors"
	"fmt"
)

var errNotInitialized = errors.New("client not initialized")

// RPCError wraps a JSON-RPC error object returned by a server in response
// to a specific method call.
type RPCError struct {
	Server  string
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp server %s: %s: %s (code %d)", e.Server, e.Method, e.Message, e.Code)
}
