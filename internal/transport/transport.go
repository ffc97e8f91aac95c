// Package transport implements C1: bidirectional JSON-RPC 2.0 over a
// duplex byte stream, with request/response correlation by id.
package transport

import (
	"context"
	"time"

	"github.com/haasonsaas/moc/internal/jsonrpc"
)

// State is the Transport lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Transport is the duplex byte-stream abstraction shared by the stdio and
// websocket implementations. A single Transport serves both
// client-initiated requests and server-initiated notifications/requests
// (the latter used by MCP sampling).
type Transport interface {
	// Connect dials or spawns the peer and transitions Disconnected ->
	// Connecting -> Ready. It does not perform the MCP handshake itself;
	// that is the Client's job (see internal/mcpclient).
	Connect(ctx context.Context) error

	// Request sends method/params and waits for the matching response,
	// honoring timeout (DefaultRequestTimeout if zero) and ctx
	// cancellation.
	Request(ctx context.Context, method string, params any, timeout time.Duration) (jsonrpc.Response, error)

	// Notify performs a fire-and-forget write.
	Notify(ctx context.Context, method string, params any) error

	// Notifications delivers every inbound Notification in receipt order.
	Notifications() <-chan jsonrpc.Notification

	// Requests delivers inbound server-initiated Requests (e.g.
	// sampling/createMessage) in receipt order. For transports that never
	// receive server-initiated requests this channel is simply never
	// written to.
	Requests() <-chan jsonrpc.Request

	// Respond answers a server-initiated Request previously delivered on
	// Requests().
	Respond(ctx context.Context, id jsonrpc.ID, result any, rpcErr *jsonrpc.Error) error

	// State reports the current lifecycle state.
	State() State

	// Close flushes the outbound queue, closes the stream, and cancels
	// all pending waiters with ErrClosed.
	Close() error
}
