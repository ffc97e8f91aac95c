package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/moc/internal/jsonrpc"
)

// echoServerScript is a minimal fake MCP server: for every request line it
// reads, it writes back a response reusing the same id. Good enough to
// exercise the framing and correlation logic without a real MCP binary.
const echoServerScript = `while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  if [ -n "$id" ]; then
    printf '{"jsonrpc":"2.0","id":%s,"result":{"echoed":true}}\n' "$id"
  fi
done`

func newEchoTransport(t *testing.T) *StdioTransport {
	t.Helper()
	tr := NewStdioTransport(StdioConfig{Command: "sh", Args: []string{"-c", echoServerScript}}, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestStdioTransportRequestResponse(t *testing.T) {
	tr := newEchoTransport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := tr.Request(ctx, "ping", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var result struct{ Echoed bool }
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Echoed {
		t.Fatalf("got %+v, want Echoed=true", result)
	}
}

func TestStdioTransportTimeout(t *testing.T) {
	// A server that never answers exercises the timeout path.
	tr := NewStdioTransport(StdioConfig{Command: "sh", Args: []string{"-c", "cat >/dev/null"}}, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Close()

	_, err := tr.Request(context.Background(), "ping", nil, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if tr.pending.len() != 0 {
		t.Fatalf("pending map leaked entry after timeout: len=%d", tr.pending.len())
	}
}

func TestStdioTransportCloseFailsPending(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "sh", Args: []string{"-c", "cat >/dev/null"}}, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Request(context.Background(), "ping", nil, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Fatalf("got %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not unblock after Close")
	}
}

func TestStdioTransportUnknownResponseIDDiscarded(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "sh", Args: []string{"-c", echoServerScript}}, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Close()

	// Feed a response for an id nobody registered; must not panic or block.
	tr.processLine([]byte(`{"jsonrpc":"2.0","id":999999,"result":{}}`))

	if got := jsonrpc.NewIntID(999999).String(); got != "999999" {
		t.Fatalf("sanity check failed: %s", got)
	}
}
