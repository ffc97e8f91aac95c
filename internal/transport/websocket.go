package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/moc/internal/jsonrpc"
)

// WebsocketConfig configures a websocket-backed Transport, the alternative
// to subprocess stdio for MCP servers that front a persistent network
// service rather than a spawned process.
type WebsocketConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	Header            map[string]string
}

// WebsocketTransport frames JSON-RPC messages as one text message per
// websocket frame, reusing the same pendingMap correlation scheme as
// StdioTransport.
type WebsocketTransport struct {
	cfg    WebsocketConfig
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	writeMu sync.Mutex
	pending *pendingMap

	notifications chan jsonrpc.Notification
	requests      chan jsonrpc.Request

	state   State
	stateMu sync.Mutex
	connFl  connFlag

	stop chan struct{}
	done chan struct{}
}

func NewWebsocketTransport(cfg WebsocketConfig, logger *slog.Logger) *WebsocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &WebsocketTransport{
		cfg:           cfg,
		logger:        logger,
		pending:       newPendingMap(),
		notifications: make(chan jsonrpc.Notification, 100),
		requests:      make(chan jsonrpc.Request, 100),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		state:         StateDisconnected,
	}
}

func (t *WebsocketTransport) setState(s State) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

func (t *WebsocketTransport) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

func (t *WebsocketTransport) Connect(ctx context.Context) error {
	t.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	header := make(map[string][]string, len(t.cfg.Header))
	for k, v := range t.cfg.Header {
		header[k] = []string{v}
	}

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("websocket transport: dial %s: %w", t.cfg.URL, err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.connFl.set(true)
	t.setState(StateReady)

	go t.readLoop()
	return nil
}

func (t *WebsocketTransport) readLoop() {
	defer close(t.done)
	defer t.teardown()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("websocket read error", "url", t.cfg.URL, "error", err)
			}
			return
		}
		t.processLine(data)
	}
}

func (t *WebsocketTransport) processLine(line []byte) {
	kind, req, resp, notif := jsonrpc.Sniff(line)
	switch kind {
	case jsonrpc.KindResponse:
		if ok := t.pending.resolve(resp); !ok {
			t.logger.Warn("discarding response with unknown id", "id", resp.ID.String())
		}
	case jsonrpc.KindRequest:
		select {
		case t.requests <- req:
		default:
			t.logger.Warn("dropping server-initiated request, requests channel full", "method", req.Method)
		}
	case jsonrpc.KindNotification:
		select {
		case t.notifications <- notif:
		default:
			t.logger.Warn("dropping notification, channel full", "method", notif.Method)
		}
	default:
		t.logger.Debug("discarding malformed message", "line", string(line))
	}
}

func (t *WebsocketTransport) teardown() {
	t.connFl.set(false)
	t.setState(StateClosed)
	t.pending.closeAll()
}

func (t *WebsocketTransport) Request(ctx context.Context, method string, params any, timeout time.Duration) (jsonrpc.Response, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	id, waiter := t.pending.register()
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		t.pending.remove(id)
		return jsonrpc.Response{}, err
	}

	if err := t.writeMessage(req); err != nil {
		t.pending.remove(id)
		return jsonrpc.Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		if resp.Error != nil && resp.Error.Message == ErrClosed.Error() {
			return jsonrpc.Response{}, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		t.pending.remove(id)
		return jsonrpc.Response{}, ctx.Err()
	case <-timer.C:
		t.pending.remove(id)
		return jsonrpc.Response{}, fmt.Errorf("websocket transport: request %q timed out after %s", method, timeout)
	case <-t.stop:
		return jsonrpc.Response{}, ErrClosed
	}
}

func (t *WebsocketTransport) Notify(ctx context.Context, method string, params any) error {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return t.writeMessage(n)
}

func (t *WebsocketTransport) writeMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket transport: write: %w", err)
	}
	return nil
}

func (t *WebsocketTransport) Notifications() <-chan jsonrpc.Notification { return t.notifications }
func (t *WebsocketTransport) Requests() <-chan jsonrpc.Request            { return t.requests }

func (t *WebsocketTransport) Respond(ctx context.Context, id jsonrpc.ID, result any, rpcErr *jsonrpc.Error) error {
	resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resp.Result = raw
	}
	return t.writeMessage(resp)
}

func (t *WebsocketTransport) Close() error {
	t.setState(StateClosing)
	close(t.stop)

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
	}

	t.teardown()
	return nil
}
