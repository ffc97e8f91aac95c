package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/moc/internal/jsonrpc"
)

// StdioConfig configures a subprocess-backed Transport.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string
}

// StdioTransport spawns an MCP server subprocess and frames JSON-RPC
// messages as newline-terminated JSON over its stdin/stdout, draining
// stderr into the host log.
//
// Unlike the reference host's stdio transport, Requests()/Respond() are
// fully implemented here: a line with both "id" and "method" is a
// server-initiated request (used for MCP sampling) and is routed to the
// requests channel instead of being silently mis-parsed as a notification.
type StdioTransport struct {
	cfg    StdioConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	writeMu sync.Mutex
	pending *pendingMap

	notifications chan jsonrpc.Notification
	requests      chan jsonrpc.Request

	state   State
	stateMu sync.Mutex
	conn    connFlag

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewStdioTransport constructs a stdio Transport; Connect spawns the
// process.
func NewStdioTransport(cfg StdioConfig, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		cfg:           cfg,
		logger:        logger,
		pending:       newPendingMap(),
		notifications: make(chan jsonrpc.Notification, 100),
		requests:      make(chan jsonrpc.Request, 100),
		stop:          make(chan struct{}),
		state:         StateDisconnected,
	}
}

func (t *StdioTransport) setState(s State) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

func (t *StdioTransport) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

func (t *StdioTransport) Connect(ctx context.Context) error {
	t.setState(StateConnecting)

	cmd := exec.CommandContext(context.Background(), t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.WorkDir
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("stdio transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("stdio transport: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("stdio transport: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("stdio transport: start %s: %w", t.cfg.Command, err)
	}

	t.cmd, t.stdin, t.stdout, t.stderr = cmd, stdin, stdout, stderr
	t.conn.set(true)
	t.setState(StateReady)

	t.wg.Add(2)
	go t.readLoop()
	go t.drainStderr()

	return nil
}

func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer t.teardown()

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t.processLine([]byte(line))
	}
}

func (t *StdioTransport) processLine(line []byte) {
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
		t.logger.Debug("discarding malformed line", "line", string(line))
	}
}

func (t *StdioTransport) drainStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		t.logger.Debug("mcp server stderr", "command", t.cfg.Command, "line", scanner.Text())
	}
}

func (t *StdioTransport) teardown() {
	t.conn.set(false)
	t.setState(StateClosed)
	t.pending.closeAll()
}

func (t *StdioTransport) Request(ctx context.Context, method string, params any, timeout time.Duration) (jsonrpc.Response, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	id, waiter := t.pending.register()
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		t.pending.remove(id)
		return jsonrpc.Response{}, err
	}

	if err := t.writeLine(req); err != nil {
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
		return jsonrpc.Response{}, fmt.Errorf("stdio transport: request %q timed out after %s", method, timeout)
	case <-t.stop:
		return jsonrpc.Response{}, ErrClosed
	}
}

func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return t.writeLine(n)
}

func (t *StdioTransport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.stdin == nil {
		return ErrClosed
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("stdio transport: write: %w", err)
	}
	return nil
}

func (t *StdioTransport) Notifications() <-chan jsonrpc.Notification { return t.notifications }
func (t *StdioTransport) Requests() <-chan jsonrpc.Request            { return t.requests }

// Respond writes a JSON-RPC response back on stdin, mirroring Request's
// write path. This answers a server-initiated request (e.g. a sampling
// callback) delivered on Requests().
func (t *StdioTransport) Respond(ctx context.Context, id jsonrpc.ID, result any, rpcErr *jsonrpc.Error) error {
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
	return t.writeLine(resp)
}

func (t *StdioTransport) Close() error {
	t.setState(StateClosing)
	close(t.stop)

	if t.stdin != nil {
		_ = t.stdin.Close() // stdin closure is MCP's natural shutdown signal
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
	}

	if t.cmd != nil {
		_ = t.cmd.Wait()
	}
	t.teardown()
	return nil
}
