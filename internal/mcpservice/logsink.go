package mcpservice

import (
	"sync"

	"github.com/haasonsaas/moc/internal/mcpclient"
)

// LogSink receives log/progress notifications forwarded from any running
// MCP server while it is the active sink.
type LogSink interface {
	HandleLog(server string, msg mcpclient.LogMessage)
	HandleProgress(server string, notif mcpclient.ProgressNotification)
}

// logSinkStack implements the per-request sink stack discipline: only the
// top of the stack receives forwarded notifications. A sink is pushed when
// a request starts and popped when it ends; the underlying
// mcpclient.Client connections are shared across the whole service rather
// than opened per request. Notifications are not routed by request: while
// requests overlap, every notification, including one produced by an
// earlier request's tool call, goes to the most recently pushed sink.
type logSinkStack struct {
	mu    sync.Mutex
	stack []LogSink
}

func newLogSinkStack() *logSinkStack {
	return &logSinkStack{}
}

// push installs sink on top of the stack and returns a pop function the
// caller must invoke exactly once, typically via defer, when the request
// that owns sink completes.
func (s *logSinkStack) push(sink LogSink) (pop func()) {
	s.mu.Lock()
	s.stack = append(s.stack, sink)
	depth := len(s.stack)
	s.mu.Unlock()

	var popped bool
	return func() {
		if popped {
			return
		}
		popped = true
		s.mu.Lock()
		defer s.mu.Unlock()
		// Normal case: this sink is still on top. Defensive case: a
		// caller popped out of order (a bug elsewhere); drop by depth
		// recorded at push time rather than corrupting the stack.
		if depth <= len(s.stack) && depth > 0 {
			s.stack = s.stack[:depth-1]
		}
	}
}

func (s *logSinkStack) current() LogSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return discardSink{}
	}
	return s.stack[len(s.stack)-1]
}

func (s *logSinkStack) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// discardSink is the LogSink used when nothing is currently listening;
// notifications simply vanish rather than panicking on a nil sink.
type discardSink struct{}

func (discardSink) HandleLog(string, mcpclient.LogMessage)                 {}
func (discardSink) HandleProgress(string, mcpclient.ProgressNotification) {}
