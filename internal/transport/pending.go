package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/moc/internal/jsonrpc"
)

// ErrClosed is returned to every pending waiter when the owning Transport
// closes.
var ErrClosed = errors.New("transport closed")

// pendingMap is the guarded id->waiter map shared by both Transport
// implementations. Invariant (spec §3/§8.1): an entry exists from the
// moment a request is written until exactly one of {matching response,
// timeout, Close} removes it.
type pendingMap struct {
	mu      sync.Mutex
	waiters map[string]chan jsonrpc.Response
	nextID  int64
}

func newPendingMap() *pendingMap {
	return &pendingMap{waiters: make(map[string]chan jsonrpc.Response)}
}

// register allocates a fresh monotonic id and a one-shot waiter channel
// for it.
func (p *pendingMap) register() (jsonrpc.ID, chan jsonrpc.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := jsonrpc.NewIntID(p.nextID)
	ch := make(chan jsonrpc.Response, 1)
	p.waiters[id.String()] = ch
	return id, ch
}

// resolve delivers resp to the waiter for its id, if one is still
// registered. Unknown ids are reported via ok=false so the caller can log
// and discard per spec §4.1.
func (p *pendingMap) resolve(resp jsonrpc.Response) (ok bool) {
	p.mu.Lock()
	ch, found := p.waiters[resp.ID.String()]
	if found {
		delete(p.waiters, resp.ID.String())
	}
	p.mu.Unlock()
	if !found {
		return false
	}
	ch <- resp
	return true
}

// remove drops the waiter for id without delivering anything (used on
// timeout, where the caller has already given up).
func (p *pendingMap) remove(id jsonrpc.ID) {
	p.mu.Lock()
	delete(p.waiters, id.String())
	p.mu.Unlock()
}

// closeAll fails every still-pending waiter with ErrClosed and empties the
// map.
func (p *pendingMap) closeAll() {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan jsonrpc.Response)
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- jsonrpc.Response{Error: &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: ErrClosed.Error()}}
	}
}

// len reports the number of currently outstanding requests; exposed only
// for tests asserting invariant #1.
func (p *pendingMap) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// connFlag is a tiny atomic bool shared by both transport implementations
// for the Connected()-style check without a full state machine read.
type connFlag struct{ v int32 }

func (c *connFlag) set(b bool) {
	if b {
		atomic.StoreInt32(&c.v, 1)
	} else {
		atomic.StoreInt32(&c.v, 0)
	}
}

func (c *connFlag) get() bool { return atomic.LoadInt32(&c.v) == 1 }
