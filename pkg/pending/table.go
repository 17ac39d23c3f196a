// Package pending tracks in-flight requests awaiting their responses.
//
// A Table maps correlation ids to Calls. Every Call is resolved exactly once,
// by whichever comes first:
//   - a matching response routed in by the connection reader (Resolve)
//   - a transport failure for that request (Fail)
//   - its timeout watchdog, which resolves it with a synthetic TIMEOUT response
//   - the table being closed, which resolves it with a synthetic
//     CONNECTION_CLOSED response
//
// The losing side of any race is a no-op: a response that arrives after its
// call timed out is reported as unmatched and never reaches the caller.
//
// Example:
//
//	table := pending.NewTable()
//
//	call, err := table.Register("a1", 2*time.Second)
//	if err != nil {
//		return err
//	}
//	// ... send the request ...
//	resp, err := call.Wait(ctx)
package pending

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cachemir/muxcache/pkg/protocol"
)

var (
	// ErrTimeout resolves calls whose deadline passed without a response.
	ErrTimeout = errors.New("request timed out")

	// ErrDuplicateID is returned by Register when the id is already pending.
	ErrDuplicateID = errors.New("request id already pending")

	// ErrClosed is the default cause reported once a table is closed.
	ErrClosed = errors.New("pending table closed")
)

// Call is the completion handle of one in-flight request.
type Call struct {
	ID      string
	Created time.Time

	done      chan struct{}
	completed atomic.Bool

	mu    sync.Mutex // protects timer
	timer *time.Timer

	resp *protocol.Response
	err  error
}

func newCall(id string) *Call {
	return &Call{
		ID:      id,
		Created: time.Now(),
		done:    make(chan struct{}),
	}
}

// complete records the outcome and wakes waiters. Only the first caller wins.
func (c *Call) complete(resp *protocol.Response, err error) bool {
	if !c.completed.CompareAndSwap(false, true) {
		return false
	}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	c.resp = resp
	c.err = err
	close(c.done)
	return true
}

// Done is closed once the call is resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of a resolved call. Before resolution it returns
// nil, nil. Synthetic TIMEOUT and CONNECTION_CLOSED outcomes carry both a
// response and a non-nil error.
func (c *Call) Result() (*protocol.Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	default:
		return nil, nil
	}
}

// Wait blocks until the call is resolved or ctx is done. A cancelled context
// only stops the wait; the call stays registered until something resolves it.
func (c *Call) Wait(ctx context.Context) (*protocol.Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Table is a concurrent registry of pending calls keyed by correlation id.
type Table struct {
	calls *xsync.MapOf[string, *Call]

	mu       sync.RWMutex // excludes Register while Close drains
	closed   bool
	closeErr error

	expired atomic.Int64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{calls: xsync.NewMapOf[string, *Call]()}
}

// Register creates the call for id. A positive timeout starts a watchdog that
// resolves the call with ErrTimeout once it elapses; zero disables it.
//
// Returns:
//   - The new Call
//   - ErrDuplicateID if id is already pending
//   - The close cause if the table has been closed
func (t *Table) Register(id string, timeout time.Duration) (*Call, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, t.closeErr
	}

	call := newCall(id)
	if _, loaded := t.calls.LoadOrStore(id, call); loaded {
		return nil, ErrDuplicateID
	}

	if timeout > 0 {
		call.mu.Lock()
		if !call.completed.Load() {
			call.timer = time.AfterFunc(timeout, func() { t.expire(call) })
		}
		call.mu.Unlock()
	}

	return call, nil
}

func (t *Table) expire(call *Call) {
	resp := protocol.NewResponse(call.ID, protocol.StatusTimeout, ErrTimeout.Error())
	if call.complete(resp, ErrTimeout) {
		t.expired.Add(1)
		t.remove(call)
	}
}

// remove deletes the entry for call.ID only if it still maps to call.
func (t *Table) remove(call *Call) {
	t.calls.Compute(call.ID, func(old *Call, loaded bool) (*Call, bool) {
		if loaded && old != call {
			return old, false
		}
		return nil, true
	})
}

// Resolve completes the call for resp.ID with resp. It reports whether a
// pending call was found and completed by this invocation.
func (t *Table) Resolve(resp *protocol.Response) bool {
	call, ok := t.calls.LoadAndDelete(resp.ID)
	if !ok {
		return false
	}
	return call.complete(resp, nil)
}

// Fail completes the call for id with err and no response.
func (t *Table) Fail(id string, err error) bool {
	call, ok := t.calls.LoadAndDelete(id)
	if !ok {
		return false
	}
	return call.complete(nil, err)
}

// Close resolves every pending call with a synthetic CONNECTION_CLOSED
// response carrying err, and makes later Register calls fail with err.
// It returns the number of calls resolved. Closing twice keeps the first cause.
func (t *Table) Close(err error) int {
	if err == nil {
		err = ErrClosed
	}

	t.mu.Lock()
	if !t.closed {
		t.closed = true
		t.closeErr = err
	}
	err = t.closeErr
	t.mu.Unlock()

	n := 0
	t.calls.Range(func(id string, _ *Call) bool {
		if call, ok := t.calls.LoadAndDelete(id); ok {
			resp := protocol.NewResponse(id, protocol.StatusConnectionClosed, err.Error())
			if call.complete(resp, err) {
				n++
			}
		}
		return true
	})
	return n
}

// Len returns the number of pending calls.
func (t *Table) Len() int {
	return t.calls.Size()
}

// Expired returns how many calls have been resolved by their watchdog.
func (t *Table) Expired() int64 {
	return t.expired.Load()
}
