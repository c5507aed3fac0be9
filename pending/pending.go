// Package pending implements the correlation table that turns an
// asynchronous stream of inbound response envelopes into matched
// request/response pairs.
//
// A Table is exclusively owned by one proxy: it maps call ids to the sink
// waiting for the result, enforces per-call deadlines, and fails everything
// left over on teardown. Responses may arrive in any order; correlation is
// solely by call id, never by arrival order.
package pending

import (
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"wirerpc/message"
)

var (
	// ErrDuplicateCallID: the call id is already pending. Ids must not be
	// reused while a call with that id is outstanding.
	ErrDuplicateCallID = errors.New("pending: duplicate call id")
	// ErrTimeout: the deadline elapsed before a response arrived.
	ErrTimeout = errors.New("call timed out")
	// ErrCanceled: the caller withdrew the call before it resolved.
	ErrCanceled = errors.New("call canceled")
)

// Sink receives the outcome of one call: a response envelope on success, or
// a failure (timeout, cancellation, transport loss) with resp == nil.
type Sink func(resp *message.Response, err error)

type entry struct {
	sink     Sink
	deadline time.Time // zero means no deadline
	issued   time.Time
}

// Table tracks outstanding calls for one proxy.
type Table struct {
	calls *xsync.MapOf[uint64, *entry]
	log   *zap.Logger
}

// NewTable creates an empty correlation table. A nil logger disables logging.
func NewTable(log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{
		calls: xsync.NewMapOf[uint64, *entry](),
		log:   log,
	}
}

// Register records a pending call. A zero deadline means the call waits
// forever. Fails with ErrDuplicateCallID if the id is already pending.
func (t *Table) Register(id uint64, deadline time.Time, sink Sink) error {
	e := &entry{sink: sink, deadline: deadline, issued: time.Now()}
	if _, loaded := t.calls.LoadOrStore(id, e); loaded {
		return fmt.Errorf("%w: %d", ErrDuplicateCallID, id)
	}
	return nil
}

// Resolve removes the pending entry for resp.CallID and delivers resp to its
// sink. An unknown id is a no-op, logged and not fatal: it covers late or
// duplicate responses, e.g. after the timeout for that call already fired.
func (t *Table) Resolve(resp *message.Response) bool {
	e, ok := t.calls.LoadAndDelete(resp.CallID)
	if !ok {
		t.log.Debug("response for unknown call id, dropping",
			zap.Uint64("call_id", resp.CallID),
			zap.String("status", resp.Status.String()))
		return false
	}
	e.sink(resp, nil)
	return true
}

// Fail removes the pending entry for id and delivers err to its sink. Used
// for client-initiated cancellation and transport failures.
func (t *Table) Fail(id uint64, err error) bool {
	e, ok := t.calls.LoadAndDelete(id)
	if !ok {
		return false
	}
	e.sink(nil, err)
	return true
}

// Drop removes the pending entry for id without delivering anything. Used
// when the send itself failed and the caller reports the error directly.
func (t *Table) Drop(id uint64) bool {
	_, ok := t.calls.LoadAndDelete(id)
	return ok
}

// Expire fails every entry whose deadline is at or before now with
// ErrTimeout and returns how many were expired. The owner must call this on
// a timer (or every event-loop tick) so timeouts fire with bounded latency.
//
// If a response is in flight while Expire runs, the call may still time out;
// expiry is checked first when timers and inbound messages race. That
// non-determinism is accepted, not hidden.
func (t *Table) Expire(now time.Time) int {
	expired := 0
	t.calls.Range(func(id uint64, e *entry) bool {
		if e.deadline.IsZero() || e.deadline.After(now) {
			return true
		}
		if cur, ok := t.calls.LoadAndDelete(id); ok {
			expired++
			cur.sink(nil, fmt.Errorf("%w after %s", ErrTimeout, now.Sub(cur.issued).Round(time.Millisecond)))
		}
		return true
	})
	return expired
}

// CancelAll fails every pending entry with reason. Used on proxy teardown.
func (t *Table) CancelAll(reason error) {
	t.calls.Range(func(id uint64, _ *entry) bool {
		if e, ok := t.calls.LoadAndDelete(id); ok {
			e.sink(nil, reason)
		}
		return true
	})
}

// Len reports the number of outstanding calls.
func (t *Table) Len() int {
	return t.calls.Size()
}
