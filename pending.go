package hive

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// PendingCall is one in-flight request waiting for its correlated
// response. It finishes exactly once: with the response, with
// ErrResponseTimeout when the response timer fires first, or with
// ErrCallClosed when the caller cancels early.
type PendingCall struct {
	uuid  string
	table *pendingTable

	responseCh chan *Message
	timer      *time.Timer

	err    error
	closed bool
	lk     sync.Mutex
}

// UUID is the request uuid responses must reference.
func (c *PendingCall) UUID() string {
	return c.uuid
}

// ResponseCh delivers the response, then closes. When it closes without
// a message, Err tells why.
func (c *PendingCall) ResponseCh() <-chan *Message {
	return c.responseCh
}

// Err is reliable once ResponseCh is closed.
func (c *PendingCall) Err() error {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.err
}

// Close cancels the call without waiting for the timeout to fire. A
// response arriving later is dropped like any other stale response.
func (c *PendingCall) Close() {
	c.table.remove(c.uuid)
	c.finish(nil, ErrCallClosed)
}

func (c *PendingCall) Finished() bool {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.closed
}

// finish resolves or rejects the call; only the first caller wins.
func (c *PendingCall) finish(msg *Message, err error) bool {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.err = err
	if c.timer != nil {
		c.timer.Stop()
	}
	if msg != nil {
		c.responseCh <- msg
	}
	close(c.responseCh)
	return true
}

// pendingTable correlates request uuids with their PendingCall. At most
// one entry per uuid; an entry leaves the table on resolution,
// rejection, timeout or cancellation, so a late response finds nothing
// and is harmlessly ignored.
type pendingTable struct {
	calls map[string]*PendingCall
	lk    sync.Mutex

	msink  metrics.MetricSink
	labels []metrics.Label
}

func newPendingTable(msink metrics.MetricSink, labels []metrics.Label) *pendingTable {
	return &pendingTable{
		calls:  make(map[string]*PendingCall),
		msink:  msink,
		labels: labels,
	}
}

// track registers a new in-flight request. A non-positive timeout
// disables the response timer.
func (t *pendingTable) track(uuid string, timeout time.Duration) *PendingCall {
	call := &PendingCall{
		uuid:       uuid,
		table:      t,
		responseCh: make(chan *Message, 1),
	}

	t.lk.Lock()
	t.calls[uuid] = call
	t.lk.Unlock()

	if timeout > 0 {
		call.lk.Lock()
		call.timer = time.AfterFunc(timeout, func() {
			t.remove(uuid)
			rejected := call.finish(nil, fmt.Errorf(
				"%w: request %s after %s", ErrResponseTimeout, uuid, timeout,
			))
			if rejected {
				t.msink.IncrCounterWithLabels(MetricCallTimeoutCount, 1, t.labels)
			}
		})
		call.lk.Unlock()
	}

	return call
}

// resolve hands msg to the call registered under msg.ResponseTo.
// It reports false when no such call is pending anymore.
func (t *pendingTable) resolve(msg *Message) bool {
	t.lk.Lock()
	call, has := t.calls[msg.ResponseTo]
	if has {
		delete(t.calls, msg.ResponseTo)
	}
	t.lk.Unlock()
	if !has {
		return false
	}
	return call.finish(msg, nil)
}

func (t *pendingTable) remove(uuid string) {
	t.lk.Lock()
	delete(t.calls, uuid)
	t.lk.Unlock()
}

// closeAll rejects every in-flight call, typically on shutdown.
func (t *pendingTable) closeAll(cause error) {
	t.lk.Lock()
	calls := make([]*PendingCall, 0, len(t.calls))
	for _, call := range t.calls {
		calls = append(calls, call)
	}
	t.calls = make(map[string]*PendingCall)
	t.lk.Unlock()

	for _, call := range calls {
		call.finish(nil, cause)
	}
}
