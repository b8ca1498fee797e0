package client

import (
	"fmt"
	"sync"
	"time"

	"appforge/internal/models"

	"github.com/segmentio/ksuid"
)

// Request/response timeouts are client-enforced only, a UX affordance: a
// timed-out request rejects its waiter but does not cancel the server-side
// operation. The server may still finish and send a late reply, which is
// simply discarded here; idempotent engine handlers make any late sync side
// effects safe.
const (
	saveTimeout   = 10 * time.Second
	exportTimeout = 30 * time.Second
	aiTimeout     = 30 * time.Second
)

// ErrRequestTimeout rejects a waiter whose reply never arrived in time.
var ErrRequestTimeout = fmt.Errorf("request timed out")

type requestResult struct {
	msg *models.Message
	err error
}

type pendingRequest struct {
	done  chan requestResult
	timer *time.Timer
}

// requestTable tracks in-flight request/response pairs keyed by a generated
// correlation id. That replaces the leak-prone pattern of registering a
// one-shot listener per request: a response that never arrives fires the
// timeout instead of stranding a listener, and disconnect fails every waiter
// at once so nothing hangs forever.
type requestTable struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newRequestTable() *requestTable {
	return &requestTable{pending: make(map[string]*pendingRequest)}
}

// add registers a waiter and returns its correlation id and result channel.
func (t *requestTable) add(timeout time.Duration) (string, <-chan requestResult) {
	id := ksuid.New().String()
	req := &pendingRequest{done: make(chan requestResult, 1)}

	t.mu.Lock()
	t.pending[id] = req
	t.mu.Unlock()

	req.timer = time.AfterFunc(timeout, func() {
		t.deliver(id, requestResult{err: ErrRequestTimeout})
	})

	return id, req.done
}

// deliver resolves a waiter. Late replies for ids already timed out or
// disconnected find no entry and are discarded.
func (t *requestTable) deliver(id string, res requestResult) bool {
	t.mu.Lock()
	req, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	req.done <- res
	return true
}

// failAll rejects every outstanding waiter, used on disconnect.
func (t *requestTable) failAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*pendingRequest)
	t.mu.Unlock()

	for _, req := range pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.done <- requestResult{err: err}
	}
}

func (t *requestTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
