// Package pullsync asks the master for its live code right before a
// generation call, with a bounded wait and a cached fallback.
package pullsync

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vibepie/internal/metrics"
	"vibepie/internal/state"
	"vibepie/pkg/types"
)

// MasterLink is how the coordinator reaches the current master.
// The broadcast dispatcher satisfies it.
type MasterLink interface {
	HasMaster() bool
	ToMaster(msg interface{}) bool
}

type result struct {
	code  string
	fresh bool
}

// pendingRequest is resolved exactly once: whoever removes it from the
// pending map owns delivery.
type pendingRequest struct {
	ch      chan result
	created time.Time
}

// Coordinator correlates request_code pulls with sync_code replies.
type Coordinator struct {
	master  MasterLink
	store   *state.Store
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func NewCoordinator(master MasterLink, store *state.Store, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Coordinator{
		master:  master,
		store:   store,
		timeout: timeout,
		pending: make(map[string]*pendingRequest),
	}
}

// RequestFreshCode returns the master's live code, or the cached code when
// the master is absent, unreachable or too slow. It never fails and never
// waits longer than timeout (the coordinator default when timeout <= 0),
// counting the time spent handing the request to the master's socket.
// fresh reports whether the code came from a matching master reply.
func (c *Coordinator) RequestFreshCode(ctx context.Context, timeout time.Duration) (code string, fresh bool) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if !c.master.HasMaster() {
		metrics.PullSync.WithLabelValues(metrics.PullSyncNoMaster).Inc()
		return c.store.Code(), false
	}

	requestID := uuid.NewString()
	req := &pendingRequest{ch: make(chan result, 1), created: time.Now()}

	c.mu.Lock()
	c.pending[requestID] = req
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// a congested master socket may hold the enqueue for its write timeout;
	// the budget above already covers it
	sent := make(chan bool, 1)
	go func() {
		sent <- c.master.ToMaster(&types.RequestCodeMessage{Type: types.MessageTypeRequestCode, RequestID: requestID})
	}()

	for {
		select {
		case ok := <-sent:
			if ok {
				sent = nil
				continue
			}
			if c.take(requestID) == nil {
				return c.finish(<-req.ch)
			}
			metrics.PullSync.WithLabelValues(metrics.PullSyncSendFailed).Inc()
			return c.store.Code(), false
		case res := <-req.ch:
			return c.finish(res)
		case <-timer.C:
			if c.take(requestID) == nil {
				// a reply won the race between the timer firing and take
				return c.finish(<-req.ch)
			}
			log.Printf("Pull-sync %s timed out after %v, using cached code", requestID, timeout)
			metrics.PullSync.WithLabelValues(metrics.PullSyncTimeout).Inc()
			return c.store.Code(), false
		case <-ctx.Done():
			if c.take(requestID) == nil {
				return c.finish(<-req.ch)
			}
			metrics.PullSync.WithLabelValues(metrics.PullSyncCancelled).Inc()
			return c.store.Code(), false
		}
	}
}

func (c *Coordinator) finish(res result) (string, bool) {
	if res.fresh {
		metrics.PullSync.WithLabelValues(metrics.PullSyncFresh).Inc()
	} else {
		metrics.PullSync.WithLabelValues(metrics.PullSyncAbandoned).Inc()
	}
	return res.code, res.fresh
}

// Resolve delivers code to the pending request requestID. A reply for an
// unknown, timed-out or already resolved request is dropped and Resolve
// returns false.
func (c *Coordinator) Resolve(requestID, code string) bool {
	req := c.take(requestID)
	if req == nil {
		return false
	}
	req.ch <- result{code: code, fresh: true}
	return true
}

// HandleSync applies a sync_code message from the master: the playing flag
// and a non-blank code update the cache, and a matching requestId resolves
// its pending pull. It reports whether the cached code changed.
func (c *Coordinator) HandleSync(msg *types.SyncCode) bool {
	if msg.Playing != nil {
		c.store.SetPlaying(*msg.Playing)
	}
	if strings.TrimSpace(msg.Code) == "" {
		return false
	}
	changed := c.store.SetCode(msg.Code)
	if msg.RequestID != "" && !c.Resolve(msg.RequestID, msg.Code) {
		log.Printf("Dropped late sync_code reply for request %s", msg.RequestID)
	}
	return changed
}

// Abandon resolves every pending request with the cached code. Called when
// the master leaves so waiters do not sit out their full timeout.
func (c *Coordinator) Abandon() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	cached := c.store.Code()
	for _, req := range pending {
		req.ch <- result{code: cached, fresh: false}
	}
	return len(pending)
}

// Pending returns the number of unresolved requests.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) take(requestID string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[requestID]
	if !ok {
		return nil
	}
	delete(c.pending, requestID)
	return req
}
