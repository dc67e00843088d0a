package websocket

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vibepie/internal/metrics"
	"vibepie/pkg/types"
)

const (
	// coalesceInterval matches the control tick: the aggregator only samples
	// once per tick, so one value per surface per interval loses nothing
	coalesceInterval = 100 * time.Millisecond

	// maxCoalescedSurfaces bounds the pending table; register_sliders
	// accepts at most this many surfaces
	maxCoalescedSurfaces = 64
)

// inboundThrottle is the per-connection flood guard.
// FUNCTIONAL DISCOVERY: dropping frames blindly loses a phone's release
// after a fast drag, leaving its force applied. Priority frames always
// pass, control_slider over budget is coalesced to the newest value per
// surface, everything else over budget is dropped.
type inboundThrottle struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	deliver  func([]byte)
	connID   string
	interval time.Duration

	pending map[string][]byte
	order   []string
	timer   *time.Timer

	closed   bool
	flooding bool
}

func newInboundThrottle(connID string, perSecond float64, burst int, deliver func([]byte)) *inboundThrottle {
	return &inboundThrottle{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		deliver:  deliver,
		connID:   connID,
		interval: coalesceInterval,
		pending:  make(map[string][]byte),
	}
}

// Accept routes one frame from a sender currently holding senderRole.
func (t *inboundThrottle) Accept(data []byte, senderRole string) {
	msgType, id := types.Peek(data)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if types.IsPriority(msgType, senderRole) {
		// held values go first so a release lands after the last drag
		t.flushLocked()
		t.deliver(data)
		return
	}

	if msgType == types.MessageTypeControlSlider && id != "" {
		if len(t.pending) == 0 && t.limiter.Allow() {
			t.flooding = false
			t.deliver(data)
			return
		}
		t.holdLocked(id, data)
		return
	}

	if !t.limiter.Allow() {
		metrics.DroppedInbound.Inc()
		t.noteFloodLocked()
		return
	}
	t.flooding = false
	t.deliver(data)
}

func (t *inboundThrottle) holdLocked(id string, data []byte) {
	if _, held := t.pending[id]; held {
		metrics.CoalescedInbound.Inc()
	} else {
		if len(t.pending) >= maxCoalescedSurfaces {
			metrics.DroppedInbound.Inc()
			t.noteFloodLocked()
			return
		}
		t.order = append(t.order, id)
	}
	t.pending[id] = data
	t.noteFloodLocked()

	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval, t.flushTimer)
	}
}

func (t *inboundThrottle) flushTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = nil
	if t.closed {
		return
	}
	t.flushLocked()
}

func (t *inboundThrottle) flushLocked() {
	for _, id := range t.order {
		t.deliver(t.pending[id])
	}
	if len(t.order) > 0 {
		t.pending = make(map[string][]byte)
		t.order = t.order[:0]
	}
}

func (t *inboundThrottle) noteFloodLocked() {
	if !t.flooding {
		log.Printf("Connection %s exceeded %v msg/s, throttling", t.connID, t.limiter.Limit())
		t.flooding = true
	}
}

// Close discards held frames; nothing is delivered after it returns.
func (t *inboundThrottle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = make(map[string][]byte)
	t.order = t.order[:0]
}
