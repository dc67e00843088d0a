// Package hub is the orchestrator context: it owns every piece of shared
// state, runs the connection lifecycle on a single event loop and
// supervises the background workers.
package hub

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vibepie/internal/broadcast"
	"vibepie/internal/control"
	"vibepie/internal/generation"
	"vibepie/internal/metrics"
	"vibepie/internal/presets"
	"vibepie/internal/pullsync"
	"vibepie/internal/queue"
	"vibepie/internal/router"
	"vibepie/internal/state"
	"vibepie/internal/websocket"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// Config carries the orchestration tunables.
type Config struct {
	MasterKey         string
	RateLimitWindow   time.Duration
	RateLimitIdleTTL  time.Duration
	RateLimitSweep    time.Duration
	MaxQueueSize      int
	MaxPromptRunes    int
	MaxRecentPrompts  int
	ViewerSyncTimeout time.Duration
	ControlTick       time.Duration
	ForceEpsilon      float64
	Generation        generation.Config
	WatchPresets      bool
	PresetDebounce    time.Duration
	EventBuffer       int
}

func DefaultConfig() Config {
	return Config{
		MasterKey:         "geekpie",
		RateLimitWindow:   30 * time.Second,
		RateLimitIdleTTL:  10 * time.Minute,
		RateLimitSweep:    time.Minute,
		MaxQueueSize:      20,
		MaxPromptRunes:    router.DefaultMaxPromptRunes,
		MaxRecentPrompts:  10,
		ViewerSyncTimeout: time.Second,
		ControlTick:       control.DefaultTickInterval,
		ForceEpsilon:      control.DefaultEpsilon,
		Generation:        generation.DefaultConfig(),
		PresetDebounce:    200 * time.Millisecond,
		EventBuffer:       1000,
	}
}

// Collaborators are the external functions the orchestrator consumes.
// History is optional.
type Collaborators struct {
	Generator interfaces.Generator
	Validator interfaces.Validator
	Moderator interfaces.Moderator
	History   interfaces.HistoryStore
	Presets   *presets.Library
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
)

type event struct {
	kind eventKind
	conn interfaces.Connection
	req  websocket.ConnectRequest
	data []byte
}

// Hub implements websocket.Lifecycle.
// ARCHITECTURAL DISCOVERY: connect, message and disconnect share one
// channel, so a connection's messages are never handled before its role
// entry or after its exit
type Hub struct {
	cfg     Config
	collab  Collaborators
	events  chan event
	stopped chan struct{}

	registry   *websocket.Registry
	dispatcher *broadcast.Dispatcher
	store      *state.Store
	queue      *queue.PromptQueue
	limiter    *router.RateLimiter
	pullsync   *pullsync.Coordinator
	aggregator *control.Aggregator
	pipeline   *generation.Pipeline
	router     *router.Router

	// viewer init runs off the loop while it waits on the master
	pending sync.WaitGroup

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan error
}

var _ websocket.Lifecycle = (*Hub)(nil)

// New builds the orchestrator and every component it owns.
func New(cfg Config, collab Collaborators) *Hub {
	defaults := DefaultConfig()
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	if cfg.ViewerSyncTimeout <= 0 {
		cfg.ViewerSyncTimeout = defaults.ViewerSyncTimeout
	}
	if cfg.RateLimitSweep <= 0 {
		cfg.RateLimitSweep = defaults.RateLimitSweep
	}
	if cfg.RateLimitIdleTTL <= 0 {
		cfg.RateLimitIdleTTL = defaults.RateLimitIdleTTL
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaults.MaxQueueSize
	}

	initial := ""
	if collab.Presets != nil {
		initial = collab.Presets.Initial()
	}

	h := &Hub{
		cfg:     cfg,
		collab:  collab,
		events:  make(chan event, cfg.EventBuffer),
		stopped: make(chan struct{}),
	}
	h.registry = websocket.NewRegistry()
	h.dispatcher = broadcast.NewDispatcher(h.registry)
	h.store = state.NewStore(initial, cfg.MaxRecentPrompts)
	h.queue = queue.NewPromptQueue(cfg.MaxQueueSize)
	h.limiter = router.NewRateLimiter(cfg.RateLimitWindow)
	h.pullsync = pullsync.NewCoordinator(h.dispatcher, h.store, cfg.Generation.PullTimeout)
	h.aggregator = control.NewAggregator(h.dispatcher, cfg.ControlTick, cfg.ForceEpsilon)
	h.pipeline = generation.NewPipeline(cfg.Generation, generation.Deps{
		Queue:      h.queue,
		Source:     h.pullsync,
		Store:      h.store,
		Dispatcher: h.dispatcher,
		Generator:  collab.Generator,
		Validator:  collab.Validator,
		History:    collab.History,
	})
	h.router = router.NewRouter(router.Deps{
		Authority:      h.registry,
		Dispatcher:     h.dispatcher,
		Queue:          h.queue,
		Limiter:        h.limiter,
		Moderator:      collab.Moderator,
		Store:          h.store,
		PullSync:       h.pullsync,
		Aggregator:     h.aggregator,
		Trigger:        h.pipeline,
		MaxPromptRunes: cfg.MaxPromptRunes,
	})
	return h
}

// Start runs the hub in the background until Stop or ctx cancellation.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	if h.done != nil {
		// stopped closes exactly once, so a hub runs a single time
		return ErrHubAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	h.running = true
	h.cancel = cancel
	h.done = make(chan error, 1)

	log.Println("Starting orchestrator hub...")
	go func() {
		h.done <- h.run(ctx)
	}()
	return nil
}

// Stop cancels the hub and waits for every worker to return.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	log.Println("Stopping orchestrator hub...")
	cancel()
	err := <-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// run supervises the event loop and the background workers.
func (h *Hub) run(ctx context.Context) error {
	defer close(h.stopped)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.loop(ctx) })
	g.Go(func() error { return h.pipeline.Run(ctx) })
	g.Go(func() error { return h.aggregator.Run(ctx) })
	g.Go(func() error {
		return h.limiter.RunCleanup(ctx, h.cfg.RateLimitSweep, h.cfg.RateLimitIdleTTL)
	})
	if h.collab.Presets != nil && h.cfg.WatchPresets {
		g.Go(func() error {
			if err := h.collab.Presets.Watch(ctx, h.cfg.PresetDebounce); err != nil {
				log.Printf("Preset hot reload disabled: %v", err)
			}
			return nil
		})
	}

	err := g.Wait()
	h.pending.Wait()
	h.closeAll()
	log.Println("Hub processing stopped")
	return err
}

func (h *Hub) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.handle(ctx, ev)
		}
	}
}

func (h *Hub) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventConnect:
		h.enter(ctx, ev.conn, ev.req)
	case eventMessage:
		h.receive(ev.conn, ev.data)
	case eventDisconnect:
		h.exit(ev.conn)
	}
}

// Connect queues role entry. Blocks only while the event buffer is full.
func (h *Hub) Connect(conn interfaces.Connection, req websocket.ConnectRequest) {
	h.post(event{kind: eventConnect, conn: conn, req: req})
}

// Receive queues one inbound frame. When the buffer is full, priority
// frames wait for room and the rest are dropped.
func (h *Hub) Receive(conn interfaces.Connection, data []byte) {
	ev := event{kind: eventMessage, conn: conn, data: data}
	msgType, _ := types.Peek(data)
	if types.IsPriority(msgType, conn.GetRole()) {
		h.post(ev)
		return
	}
	select {
	case h.events <- ev:
	default:
		metrics.DroppedInbound.Inc()
		log.Printf("Event buffer full, dropped frame from %s", conn.GetID())
	}
}

// Disconnect queues role exit.
func (h *Hub) Disconnect(conn interfaces.Connection) {
	h.post(event{kind: eventDisconnect, conn: conn})
}

func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.stopped:
	}
}

func (h *Hub) isMasterKey(key string) bool {
	if key == "" || h.cfg.MasterKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.MasterKey)) == 1
}

func (h *Hub) receive(conn interfaces.Connection, data []byte) {
	msg, err := types.Decode(data)
	if err != nil {
		log.Printf("Malformed frame from %s: %v", conn.GetID(), err)
		broadcast.Reply(conn, types.NewError(MsgMalformed))
		return
	}

	if err := h.router.Route(conn, msg); err != nil {
		switch {
		case errors.Is(err, router.ErrNotMaster):
			// logged by the router, silently dropped
		case errors.Is(err, router.ErrNotMobile):
			log.Printf("Ignored %s from %s connection %s", msg.MessageType(), conn.GetRole(), conn.GetID())
		default:
			log.Printf("Routing %s from %s failed: %v", msg.MessageType(), conn.GetID(), err)
		}
	}
}

func (h *Hub) closeAll() {
	conns := append(h.registry.Screens(), h.registry.Mobiles()...)
	for _, conn := range conns {
		_ = conn.Close()
	}
	if n := h.pullsync.Abandon(); n > 0 {
		log.Printf("Released %d pending code requests on shutdown", n)
	}
	if n := h.queue.Size(); n > 0 {
		log.Printf("Discarding %d queued prompts on shutdown", n)
	}
	h.queue.Clear()
}
