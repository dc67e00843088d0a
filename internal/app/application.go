package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"vibepie/internal/ai"
	"vibepie/internal/api"
	"vibepie/internal/config"
	"vibepie/internal/database"
	"vibepie/internal/generation"
	"vibepie/internal/hub"
	"vibepie/internal/moderation"
	"vibepie/internal/presets"
	"vibepie/internal/validator"
	"vibepie/internal/websocket"
	"vibepie/pkg/types"
)

const retentionInterval = time.Hour

// Application coordinates all system components
// Component initialization follows strict dependency order:
// Presets → Collaborators → History → Hub → WebSocket → API → HTTP
type Application struct {
	config     *config.Config
	history    *database.Manager
	messageHub *hub.Hub
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Preset library, built-in set when no path is configured
	library, err := presets.Load(cfg.Presets.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load presets: %w", err)
	}

	// STEP 2: Generation collaborators
	collab := hub.Collaborators{
		Generator: ai.NewGenerator(cfg.AISettings()),
		Validator: validator.New(cfg.Orchestrator.MaxCodeLength),
		Moderator: moderation.New(cfg.Orchestrator.BlockedKeywords...),
		Presets:   library,
	}

	// STEP 3: Optional generation history
	var history *database.Manager
	if cfg.Database.Enabled {
		history, err = database.NewManager(cfg.DatabaseSettings())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize generation history: %w", err)
		}
		// a nil *Manager must not reach the interface field
		collab.History = history
	} else {
		log.Println("Generation history disabled")
	}

	if cfg.UsesDefaultMasterKey() {
		log.Printf("WARNING: master key is the built-in default, set VIBEPIE_MASTER_KEY for production")
	}

	// STEP 4: Orchestrator hub
	messageHub := hub.New(HubConfig(cfg), collab)

	// STEP 5: WebSocket handler feeding the hub
	wsHandler := websocket.NewHandler(messageHub, websocket.HandlerConfig{
		MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
		Burst:             cfg.WebSocket.Burst,
		ReadLimit:         cfg.WebSocket.ReadLimit,
		PingInterval:      cfg.WebSocket.PingInterval,
		PongWait:          cfg.WebSocket.PongWait,
	})

	// STEP 6: API server owns the mux, including /ws
	apiServer := api.NewServer(messageHub, http.HandlerFunc(wsHandler.HandleWebSocket))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		history:    history,
		messageHub: messageHub,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// HubConfig maps the loaded configuration onto the hub's tunables
func HubConfig(cfg *config.Config) hub.Config {
	hc := hub.DefaultConfig()
	orch := cfg.Orchestrator
	hc.MasterKey = orch.MasterKey
	hc.RateLimitWindow = orch.RateLimitWindow
	hc.RateLimitIdleTTL = orch.RateLimitIdleTTL
	hc.MaxQueueSize = orch.MaxQueueSize
	hc.MaxPromptRunes = orch.MaxPromptLength
	hc.MaxRecentPrompts = orch.MaxRecentPrompts
	hc.ViewerSyncTimeout = orch.ViewerSyncTimeout
	hc.ControlTick = orch.ControlTick
	hc.ForceEpsilon = orch.ForceEpsilon
	hc.Generation = generation.Config{
		MaxAttempts:    orch.MaxAttempts,
		SafetyInterval: orch.SafetyInterval,
		FailureBackoff: orch.FailureBackoff,
		PullTimeout:    orch.PullSyncTimeout,
		AttemptTimeout: cfg.AI.Timeout,
	}
	hc.WatchPresets = cfg.Presets.Watch && cfg.Presets.Path != ""
	hc.PresetDebounce = cfg.Presets.Debounce
	return hc
}

// Start begins application execution
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting vibepie on %s", app.httpServer.Addr)

	ctx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: History retention runs beside the hub
	if app.history != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.history.RunRetention(ctx, retentionInterval); err != nil {
				log.Printf("Generation history retention stopped: %v", err)
			}
		}()
	}

	// STEP 3: Bind before returning so callers see address errors
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		app.messageHub.Stop()
		app.wg.Wait()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("vibepie started, master screen connects to %s", masterScreenURL(app.GetAddr()))
	return nil
}

// masterScreenURL is the socket a master display dials; the key stays redacted
func masterScreenURL(addr string) string {
	return "ws://" + addr + "/ws?type=" + types.ClientTypeScreen + "&key=<master key>"
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → History
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down vibepie")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Stop message processing, which closes every socket
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Message hub shutdown error: %v", err)
	}

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	// STEP 3: Flush and close the history store
	if app.history != nil {
		if err := app.history.Close(); err != nil {
			log.Printf("Generation history shutdown error: %v", err)
		}
	}

	log.Printf("vibepie shutdown complete")
	return nil
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
