package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: displays and phones are served from other origins
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// ConnectRequest is the establishment data carried in the connection URL.
type ConnectRequest struct {
	ClientType string // screen or mobile
	Key        string // optional master key, screens only
	SessionID  string // client supplied or generated
}

// Lifecycle receives connection events. The hub implements it; keeping the
// interface here lets this package stay free of orchestration imports.
type Lifecycle interface {
	Connect(conn interfaces.Connection, req ConnectRequest)
	Receive(conn interfaces.Connection, data []byte)
	Disconnect(conn interfaces.Connection)
}

// HandlerConfig controls per-connection limits and heartbeats.
type HandlerConfig struct {
	MessagesPerSecond float64
	Burst             int
	ReadLimit         int64
	PingInterval      time.Duration
	PongWait          time.Duration
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		MessagesPerSecond: 50,
		Burst:             100,
		ReadLimit:         64 * 1024,
		PingInterval:      30 * time.Second,
		PongWait:          60 * time.Second,
	}
}

// Handler upgrades HTTP requests and runs the read side of every connection.
type Handler struct {
	lifecycle Lifecycle
	cfg       HandlerConfig
}

func NewHandler(lifecycle Lifecycle, cfg HandlerConfig) *Handler {
	defaults := DefaultHandlerConfig()
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval * 2
	}
	return &Handler{lifecycle: lifecycle, cfg: cfg}
}

// ParseConnectRequest extracts ?type=screen|mobile&key=...&session=...
// A missing type means mobile; a missing session gets a fresh identifier.
func ParseConnectRequest(r *http.Request) (ConnectRequest, error) {
	q := r.URL.Query()
	req := ConnectRequest{
		ClientType: q.Get("type"),
		Key:        q.Get("key"),
		SessionID:  q.Get("session"),
	}

	switch req.ClientType {
	case "":
		req.ClientType = types.ClientTypeMobile
	case types.ClientTypeScreen, types.ClientTypeMobile:
	default:
		return req, ErrInvalidClientType
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	} else if !types.IsValidSessionID(req.SessionID) {
		return req, ErrInvalidSessionID
	}
	return req, nil
}

// HandleWebSocket validates parameters, upgrades and hands the connection to
// the lifecycle.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	req, err := ParseConnectRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// FUNCTIONAL DISCOVERY: upgrade only after validation so bad requests get
	// a proper HTTP status
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, req.SessionID)
	h.lifecycle.Connect(conn, req)

	go h.handleConnection(conn)
}

// handleConnection runs heartbeat and the read pump until the socket dies.
func (h *Handler) handleConnection(conn *Connection) {
	// closed before the exit event so the hub never sees a departed
	// connection as open
	defer func() {
		_ = conn.Close()
		h.lifecycle.Disconnect(conn)
	}()

	conn.conn.SetReadLimit(h.cfg.ReadLimit)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	go h.pingLoop(conn)

	throttle := newInboundThrottle(conn.GetID(), h.cfg.MessagesPerSecond, h.cfg.Burst, func(data []byte) {
		h.lifecycle.Receive(conn, data)
	})
	defer throttle.Close()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.GetID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		throttle.Accept(data, conn.GetRole())
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
