package hub

import (
	"context"
	"log"

	"vibepie/internal/broadcast"
	"vibepie/internal/websocket"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// Role state machine: Unregistered -> Master | Viewer | Mobile -> Closed.
// enter and exit are the only transitions and both run on the event loop.

func (h *Hub) enter(ctx context.Context, conn interfaces.Connection, req websocket.ConnectRequest) {
	switch req.ClientType {
	case types.ClientTypeScreen:
		if h.isMasterKey(req.Key) {
			h.enterMaster(conn)
			return
		}
		if req.Key != "" {
			log.Printf("Screen %s presented a wrong master key, joining as viewer", conn.GetID())
		}
		h.enterViewer(ctx, conn)
	default:
		h.enterMobile(conn)
	}
}

func (h *Hub) enterMaster(conn interfaces.Connection) {
	previous, err := h.registry.SetMaster(conn)
	if err != nil {
		log.Printf("Master registration failed for %s: %v", conn.GetID(), err)
		_ = conn.Close()
		return
	}
	if previous != nil && previous != conn {
		// requests sent to the evicted master will never be answered
		if n := h.pullsync.Abandon(); n > 0 {
			log.Printf("Released %d code requests pending on the evicted master", n)
		}
		_ = previous.Close()
		log.Printf("Evicted previous master %s", previous.GetID())
	}

	log.Printf("Connection registered: role=master id=%s session=%s", conn.GetID(), conn.GetSessionID())
	broadcast.Reply(conn, h.initMessage(types.RoleMaster, conn.GetSessionID(), true))
}

// enterViewer pulls the master's live code first so a new viewer starts from
// what is actually playing. The wait happens off the loop.
func (h *Hub) enterViewer(ctx context.Context, conn interfaces.Connection) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()

		_, fresh := h.pullsync.RequestFreshCode(ctx, h.cfg.ViewerSyncTimeout)
		if !fresh {
			log.Printf("Viewer %s initialised from cached code", conn.GetID())
		}
		if !conn.IsOpen() {
			return
		}

		if err := h.registry.AddViewer(conn); err != nil {
			log.Printf("Viewer registration failed for %s: %v", conn.GetID(), err)
			return
		}
		// the socket may have closed while we waited; its disconnect event
		// could already be past, so undo the add ourselves
		if !conn.IsOpen() {
			h.registry.Remove(conn)
			return
		}

		log.Printf("Connection registered: role=viewer id=%s", conn.GetID())
		broadcast.Reply(conn, h.initMessage(types.RoleViewer, conn.GetSessionID(), true))
	}()
}

func (h *Hub) enterMobile(conn interfaces.Connection) {
	if err := h.registry.AddMobile(conn); err != nil {
		log.Printf("Mobile registration failed for %s: %v", conn.GetID(), err)
		_ = conn.Close()
		return
	}
	log.Printf("Connection registered: role=mobile id=%s session=%s", conn.GetID(), conn.GetSessionID())
	broadcast.Reply(conn, h.initMessage(types.RoleMobile, conn.GetSessionID(), false))
}

func (h *Hub) exit(conn interfaces.Connection) {
	role, ok := h.registry.Remove(conn)
	if !ok {
		return
	}
	log.Printf("Connection unregistered: role=%s id=%s session=%s", role, conn.GetID(), conn.GetSessionID())

	switch role {
	case types.RoleMaster:
		if n := h.pullsync.Abandon(); n > 0 {
			log.Printf("Master left, released %d pending code requests", n)
		}
	case types.RoleMobile:
		// a session may hold several sockets; forces go with the last one
		session := conn.GetSessionID()
		if !h.registry.HasMobileSession(session) {
			if n := h.aggregator.StopAll(session); n > 0 {
				log.Printf("Released %d control forces of session %s", n, session)
			}
		}
	}
}

func (h *Hub) initMessage(role, sessionID string, withCode bool) *types.InitMessage {
	snap := h.store.Snapshot()
	msg := &types.InitMessage{
		Type:          types.MessageTypeInit,
		Role:          role,
		SessionID:     sessionID,
		Playing:       snap.Playing,
		RecentPrompts: snap.RecentPrompts,
		QueueSize:     h.queue.Size(),
		Sliders:       h.aggregator.Sliders(),
	}
	if withCode {
		msg.Code = snap.Code
	}
	if role == types.RoleMobile {
		// a phone that reconnects while its prompt waits learns where it stands
		if pos, ok := h.queue.PositionOf(sessionID); ok {
			msg.Position = pos
		}
	}
	if msg.RecentPrompts == nil {
		msg.RecentPrompts = []string{}
	}
	if msg.Sliders == nil {
		msg.Sliders = []types.Slider{}
	}
	return msg
}
