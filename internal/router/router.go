// Package router demultiplexes decoded client messages into the
// orchestration components.
package router

import (
	"fmt"
	"log"

	"vibepie/internal/broadcast"
	"vibepie/internal/control"
	"vibepie/internal/pullsync"
	"vibepie/internal/queue"
	"vibepie/internal/state"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// DefaultMaxPromptRunes bounds a submitted prompt after trimming.
const DefaultMaxPromptRunes = 200

// Authority reports whether a connection is the registered master.
type Authority interface {
	IsMaster(conn interfaces.Connection) bool
}

// Trigger wakes the generation worker.
type Trigger interface {
	Trigger()
}

// Deps are the components a Router routes into.
type Deps struct {
	Authority      Authority
	Dispatcher     *broadcast.Dispatcher
	Queue          *queue.PromptQueue
	Limiter        *RateLimiter
	Moderator      interfaces.Moderator
	Store          *state.Store
	PullSync       *pullsync.Coordinator
	Aggregator     *control.Aggregator
	Trigger        Trigger
	MaxPromptRunes int
}

// Router routes one inbound message at a time. It holds no state of its own
// beyond its collaborators.
type Router struct {
	authority      Authority
	dispatcher     *broadcast.Dispatcher
	queue          *queue.PromptQueue
	limiter        *RateLimiter
	moderator      interfaces.Moderator
	store          *state.Store
	pullsync       *pullsync.Coordinator
	aggregator     *control.Aggregator
	trigger        Trigger
	maxPromptRunes int
}

func NewRouter(deps Deps) *Router {
	if deps.MaxPromptRunes <= 0 {
		deps.MaxPromptRunes = DefaultMaxPromptRunes
	}
	return &Router{
		authority:      deps.Authority,
		dispatcher:     deps.Dispatcher,
		queue:          deps.Queue,
		limiter:        deps.Limiter,
		moderator:      deps.Moderator,
		store:          deps.Store,
		pullsync:       deps.PullSync,
		aggregator:     deps.Aggregator,
		trigger:        deps.Trigger,
		maxPromptRunes: deps.MaxPromptRunes,
	}
}

// Route applies msg from conn. Master-only messages from anyone but the
// registered master are dropped without a reply and reported as ErrNotMaster.
func (r *Router) Route(conn interfaces.Connection, msg types.Inbound) error {
	if types.IsMasterOnly(msg) && !r.authority.IsMaster(conn) {
		log.Printf("Dropped %s from non-master %s (%s)", msg.MessageType(), conn.GetID(), conn.GetRole())
		return ErrNotMaster
	}

	switch m := msg.(type) {
	case *types.SubmitPrompt:
		return r.submit(conn, m)

	case *types.SyncCode:
		if r.pullsync.HandleSync(m) {
			snap := r.store.Snapshot()
			r.dispatcher.ToViewers(types.NewCodeUpdate(snap.Code, "", "", snap.RecentPrompts))
		}
		if m.Playing != nil {
			r.dispatcher.ToViewers(&types.PlayStateMessage{Type: types.MessageTypePlayState, Playing: *m.Playing})
		}
		return nil

	case *types.SyncState:
		r.store.SetPlaying(m.Playing)
		r.dispatcher.ToViewers(&types.PlayStateMessage{Type: types.MessageTypePlayState, Playing: m.Playing})
		return nil

	case *types.SyncSlider:
		r.aggregator.UpdateValue(m.ID, m.Value)
		r.dispatcher.ToViewers(&types.SliderValueMessage{Type: types.MessageTypeSliderUpdate, ID: m.ID, Value: m.Value})
		r.dispatcher.ToMobiles(&types.SliderValueMessage{Type: types.MessageTypeSliderValueUpdate, ID: m.ID, Value: m.Value})
		return nil

	case *types.RegisterSliders:
		sliders := r.aggregator.RegisterSliders(m.Sliders)
		log.Printf("Master declared %d control surfaces", len(sliders))
		r.dispatcher.ToMobiles(&types.AvailableSlidersMessage{Type: types.MessageTypeAvailableSliders, Sliders: sliders})
		return nil

	case *types.ExecutionError:
		delivered := r.dispatcher.ToSession(m.SessionID, types.NewNotice(types.MessageTypeExecutionError, m.Message))
		log.Printf("Runtime error for session %s relayed to %d connections: %s", m.SessionID, delivered, m.Message)
		return nil

	case *types.ControlSlider:
		if conn.GetRole() != types.RoleMobile {
			return ErrNotMobile
		}
		r.aggregator.SetForce(conn.GetSessionID(), m.ID, m.Force)
		return nil

	case *types.StopControl:
		if conn.GetRole() != types.RoleMobile {
			return ErrNotMobile
		}
		if m.All {
			r.aggregator.StopAll(conn.GetSessionID())
		} else {
			r.aggregator.StopForce(conn.GetSessionID(), m.ID)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", types.ErrUnknownMessageType, msg.MessageType())
	}
}
