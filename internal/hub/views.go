package hub

import (
	"context"
	"fmt"
	"log"

	"vibepie/internal/presets"
	"vibepie/internal/websocket"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// PresetSwitchPrefix precedes the preset name in the code_update prompt.
const PresetSwitchPrefix = "🎼 切换预设: "

// PatternView is one preset as listed by the state API.
type PatternView struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code"`
}

// StateView is the read-only snapshot served over HTTP.
type StateView struct {
	CurrentCode         string                  `json:"currentCode"`
	Playing             bool                    `json:"playing"`
	RecentPrompts       []string                `json:"recentPrompts"`
	QueueSize           int                     `json:"queueSize"`
	QueueCapacity       int                     `json:"queueCapacity"`
	Generating          bool                    `json:"generating"`
	// pulls still waiting on the master
	PendingCodeRequests int                     `json:"pendingCodeRequests"`
	Patterns            []PatternView           `json:"patterns"`
	Sliders             []types.Slider          `json:"sliders"`
	Forces              []types.SliderForce     `json:"forces"`
	Connections         websocket.RegistryStats `json:"connections"`
}

// Snapshot reads every component once. Values are mutually consistent only
// per component.
func (h *Hub) Snapshot() StateView {
	snap := h.store.Snapshot()
	view := StateView{
		CurrentCode:   snap.Code,
		Playing:       snap.Playing,
		RecentPrompts: snap.RecentPrompts,
		QueueSize:     h.queue.Size(),
		QueueCapacity: h.queue.Capacity(),
		Generating:    h.pipeline.Busy(),
		Patterns:      h.Patterns(),
		Sliders:       h.aggregator.Sliders(),
		Forces:        h.aggregator.Forces(),
		Connections:   h.registry.GetStats(),

		PendingCodeRequests: h.pullsync.Pending(),
	}
	if view.RecentPrompts == nil {
		view.RecentPrompts = []string{}
	}
	if view.Sliders == nil {
		view.Sliders = []types.Slider{}
	}
	if view.Forces == nil {
		view.Forces = []types.SliderForce{}
	}
	return view
}

func (h *Hub) Patterns() []PatternView {
	views := []PatternView{}
	if h.collab.Presets == nil {
		return views
	}
	for i, p := range h.collab.Presets.List() {
		views = append(views, PatternView{Index: i, Name: p.Name, Description: p.Description, Code: p.Code})
	}
	return views
}

// SwitchPreset is the administrative writer path: it replaces the current
// code with a preset and pushes it to every screen.
func (h *Hub) SwitchPreset(index int) (presets.Preset, error) {
	if h.collab.Presets == nil {
		return presets.Preset{}, ErrNoPresets
	}
	preset, err := h.collab.Presets.Get(index)
	if err != nil {
		return presets.Preset{}, err
	}

	recent := h.store.ApplyPreset(preset.Code)
	delivered := h.dispatcher.ToScreens(types.NewCodeUpdate(preset.Code, PresetSwitchPrefix+preset.Name, "", recent))
	log.Printf("Switched to preset %d (%s), pushed to %d screens", index, preset.Name, delivered)
	return preset, nil
}

// History lists recent generation outcomes, newest first, optionally for a
// single session.
func (h *Hub) History(ctx context.Context, sessionID string, limit int) ([]*types.GenerationRecord, error) {
	if h.collab.History == nil {
		return nil, interfaces.ErrHistoryUnavailable
	}
	var records []*types.GenerationRecord
	var err error
	if sessionID != "" {
		records, err = h.collab.History.SessionGenerations(ctx, sessionID, limit)
	} else {
		records, err = h.collab.History.RecentGenerations(ctx, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

// Health reports whether the hub loop is alive and the history store answers.
func (h *Hub) Health(ctx context.Context) error {
	select {
	case <-h.stopped:
		return ErrHubNotRunning
	default:
	}
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		return ErrHubNotRunning
	}
	if h.collab.History != nil {
		if err := h.collab.History.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stats is the connection count per role.
func (h *Hub) Stats() websocket.RegistryStats {
	return h.registry.GetStats()
}
