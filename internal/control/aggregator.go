// Package control sums mobile force input per control surface on a fixed
// tick and relays the clamped result to the master.
package control

import (
	"context"
	"math"
	"sync"
	"time"

	"vibepie/internal/metrics"
	"vibepie/pkg/types"
)

// Defaults used when the configuration leaves them unset.
const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultEpsilon      = 0.01
)

// Emitter delivers aggregation output. The broadcast dispatcher satisfies it.
type Emitter interface {
	ToMaster(msg interface{}) bool
	ToMobiles(msg interface{}) int
}

// Aggregator owns the declared control surfaces and the force table
// surfaceID -> sessionID -> force.
type Aggregator struct {
	emitter  Emitter
	interval time.Duration
	epsilon  float64

	mu      sync.Mutex
	sliders []types.Slider
	index   map[string]int
	forces  map[string]map[string]float64
}

func NewAggregator(emitter Emitter, interval time.Duration, epsilon float64) *Aggregator {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Aggregator{
		emitter:  emitter,
		interval: interval,
		epsilon:  epsilon,
		index:    make(map[string]int),
		forces:   make(map[string]map[string]float64),
	}
}

// RegisterSliders atomically replaces the declared surface set and purges
// force entries for every surface that is no longer declared. Duplicate ids
// keep their first declaration.
func (a *Aggregator) RegisterSliders(sliders []types.Slider) []types.Slider {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sliders = make([]types.Slider, 0, len(sliders))
	a.index = make(map[string]int, len(sliders))
	for _, s := range sliders {
		if _, dup := a.index[s.ID]; dup {
			continue
		}
		a.index[s.ID] = len(a.sliders)
		a.sliders = append(a.sliders, s)
	}
	for id := range a.forces {
		if _, ok := a.index[id]; !ok {
			delete(a.forces, id)
		}
	}
	return a.slidersLocked()
}

func (a *Aggregator) Sliders() []types.Slider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slidersLocked()
}

// SetForce records sessionID's force on surface id, clamped to [-1, 1].
// Forces for undeclared surfaces are ignored.
func (a *Aggregator) SetForce(sessionID, id string, force float64) bool {
	if math.IsNaN(force) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.index[id]; !ok {
		return false
	}
	if a.forces[id] == nil {
		a.forces[id] = make(map[string]float64)
	}
	a.forces[id][sessionID] = clamp(force)
	return true
}

// StopForce removes sessionID's entry from surface id.
func (a *Aggregator) StopForce(sessionID, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(id, sessionID)
}

// StopAll removes sessionID from every surface and returns how many entries
// were dropped.
func (a *Aggregator) StopAll(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, sessions := range a.forces {
		if _, ok := sessions[sessionID]; ok {
			a.removeLocked(id, sessionID)
			removed++
		}
	}
	return removed
}

// UpdateValue records the master's reported value for surface id.
func (a *Aggregator) UpdateValue(id string, value float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.index[id]
	if !ok {
		return false
	}
	a.sliders[i].Value = value
	return true
}

// Forces returns the aggregated force for every surface with at least one
// participant, in declaration order.
func (a *Aggregator) Forces() []types.SliderForce {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []types.SliderForce
	for _, s := range a.sliders {
		sessions := a.forces[s.ID]
		if len(sessions) == 0 {
			continue
		}
		sum := 0.0
		for _, f := range sessions {
			sum += f
		}
		out = append(out, types.SliderForce{
			ID:           s.ID,
			NetForce:     clamp(sum),
			Participants: len(sessions),
		})
	}
	return out
}

// Tick runs one aggregation cycle and returns the number of apply_force
// directives sent to the master.
func (a *Aggregator) Tick() int {
	forces := a.Forces()
	if len(forces) == 0 {
		return 0
	}

	applied := 0
	for _, f := range forces {
		if math.Abs(f.NetForce) <= a.epsilon {
			continue
		}
		if a.emitter.ToMaster(&types.ApplyForceMessage{
			Type:  types.MessageTypeApplyForce,
			ID:    f.ID,
			Force: f.NetForce,
		}) {
			applied++
			metrics.ForceEmissions.Inc()
		}
	}

	// FUNCTIONAL DISCOVERY: feedback goes out even when forces cancel, so
	// phones keep showing who else is pulling
	a.emitter.ToMobiles(&types.ForceInfoMessage{Type: types.MessageTypeForceInfo, Sliders: forces})
	return applied
}

// Run ticks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Tick()
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *Aggregator) removeLocked(id, sessionID string) {
	sessions, ok := a.forces[id]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(a.forces, id)
	}
}

func (a *Aggregator) slidersLocked() []types.Slider {
	out := make([]types.Slider, len(a.sliders))
	copy(out, a.sliders)
	return out
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
