// Package testutil provides recording fakes for component tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrFakeClosed = errors.New("fake connection closed")

// Envelope is one recorded outbound frame, decoded back into a generic map.
type Envelope map[string]interface{}

func (e Envelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

func (e Envelope) String(key string) string {
	s, _ := e[key].(string)
	return s
}

func (e Envelope) Float(key string) float64 {
	f, _ := e[key].(float64)
	return f
}

// FakeConnection records every WriteJSON call. It satisfies
// interfaces.Connection.
type FakeConnection struct {
	mu        sync.Mutex
	id        string
	role      string
	sessionID string
	closed    bool
	failWrite bool
	sent      []Envelope
	notify    chan struct{}
}

func NewFakeConnection(role, sessionID string) *FakeConnection {
	return &FakeConnection{
		id:        uuid.NewString(),
		role:      role,
		sessionID: sessionID,
		notify:    make(chan struct{}, 1),
	}
}

func (f *FakeConnection) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFakeClosed
	}
	if f.failWrite {
		return errors.New("fake write failure")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.sent = append(f.sent, env)
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

func (f *FakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeConnection) GetID() string        { return f.id }
func (f *FakeConnection) GetSessionID() string { return f.sessionID }

func (f *FakeConnection) GetRole() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

func (f *FakeConnection) SetRole(role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.role = role
}

func (f *FakeConnection) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// FailWrites makes every following WriteJSON return an error.
func (f *FakeConnection) FailWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite = true
}

// Sent returns a copy of every recorded envelope.
func (f *FakeConnection) Sent() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

// OfType returns the recorded envelopes with the given type, in order.
func (f *FakeConnection) OfType(messageType string) []Envelope {
	var out []Envelope
	for _, env := range f.Sent() {
		if env.Type() == messageType {
			out = append(out, env)
		}
	}
	return out
}

// Types returns the type of every recorded envelope, in order.
func (f *FakeConnection) Types() []string {
	sent := f.Sent()
	out := make([]string, len(sent))
	for i, env := range sent {
		out[i] = env.Type()
	}
	return out
}

// Last returns the most recent envelope with the given type.
func (f *FakeConnection) Last(messageType string) (Envelope, bool) {
	all := f.OfType(messageType)
	if len(all) == 0 {
		return nil, false
	}
	return all[len(all)-1], true
}

// Reset drops everything recorded so far.
func (f *FakeConnection) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// Notify fires after each recorded write. Coalesced.
func (f *FakeConnection) Notify() <-chan struct{} {
	return f.notify
}
