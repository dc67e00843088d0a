package interfaces

// Connection is one client channel as seen by the orchestrator.
// ARCHITECTURAL DISCOVERY: components hold this interface, never the
// websocket type, so tests can drive them with recording fakes
type Connection interface {
	// WriteJSON sends a JSON envelope to the client (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the channel. Safe to call more than once.
	Close() error

	// GetID returns the server-assigned connection id
	GetID() string

	// GetRole returns master, viewer, mobile or "" before role entry
	GetRole() string

	// SetRole is called by the connection registry on role entry
	SetRole(role string)

	// GetSessionID returns the logical user session, stable across reconnects
	GetSessionID() string

	// IsOpen reports whether the channel can still deliver messages
	IsOpen() bool
}
