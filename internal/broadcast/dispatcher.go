// Package broadcast fans outbound envelopes out to role subsets.
package broadcast

import (
	"log"

	"vibepie/pkg/interfaces"
)

// Directory is the subset of the connection registry the dispatcher reads.
type Directory interface {
	Master() (interfaces.Connection, bool)
	Viewers() []interfaces.Connection
	Mobiles() []interfaces.Connection
	Screens() []interfaces.Connection
	MobilesBySession(sessionID string) []interfaces.Connection
}

// Dispatcher resolves recipients through the registry on every call and
// never caches connection handles.
type Dispatcher struct {
	dir Directory
}

func NewDispatcher(dir Directory) *Dispatcher {
	return &Dispatcher{dir: dir}
}

// ToScreens sends to the master and every viewer.
func (d *Dispatcher) ToScreens(msg interface{}) int {
	return d.fanOut(d.dir.Screens(), msg)
}

func (d *Dispatcher) ToViewers(msg interface{}) int {
	return d.fanOut(d.dir.Viewers(), msg)
}

func (d *Dispatcher) ToMobiles(msg interface{}) int {
	return d.fanOut(d.dir.Mobiles(), msg)
}

// ToAll sends to every screen and every mobile.
func (d *Dispatcher) ToAll(msg interface{}) int {
	return d.ToScreens(msg) + d.ToMobiles(msg)
}

// ToSession sends to every mobile connection of sessionID.
func (d *Dispatcher) ToSession(sessionID string, msg interface{}) int {
	return d.fanOut(d.dir.MobilesBySession(sessionID), msg)
}

// ToMaster reports whether a live master accepted the message.
func (d *Dispatcher) ToMaster(msg interface{}) bool {
	master, ok := d.dir.Master()
	if !ok {
		return false
	}
	if err := master.WriteJSON(msg); err != nil {
		log.Printf("Send to master %s failed: %v", master.GetID(), err)
		return false
	}
	return true
}

func (d *Dispatcher) HasMaster() bool {
	_, ok := d.dir.Master()
	return ok
}

// Reply sends to a single connection if it is still open.
func Reply(conn interfaces.Connection, msg interface{}) bool {
	if conn == nil || !conn.IsOpen() {
		return false
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Reply to %s failed: %v", conn.GetID(), err)
		return false
	}
	return true
}

// FUNCTIONAL DISCOVERY: a failed write to one recipient never aborts the fan-out
func (d *Dispatcher) fanOut(conns []interfaces.Connection, msg interface{}) int {
	delivered := 0
	for _, conn := range conns {
		if Reply(conn, msg) {
			delivered++
		}
	}
	return delivered
}
