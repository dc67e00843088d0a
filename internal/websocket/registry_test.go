package websocket

import (
	"fmt"
	"sync"
	"testing"

	"vibepie/internal/testutil"
	"vibepie/pkg/types"
)

func TestRegistry_NewRegistryInitialization(t *testing.T) {
	stats := NewRegistry().GetStats()
	if stats.Master || stats.Viewers != 0 || stats.Mobiles != 0 {
		t.Errorf("Expected empty registry, got %+v", stats)
	}
}

func TestRegistry_NilConnection(t *testing.T) {
	r := NewRegistry()
	if _, err := r.SetMaster(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if err := r.AddViewer(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if err := r.AddMobile(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
}

func TestRegistry_MasterEviction(t *testing.T) {
	r := NewRegistry()
	first := testutil.NewFakeConnection("", "a")
	second := testutil.NewFakeConnection("", "b")

	if prev, _ := r.SetMaster(first); prev != nil {
		t.Error("First master should not evict anyone")
	}
	prev, _ := r.SetMaster(second)
	if prev != first {
		t.Fatal("Second master should return the first as evicted")
	}

	master, ok := r.Master()
	if !ok || master != second {
		t.Error("Second master should be canonical")
	}
	if second.GetRole() != types.RoleMaster {
		t.Errorf("Expected role master, got %s", second.GetRole())
	}

	// Late disconnect of the evicted master must not clear its successor.
	if _, removed := r.Remove(first); removed {
		t.Error("Evicted master should not be removable")
	}
	if !r.IsMaster(second) {
		t.Error("Successor should still be master")
	}
}

func TestRegistry_ClosedMasterIsAbsent(t *testing.T) {
	r := NewRegistry()
	m := testutil.NewFakeConnection("", "a")
	r.SetMaster(m)
	m.Close()

	if _, ok := r.Master(); ok {
		t.Error("Closed master should not be returned")
	}
}

func TestRegistry_RemoveReportsRole(t *testing.T) {
	r := NewRegistry()
	m := testutil.NewFakeConnection("", "m")
	v := testutil.NewFakeConnection("", "v")
	p := testutil.NewFakeConnection("", "p")
	r.SetMaster(m)
	r.AddViewer(v)
	r.AddMobile(p)

	tests := []struct {
		conn *testutil.FakeConnection
		role string
	}{
		{v, types.RoleViewer},
		{p, types.RoleMobile},
		{m, types.RoleMaster},
	}
	for _, tt := range tests {
		role, removed := r.Remove(tt.conn)
		if !removed || role != tt.role {
			t.Errorf("Expected %s removed, got %s (%v)", tt.role, role, removed)
		}
	}

	if _, removed := r.Remove(v); removed {
		t.Error("Second Remove should be a no-op")
	}
	stats := r.GetStats()
	if stats.Master || stats.Viewers != 0 || stats.Mobiles != 0 {
		t.Errorf("Expected empty registry, got %+v", stats)
	}
}

func TestRegistry_Lookups(t *testing.T) {
	r := NewRegistry()
	m := testutil.NewFakeConnection("", "m")
	r.SetMaster(m)
	r.AddViewer(testutil.NewFakeConnection("", "v1"))
	r.AddViewer(testutil.NewFakeConnection("", "v2"))
	tab1 := testutil.NewFakeConnection("", "phone")
	tab2 := testutil.NewFakeConnection("", "phone")
	r.AddMobile(tab1)
	r.AddMobile(tab2)
	r.AddMobile(testutil.NewFakeConnection("", "other"))

	if got := len(r.Screens()); got != 3 {
		t.Errorf("Expected 3 screens, got %d", got)
	}
	if got := len(r.Viewers()); got != 2 {
		t.Errorf("Expected 2 viewers, got %d", got)
	}
	if got := len(r.Mobiles()); got != 3 {
		t.Errorf("Expected 3 mobiles, got %d", got)
	}
	if got := len(r.MobilesBySession("phone")); got != 2 {
		t.Errorf("Expected 2 connections for session phone, got %d", got)
	}

	r.Remove(tab1)
	if !r.HasMobileSession("phone") {
		t.Error("Session with one remaining tab should still be present")
	}
	r.Remove(tab2)
	if r.HasMobileSession("phone") {
		t.Error("Session should be gone after its last connection")
	}
}

func TestRegistry_ConcurrentRegistrationAndRemoval(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := testutil.NewFakeConnection("", fmt.Sprintf("s%d", i%5))
			if i%2 == 0 {
				r.AddViewer(conn)
			} else {
				r.AddMobile(conn)
			}
			_ = r.Screens()
			_ = r.Mobiles()
			r.Remove(conn)
		}(i)
	}
	wg.Wait()

	stats := r.GetStats()
	if stats.Viewers != 0 || stats.Mobiles != 0 {
		t.Errorf("Expected empty registry after churn, got %+v", stats)
	}
}
