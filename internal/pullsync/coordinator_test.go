package pullsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibepie/internal/state"
	"vibepie/pkg/types"
)

// fakeMaster records request ids and optionally answers them.
type fakeMaster struct {
	mu       sync.Mutex
	present  bool
	accept   bool
	requests []string
	onSend   func(requestID string)
	// stall, when set, holds every send until it is closed
	stall chan struct{}
}

func (f *fakeMaster) HasMaster() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present
}

func (f *fakeMaster) ToMaster(msg interface{}) bool {
	req, ok := msg.(*types.RequestCodeMessage)
	if !ok {
		return false
	}
	f.mu.Lock()
	f.requests = append(f.requests, req.RequestID)
	onSend := f.onSend
	accept := f.accept
	stall := f.stall
	f.mu.Unlock()
	if stall != nil {
		<-stall
	}
	if onSend != nil {
		go onSend(req.RequestID)
	}
	return accept
}

func (f *fakeMaster) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}

func TestRequestFreshCode_NoMasterReturnsCachedImmediately(t *testing.T) {
	store := state.NewStore("cached", 0)
	c := NewCoordinator(&fakeMaster{}, store, 2*time.Second)

	start := time.Now()
	code, fresh := c.RequestFreshCode(context.Background(), 0)

	assert.Equal(t, "cached", code)
	assert.False(t, fresh)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRequestFreshCode_MatchingReplyWins(t *testing.T) {
	store := state.NewStore("cached", 0)
	master := &fakeMaster{present: true, accept: true}
	c := NewCoordinator(master, store, time.Second)
	master.onSend = func(id string) {
		c.HandleSync(&types.SyncCode{Code: "live", RequestID: id})
	}

	code, fresh := c.RequestFreshCode(context.Background(), 0)

	assert.Equal(t, "live", code)
	assert.True(t, fresh)
	assert.Equal(t, "live", store.Code(), "reply should update the cache")
	assert.Equal(t, 0, c.Pending())
}

func TestRequestFreshCode_TimeoutFallsBackAndLateReplyDropped(t *testing.T) {
	store := state.NewStore("cached", 0)
	master := &fakeMaster{present: true, accept: true}
	c := NewCoordinator(master, store, time.Second)

	start := time.Now()
	code, fresh := c.RequestFreshCode(context.Background(), 50*time.Millisecond)

	assert.Equal(t, "cached", code)
	assert.False(t, fresh)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, c.Pending())

	assert.False(t, c.Resolve(master.lastRequest(), "late"), "late reply must be ignored")
}

func TestRequestFreshCode_SendFailureFallsBack(t *testing.T) {
	store := state.NewStore("cached", 0)
	c := NewCoordinator(&fakeMaster{present: true, accept: false}, store, time.Second)

	code, fresh := c.RequestFreshCode(context.Background(), 0)
	assert.Equal(t, "cached", code)
	assert.False(t, fresh)
	assert.Equal(t, 0, c.Pending())
}

func TestRequestFreshCode_StalledSendCountsAgainstTimeout(t *testing.T) {
	store := state.NewStore("cached", 0)
	master := &fakeMaster{present: true, accept: true, stall: make(chan struct{})}
	defer close(master.stall)
	c := NewCoordinator(master, store, time.Second)

	start := time.Now()
	code, fresh := c.RequestFreshCode(context.Background(), 50*time.Millisecond)

	assert.Equal(t, "cached", code)
	assert.False(t, fresh)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "a stuck socket must not stretch the wait")
	assert.Equal(t, 0, c.Pending())
}

func TestRequestFreshCode_ContextCancel(t *testing.T) {
	store := state.NewStore("cached", 0)
	c := NewCoordinator(&fakeMaster{present: true, accept: true}, store, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	code, fresh := c.RequestFreshCode(ctx, 0)
	assert.Equal(t, "cached", code)
	assert.False(t, fresh)
}

func TestResolve_ExactlyOnce(t *testing.T) {
	store := state.NewStore("cached", 0)
	master := &fakeMaster{present: true, accept: true}
	c := NewCoordinator(master, store, time.Second)

	done := make(chan string, 1)
	go func() {
		code, _ := c.RequestFreshCode(context.Background(), 0)
		done <- code
	}()

	require.Eventually(t, func() bool { return c.Pending() == 1 && master.lastRequest() != "" }, time.Second, 5*time.Millisecond)
	id := master.lastRequest()

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- c.Resolve(id, "live")
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "live", <-done)
}

func TestAbandon_ResolvesWaitersWithCache(t *testing.T) {
	store := state.NewStore("cached", 0)
	c := NewCoordinator(&fakeMaster{present: true, accept: true}, store, 5*time.Second)

	done := make(chan bool, 1)
	go func() {
		_, fresh := c.RequestFreshCode(context.Background(), 0)
		done <- fresh
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, c.Abandon())
	select {
	case fresh := <-done:
		assert.False(t, fresh)
	case <-time.After(time.Second):
		t.Fatal("Abandon did not release the waiter")
	}
}

func TestHandleSync_PlayingAndBlankCode(t *testing.T) {
	store := state.NewStore("x", 0)
	c := NewCoordinator(&fakeMaster{}, store, time.Second)
	playing := true

	changed := c.HandleSync(&types.SyncCode{Code: "   ", Playing: &playing})

	assert.False(t, changed)
	assert.Equal(t, "x", store.Code())
	assert.True(t, store.Snapshot().Playing)
	assert.True(t, c.HandleSync(&types.SyncCode{Code: "y"}))
}
