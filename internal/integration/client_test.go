package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// frame is one decoded server message; Raw keeps the full payload.
type frame struct {
	Type string
	Raw  map[string]interface{}
}

// testClient is a real WebSocket client driving the server over TCP
type testClient struct {
	conn     *websocket.Conn
	messages chan frame
	done     chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

// dial connects with the given query parameters (type, key, session)
func dial(ctx context.Context, addr string, params map[string]string) (*testClient, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	query := u.Query()
	for k, v := range params {
		query.Set(k, v)
	}
	u.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	tc := &testClient{
		conn:     conn,
		messages: make(chan frame, 256),
		done:     make(chan struct{}),
	}
	go tc.readLoop()
	return tc, nil
}

func (tc *testClient) readLoop() {
	defer close(tc.done)
	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		msgType, _ := raw["type"].(string)
		tc.messages <- frame{Type: msgType, Raw: raw}
	}
}

func (tc *testClient) send(v interface{}) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	tc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return tc.conn.WriteJSON(v)
}

// receiveType waits for the next message of msgType, skipping others
func (tc *testClient) receiveType(msgType string, timeout time.Duration) (frame, error) {
	deadline := time.After(timeout)
	for {
		select {
		case f := <-tc.messages:
			if f.Type == msgType {
				return f, nil
			}
		case <-tc.done:
			return frame{}, fmt.Errorf("client disconnected waiting for %s", msgType)
		case <-deadline:
			return frame{}, fmt.Errorf("timeout waiting for %s", msgType)
		}
	}
}

// closed reports whether the server ended the connection within timeout
func (tc *testClient) closed(timeout time.Duration) bool {
	select {
	case <-tc.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (tc *testClient) Close() {
	tc.once.Do(func() {
		tc.conn.Close()
	})
}

// answerPulls plays a master display: every request_code is answered with
// code and everything else is forwarded. Returns when the connection ends.
func (tc *testClient) answerPulls(code string, forward chan<- frame) {
	for {
		select {
		case f := <-tc.messages:
			if f.Type == "request_code" {
				tc.send(map[string]interface{}{
					"type":      "sync_code",
					"code":      code,
					"requestId": f.Raw["requestId"],
				})
				continue
			}
			select {
			case forward <- f:
			default:
			}
		case <-tc.done:
			return
		}
	}
}
