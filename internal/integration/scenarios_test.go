package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibepie/internal/app"
	"vibepie/internal/config"
)

const (
	masterKey  = "integration-key"
	masterCode = `s("bd sd").gain(0.8)`
	wait       = 3 * time.Second
)

// startServer runs the whole application on an ephemeral port
func startServer(t *testing.T) *app.Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "vibepie.db")
	cfg.Orchestrator.MasterKey = masterKey
	cfg.Orchestrator.ControlTick = 20 * time.Millisecond
	cfg.Orchestrator.PullSyncTimeout = 500 * time.Millisecond
	cfg.Orchestrator.ViewerSyncTimeout = 500 * time.Millisecond
	cfg.AI.APIKey = ""

	application, err := app.NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		application.Stop(ctx)
	})
	return application
}

func connect(t *testing.T, application *app.Application, params map[string]string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	client, err := dial(ctx, application.GetAddr(), params)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// connectMaster joins as the master display and answers pulls in the
// background; non-pull traffic arrives on the returned channel.
func connectMaster(t *testing.T, application *app.Application) (*testClient, <-chan frame) {
	t.Helper()
	master := connect(t, application, map[string]string{"type": "screen", "key": masterKey})
	init, err := master.receiveType("init", wait)
	require.NoError(t, err)
	require.Equal(t, "master", init.Raw["role"])

	forwarded := make(chan frame, 256)
	go master.answerPulls(masterCode, forwarded)
	return master, forwarded
}

func awaitType(t *testing.T, frames <-chan frame, msgType string) frame {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case f := <-frames:
			if f.Type == msgType {
				return f
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", msgType)
		}
	}
}

// SCENARIO: a phone's prompt is generated against the master's live code,
// lands on the master and is written to the history log
func TestScenario_PromptReachesMaster(t *testing.T) {
	application := startServer(t)
	_, masterFrames := connectMaster(t, application)

	phone := connect(t, application, map[string]string{"type": "mobile", "session": "phone-a"})
	_, err := phone.receiveType("init", wait)
	require.NoError(t, err)

	require.NoError(t, phone.send(map[string]string{"type": "submit_prompt", "prompt": "加个鼓"}))

	queued, err := phone.receiveType("queued", wait)
	require.NoError(t, err)
	assert.Equal(t, float64(1), queued.Raw["position"])

	_, err = phone.receiveType("prompt_applied", wait)
	require.NoError(t, err)

	update := awaitType(t, masterFrames, "code_update")
	code, _ := update.Raw["code"].(string)
	assert.Contains(t, code, masterCode, "generation starts from the pulled master code")
	assert.Equal(t, "加个鼓", update.Raw["prompt"])
	assert.Equal(t, "phone-a", update.Raw["sessionId"])

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + application.GetAddr() + "/api/history")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Generations []struct {
				SessionID string `json:"sessionId"`
				Status    string `json:"status"`
			} `json:"generations"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) != nil || len(body.Generations) != 1 {
			return false
		}
		return body.Generations[0].SessionID == "phone-a" && body.Generations[0].Status == "applied"
	}, wait, 20*time.Millisecond)
}

// SCENARIO: the second prompt inside the window is refused with a wait time
func TestScenario_RateLimitedSecondPrompt(t *testing.T) {
	application := startServer(t)
	connectMaster(t, application)

	phone := connect(t, application, map[string]string{"type": "mobile", "session": "phone-b"})
	_, err := phone.receiveType("init", wait)
	require.NoError(t, err)

	require.NoError(t, phone.send(map[string]string{"type": "submit_prompt", "prompt": "慢一点"}))
	_, err = phone.receiveType("queued", wait)
	require.NoError(t, err)

	require.NoError(t, phone.send(map[string]string{"type": "submit_prompt", "prompt": "再慢一点"}))
	limited, err := phone.receiveType("rate_limited", wait)
	require.NoError(t, err)
	seconds, _ := limited.Raw["waitSeconds"].(float64)
	assert.Greater(t, seconds, float64(0))
}

// SCENARIO: sliders registered by the master are steered by phones
func TestScenario_SliderForces(t *testing.T) {
	application := startServer(t)
	master, masterFrames := connectMaster(t, application)

	phone := connect(t, application, map[string]string{"type": "mobile", "session": "phone-c"})
	_, err := phone.receiveType("init", wait)
	require.NoError(t, err)

	require.NoError(t, master.send(map[string]interface{}{
		"type":    "register_sliders",
		"sliders": []map[string]interface{}{{"id": "lpf", "min": 200, "max": 8000, "value": 1000}},
	}))
	available, err := phone.receiveType("available_sliders", wait)
	require.NoError(t, err)
	sliders, _ := available.Raw["sliders"].([]interface{})
	require.Len(t, sliders, 1)

	require.NoError(t, phone.send(map[string]interface{}{"type": "control_slider", "id": "lpf", "force": 0.5}))

	force := awaitType(t, masterFrames, "apply_force")
	assert.Equal(t, "lpf", force.Raw["id"])
	assert.InDelta(t, 0.5, force.Raw["force"], 1e-9)

	_, err = phone.receiveType("force_info", wait)
	require.NoError(t, err)
}

// SCENARIO: a display without the key mirrors the master's live code
func TestScenario_ViewerMirrorsMaster(t *testing.T) {
	application := startServer(t)
	connectMaster(t, application)

	viewer := connect(t, application, map[string]string{"type": "screen"})
	init, err := viewer.receiveType("init", wait)
	require.NoError(t, err)
	assert.Equal(t, "viewer", init.Raw["role"])
	assert.Equal(t, masterCode, init.Raw["code"])
}

// SCENARIO: a new master evicts the old one
func TestScenario_MasterEviction(t *testing.T) {
	application := startServer(t)
	first := connect(t, application, map[string]string{"type": "screen", "key": masterKey})
	_, err := first.receiveType("init", wait)
	require.NoError(t, err)

	second := connect(t, application, map[string]string{"type": "screen", "key": masterKey})
	init, err := second.receiveType("init", wait)
	require.NoError(t, err)
	assert.Equal(t, "master", init.Raw["role"])

	assert.True(t, first.closed(wait), "previous master should be disconnected")
}

// SCENARIO: bad connection parameters are refused before the upgrade
func TestScenario_InvalidClientTypeRejected(t *testing.T) {
	application := startServer(t)

	resp, err := http.Get("http://" + application.GetAddr() + "/ws?type=projector")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// SCENARIO: a fast drag that trips the flood guard, then a release; the
// phone's force must be gone from later ticks
func TestScenario_ReleaseAfterFastDrag(t *testing.T) {
	application := startServer(t)
	master, _ := connectMaster(t, application)

	phone := connect(t, application, map[string]string{"type": "mobile", "session": "phone-d"})
	_, err := phone.receiveType("init", wait)
	require.NoError(t, err)

	require.NoError(t, master.send(map[string]interface{}{
		"type":    "register_sliders",
		"sliders": []map[string]interface{}{{"id": "lpf", "min": 0, "max": 1, "value": 0.5}},
	}))
	_, err = phone.receiveType("available_sliders", wait)
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		require.NoError(t, phone.send(map[string]interface{}{"type": "control_slider", "id": "lpf", "force": 0.5}))
	}
	require.NoError(t, phone.send(map[string]interface{}{"type": "stop_control", "all": true}))

	time.Sleep(300 * time.Millisecond)

	resp, err := http.Get("http://" + application.GetAddr() + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var state struct {
		Forces []map[string]interface{} `json:"forces"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Empty(t, state.Forces, "released session must not keep pulling the slider")
}
