package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/relay"
	"golang.org/x/net/websocket"
)

type testFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func startHub(t *testing.T, connected bool) (*Hub, *httptest.Server) {
	t.Helper()
	var state atomic.Bool
	state.Store(connected)
	h := New(state.Load, Options{})
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got testFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func TestConnectedAndPing(t *testing.T) {
	_, srv := startHub(t, true)
	conn := dial(t, srv)

	hello := readFrame(t, conn)
	if hello.Event != "connected" || hello.Data["arkivActive"] != true || hello.Data["timestamp"] == nil {
		t.Fatalf("unexpected connect frame %+v", hello)
	}

	writeFrame(t, conn, Frame{Event: "ping"})
	pong := readFrame(t, conn)
	if pong.Event != "pong" || pong.Data["listenerCount"] != float64(1) {
		t.Fatalf("unexpected pong %+v", pong)
	}
}

func TestConnectedFrameComesFirst(t *testing.T) {
	h, srv := startHub(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			h.Broadcast(Frame{Event: relay.NameCreated, Data: map[string]any{"entityKey": "0x1"}})
		}
	}()

	for i := 0; i < 20; i++ {
		conn := dial(t, srv)
		if first := readFrame(t, conn); first.Event != "connected" {
			t.Fatalf("connection %d: first frame was %q, want connected", i, first.Event)
		}
		_ = conn.Close()
	}
}

func TestRunForwardsRelayEvents(t *testing.T) {
	h, srv := startHub(t, false)
	a := dial(t, srv)
	b := dial(t, srv)
	readFrame(t, a)
	readFrame(t, b)

	events := make(chan *relay.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, events)

	events <- &relay.Event{Name: relay.NameDeleted, EntityKey: "0xabc", Timestamp: "now"}
	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		if f.Event != relay.NameDeleted || f.Data["entityKey"] != "0xabc" {
			t.Errorf("unexpected frame %+v", f)
		}
	}
}

func TestBlockedListenerDoesNotStallOthers(t *testing.T) {
	h := New(nil, Options{OutboxSize: 1})
	stuck := &listener{id: 1, outbox: make(chan Frame, 1), done: make(chan struct{})}
	healthy := &listener{id: 2, outbox: make(chan Frame, 16), done: make(chan struct{})}
	h.listeners.Store(stuck.id, stuck)
	h.listeners.Store(healthy.id, healthy)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			h.Broadcast(Frame{Event: relay.NameCreated})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full outbox")
	}

	if len(healthy.outbox) != 5 {
		t.Errorf("healthy listener got %d frames, want 5", len(healthy.outbox))
	}
	if len(stuck.outbox) != 1 {
		t.Errorf("stuck listener buffered %d frames, want 1", len(stuck.outbox))
	}
	if got := h.set.GetOrCreateCounter("ghostmesh_hub_dropped_frames_total").Get(); got != 4 {
		t.Errorf("expected 4 dropped frames, got %d", got)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	h, srv := startHub(t, false)
	conn := dial(t, srv)
	readFrame(t, conn)
	if h.Count() != 1 {
		t.Fatalf("expected 1 listener, got %d", h.Count())
	}
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("listener not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, srv := startHub(t, true)
	conn := dial(t, srv)
	readFrame(t, conn)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "healthy" || health["clients"] != float64(1) || health["relayConnected"] != true {
		t.Errorf("unexpected health %v", health)
	}
	if _, ok := health["uptime"].(float64); !ok {
		t.Errorf("uptime missing: %v", health)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ghostmesh_hub_listeners 1") {
		t.Errorf("listener gauge missing from metrics:\n%s", body)
	}
}

func TestClosedHubRejects(t *testing.T) {
	h, srv := startHub(t, false)
	h.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after close, got %d", resp.StatusCode)
	}
}
