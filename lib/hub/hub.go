package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/relay"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/net/websocket"
)

var Logger = logger.GetLogger("hub")

const (
	// DefaultOutboxSize is the number of frames buffered per listener
	DefaultOutboxSize = 64

	writeTimeout = 10 * time.Second
	// maxDecodeErrors closes a listener that keeps sending garbage
	maxDecodeErrors = 8
)

// Frame is a single websocket message
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	OutboxSize int
	// Metrics receives the hub metrics and is served on /metrics, a private set is used if nil
	Metrics *metrics.Set
	// Now is the clock, defaults to time.Now
	Now func() time.Time
}

// Hub fans relay events out to all websocket listeners. Every listener has a bounded
// outbox drained by its own writer, a full outbox drops frames for that listener only.
type Hub struct {
	opts      Options
	set       *metrics.Set
	started   time.Time
	connected func() bool

	listeners *xsync.MapOf[uint64, *listener]
	seq       atomic.Uint64

	closeOnce sync.Once
	closing   chan struct{}
}

type listener struct {
	id     uint64
	conn   *websocket.Conn
	outbox chan Frame
	done   chan struct{}
	once   sync.Once
}

func (l *listener) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// New creates a hub. connected reports whether the relay holds a subscription, it feeds
// /health and the connected frame.
func New(connected func() bool, opts Options) *Hub {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if connected == nil {
		connected = func() bool { return false }
	}
	set := opts.Metrics
	if set == nil {
		set = metrics.NewSet()
	}

	h := &Hub{
		opts:      opts,
		set:       set,
		started:   opts.Now(),
		connected: connected,
		listeners: xsync.NewMapOf[uint64, *listener](),
		closing:   make(chan struct{}),
	}
	set.GetOrCreateGauge("ghostmesh_hub_listeners", func() float64 {
		return float64(h.Count())
	})
	return h
}

// Count returns the number of connected listeners
func (h *Hub) Count() int {
	return h.listeners.Size()
}

// Broadcast queues f for every listener without blocking
func (h *Hub) Broadcast(f Frame) {
	h.listeners.Range(func(_ uint64, l *listener) bool {
		h.offer(l, f)
		return true
	})
	h.set.GetOrCreateCounter(`ghostmesh_hub_frames_total{event="` + f.Event + `"}`).Inc()
}

func (h *Hub) offer(l *listener, f Frame) {
	select {
	case l.outbox <- f:
	default:
		h.set.GetOrCreateCounter("ghostmesh_hub_dropped_frames_total").Inc()
		Logger.Warningf("listener %d is not keeping up, dropped %s frame", l.id, f.Event)
	}
}

// Run broadcasts relay events until the channel is closed or ctx is done
func (h *Hub) Run(ctx context.Context, events <-chan *relay.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(Frame{Event: ev.Name, Data: ev.Data()})
		}
	}
}

// Close disconnects all listeners. Connections arriving afterwards are rejected.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closing)
		h.listeners.Range(func(id uint64, l *listener) bool {
			l.close()
			h.listeners.Delete(id)
			return true
		})
		Logger.Infof("hub closed")
	})
}

// --------------------------------------------------------------------------
// HTTP
// --------------------------------------------------------------------------

// Handler returns the websocket endpoint (/ws) together with /health and /metrics
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	ws := websocket.Handler(h.serve)

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		select {
		case <-h.closing:
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		ws.ServeHTTP(w, r)
	})
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		h.set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	return mux
}

func (h *Hub) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "healthy",
		"uptime":         h.opts.Now().Sub(h.started).Seconds(),
		"clients":        h.Count(),
		"relayConnected": h.connected(),
	})
}

func (h *Hub) timestamp() string {
	return h.opts.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// serve runs one listener connection until the client goes away
func (h *Hub) serve(conn *websocket.Conn) {
	l := &listener{
		id:     h.seq.Add(1),
		conn:   conn,
		outbox: make(chan Frame, h.opts.OutboxSize),
		done:   make(chan struct{}),
	}
	// the acknowledgment is queued before the listener becomes visible to Broadcast
	h.offer(l, Frame{Event: "connected", Data: map[string]any{
		"message":     "Connected to ghostmesh relay",
		"arkivActive": h.connected(),
		"timestamp":   h.timestamp(),
	}})

	h.listeners.Store(l.id, l)
	Logger.Infof("listener %d connected (%d total)", l.id, h.Count())
	defer func() {
		h.listeners.Delete(l.id)
		l.close()
		Logger.Infof("listener %d disconnected (%d total)", l.id, h.Count())
	}()

	go h.write(l)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var f Frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case <-l.done:
				return
			default:
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrors {
				Logger.Warningf("listener %d sent %d invalid frames, closing", l.id, decodeErrors)
				return
			}
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		switch f.Event {
		case "ping":
			h.offer(l, Frame{Event: "pong", Data: map[string]any{
				"timestamp":     h.timestamp(),
				"listenerCount": h.Count(),
			}})
		default:
			Logger.Debugf("listener %d sent unsupported frame %q", l.id, f.Event)
		}
	}
}

// write is the only writer of a listener connection
func (h *Hub) write(l *listener) {
	encoder := json.NewEncoder(l.conn)
	for {
		select {
		case <-l.done:
			return
		case f := <-l.outbox:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := encoder.Encode(f); err != nil {
				Logger.Debugf("listener %d write failed: %v", l.id, err)
				l.close()
				return
			}
		}
	}
}
