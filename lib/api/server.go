package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/vault"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("api")

const maxBodySize = 1 << 20

// Options configures a Server
type Options struct {
	// Metrics is served on /metrics, a private set is used if nil
	Metrics *metrics.Set
	// Now is the clock, defaults to time.Now
	Now func() time.Time
}

// Server is the HTTP API of the encrypted entity client
type Server struct {
	client  *vault.Client
	mux     *http.ServeMux
	set     *metrics.Set
	now     func() time.Time
	started time.Time
}

// NewServer creates the API for client
func NewServer(client *vault.Client, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}
	s := &Server{
		client:  client,
		mux:     http.NewServeMux(),
		set:     opts.Metrics,
		now:     opts.Now,
		started: opts.Now(),
	}

	s.mux.HandleFunc("OPTIONS /", s.preflight)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/entities", s.handleQuery)
	s.mux.HandleFunc("GET /api/{type}", s.handleQuery)
	s.mux.HandleFunc("POST /api/entities", s.handleCreate)
	s.mux.HandleFunc("POST /api/messages", s.handleMessage)
	s.mux.HandleFunc("POST /api/sensors", s.handleSensor)
	s.mux.HandleFunc("PUT /api/entities/{key}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/entities/{key}", s.handleDelete)
	s.mux.HandleFunc("POST /api/entities/{key}/extend", s.handleExtend)
	s.mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	Logger.Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *Server) preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":    "online",
		"address":   s.client.Address(),
		"readOnly":  s.client.Address() == "",
		"uptime":    s.now().Sub(s.started).Seconds(),
		"timestamp": timestamp(s.now()),
	}
	if q := s.client.Queue(); q != nil {
		status["queueDepth"] = q.Len()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	typ := strings.TrimSpace(r.PathValue("type"))
	if r.URL.Path != "/api/entities" && typ == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Type parameter is required"})
		return
	}

	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	entities, err := s.client.Read(r.Context(), typ)
	if err != nil {
		Logger.Errorf("query of type %q failed: %v", typ, err)
		writeJSON(w, statusOf(err), map[string]any{"success": false, "error": err.Error(), "type": typ})
		return
	}
	matched := f.apply(entities)
	Logger.Infof("found %d entities of type %q (%d before filtering)", len(matched), typ, len(entities))

	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"type":                 typ,
		"count":                len(matched),
		"totalBeforeFiltering": len(entities),
		"entities":             matched,
		"filters":              f.echo(),
		"timestamp":            timestamp(s.now()),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rec vault.Record
	if !readJSON(w, r, &rec) {
		return
	}
	res := vault.CreateResult(s.client.Create(r.Context(), rec))
	writeResult(w, http.StatusCreated, res)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg vault.Message
	if !readJSON(w, r, &msg) {
		return
	}
	rec, err := msg.Record()
	if err != nil {
		writeResult(w, http.StatusCreated, vault.CreateResult("", err))
		return
	}
	writeResult(w, http.StatusCreated, vault.CreateResult(s.client.Create(r.Context(), rec)))
}

type sensorRequest struct {
	vault.SensorReading
	From string `json:"from"`
	UUID string `json:"uuid"`
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = vault.SensorDataType
	}
	res := vault.CreateResult(s.client.CreateSensor(r.Context(), req.SensorReading, req.From, req.UUID))
	writeResult(w, http.StatusCreated, res)
}

type updateRequest struct {
	vault.Record
	ExpiresInHours float64 `json:"expiresInHours"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !readJSON(w, r, &req) {
		return
	}
	res := vault.UpdateResult(s.client.Update(r.Context(), r.PathValue("key"), req.Record, hours(req.ExpiresInHours)))
	writeResult(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	res := vault.DeleteResult(s.client.Delete(r.Context(), r.PathValue("key")))
	writeResult(w, http.StatusOK, res)
}

type extendRequest struct {
	AdditionalHours float64 `json:"additionalHours"`
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if r.ContentLength != 0 && !readJSON(w, r, &req) {
		return
	}
	key := r.PathValue("key")
	newExpiry, err := s.client.Extend(r.Context(), key, hours(req.AdditionalHours))
	writeResult(w, http.StatusOK, vault.ExtendResult(key, newExpiry, err))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "failed to read body"})
		return false
	}
	if len(body) > maxBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"success": false, "error": "body too large"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeResult(w http.ResponseWriter, okStatus int, res vault.Result) {
	if res.Success {
		writeJSON(w, okStatus, res)
		return
	}
	writeJSON(w, statusOfCode(store.ParseError(res.Error).Code), res)
}

func statusOf(err error) int {
	return statusOfCode(store.CodeOf(err))
}

// statusOfCode maps the error class to an HTTP status
func statusOfCode(code store.RetCode) int {
	switch code {
	case store.RetCValidation:
		return http.StatusBadRequest
	case store.RetCNotFound:
		return http.StatusNotFound
	case store.RetCConfiguration:
		return http.StatusServiceUnavailable
	case store.RetCTransient:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func hours(h float64) time.Duration {
	if h <= 0 {
		return 0
	}
	return time.Duration(h * float64(time.Hour))
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

var _ http.Handler = (*Server)(nil)
