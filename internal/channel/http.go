package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"soschat/internal/domain"
	"soschat/internal/metrics"
)

const toolsMaxBodySize = 1 << 20 // 1MB

// Dispatcher routes a named tool call to its handler. *tool.Registry
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params domain.Params) domain.Result
	Definitions() []domain.ToolDefinition
}

type ToolsServerConfig struct {
	Host        string
	Port        int
	APIKey      string // optional bearer token for /tools
	MetricsPath string // empty disables /metrics
	WSPath      string // empty disables the WebSocket surface
	Dispatcher  Dispatcher
	Logger      *slog.Logger
}

// ToolsServer exposes the dispatcher over HTTP (POST /tools) and,
// optionally, WebSocket.
type ToolsServer struct {
	cfg     ToolsServerConfig
	ws      *WebSocketHandler
	server  *http.Server
	logger  *slog.Logger
	started time.Time
}

func NewToolsServer(cfg ToolsServerConfig) *ToolsServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &ToolsServer{cfg: cfg, logger: cfg.Logger, started: time.Now()}
	if cfg.WSPath != "" {
		s.ws = NewWebSocketHandler(WSConfig{
			Dispatcher: cfg.Dispatcher,
			APIKey:     cfg.APIKey,
			Logger:     cfg.Logger,
		})
	}
	return s
}

func (s *ToolsServer) Name() string { return "http" }

// Handler returns the routed handler, wrapped with panic recovery.
func (s *ToolsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tools", s.handleTools)
	mux.HandleFunc("GET /tools", s.handleList)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.MetricsPath != "" {
		mux.Handle("GET "+s.cfg.MetricsPath, metrics.Collector.Handler())
	}
	if s.ws != nil {
		mux.Handle("GET "+s.cfg.WSPath, s.ws)
	}
	return s.recoverer(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *ToolsServer) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("tools server started", "addr", addr, "ws_path", s.cfg.WSPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		if s.ws != nil {
			s.ws.CloseAll()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *ToolsServer) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// toolRequest is the body of POST /tools. "params" is accepted as an alias
// of "parameters"; when both are present "parameters" wins.
type toolRequest struct {
	Tool       string        `json:"tool"`
	Parameters domain.Params `json:"parameters"`
	Params     domain.Params `json:"params"`
}

func (r toolRequest) params() domain.Params {
	if r.Parameters != nil {
		return r.Parameters
	}
	return r.Params
}

func (s *ToolsServer) handleTools(rw http.ResponseWriter, r *http.Request) {
	metrics.HTTPRequests.Inc()

	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	rw.Header().Set("X-Request-ID", reqID)

	if !authorized(r, s.cfg.APIKey) {
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, toolsMaxBodySize+1))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "cannot read request body"})
		return
	}
	if len(body) > toolsMaxBodySize {
		writeJSON(rw, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}

	var req toolRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	// A client disconnect does not cancel calls already in flight.
	ctx := domain.WithRequestID(context.WithoutCancel(r.Context()), reqID)
	res := s.cfg.Dispatcher.Dispatch(ctx, req.Tool, req.params())
	writeJSON(rw, StatusFor(res), res.Envelope())
}

// StatusFor maps a dispatch result to an HTTP status: 200 on success,
// otherwise the failure's code when it is an HTTP error code, else 400.
func StatusFor(res domain.Result) int {
	if res.OK() {
		return http.StatusOK
	}
	if res.Code >= 400 && res.Code <= 599 {
		return res.Code
	}
	return http.StatusBadRequest
}

func (s *ToolsServer) handleList(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"tools": s.cfg.Dispatcher.Definitions()})
}

func (s *ToolsServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status": "ok",
		"tools":  len(s.cfg.Dispatcher.Definitions()),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// recoverer turns a panic in any route into a 500 JSON error.
func (s *ToolsServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic in http handler", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

func authorized(r *http.Request, apiKey string) bool {
	if apiKey == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
