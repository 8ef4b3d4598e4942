package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"soschat/internal/domain"
	"soschat/internal/metrics"
)

const wsWriteTimeout = 10 * time.Second

type WSConfig struct {
	Dispatcher Dispatcher
	APIKey     string // checked on the upgrade request when set
	Logger     *slog.Logger
}

// WebSocketHandler dispatches tool calls received over a WebSocket.
// Each frame is one call; replies carry the caller's id and may arrive
// out of order because calls run concurrently.
type WebSocketHandler struct {
	dispatcher Dispatcher
	apiKey     string
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// WSRequest is one tool call sent by a client.
type WSRequest struct {
	ID         string        `json:"id"`
	Tool       string        `json:"tool"`
	Parameters domain.Params `json:"parameters"`
}

// WSResponse carries the envelope for the call with the same id.
type WSResponse struct {
	ID     string         `json:"id"`
	Result map[string]any `json:"result"`
}

func NewWebSocketHandler(cfg WSConfig) *WebSocketHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	// Without an API key only same-origin (or non-browser) clients may
	// connect; a nil CheckOrigin selects gorilla's same-origin check.
	var checkOrigin func(r *http.Request) bool
	if cfg.APIKey != "" {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WebSocketHandler{
		dispatcher: cfg.Dispatcher,
		apiKey:     cfg.APIKey,
		logger:     cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*wsClient),
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(r, h.apiKey) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(toolsMaxBodySize)

	clientID := uuid.NewString()
	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	h.logger.Info("websocket client connected", "client_id", clientID)

	// Calls in flight when the client leaves run to completion.
	ctx := context.WithoutCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
		conn.Close()
		metrics.WSConnections.Dec()
		h.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.send(h.logger, WSResponse{
				Result: domain.Failure(domain.KindInput, http.StatusBadRequest, "Invalid JSON message").Envelope(),
			})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx := domain.WithRequestID(ctx, fmt.Sprintf("ws-%s-%s", clientID[:8], req.ID))
			res := h.dispatcher.Dispatch(callCtx, req.Tool, req.Parameters)
			client.send(h.logger, WSResponse{ID: req.ID, Result: res.Envelope()})
		}()
	}
}

func (c *wsClient) send(logger *slog.Logger, resp WSResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("websocket encode failed", "err", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debug("websocket write failed", "err", err)
	}
}

// CloseAll disconnects every client; used on shutdown.
func (h *WebSocketHandler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		client.conn.Close()
	}
}
