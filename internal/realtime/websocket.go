package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/snaplist/internal/chat"
	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/identity"
)

// inbound is a client frame.
type inbound struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// outbound is a server frame.
type outbound struct {
	Type     string              `json:"type"`
	Message  *domain.ChatMessage `json:"message,omitempty"`
	Session  *domain.Session     `json:"session,omitempty"`
	FlowStep *domain.FlowStep    `json:"flow_step,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Handler upgrades /ws/sessions/{id} to a chat socket for an owned session.
type Handler struct {
	chat          *chat.Service
	conns         *ConnManager
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a new WebSocket chat handler.
func NewHandler(svc *chat.Service, conns *ConnManager, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:          svc,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sellerID := identity.SellerIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	h.logger.Info("WebSocket connection request", "seller_id", sellerID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, ok := h.chat.GetSession(sessionID)
	if !ok || sellerID == "" || sess.UserID != sellerID {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "seller_id", sellerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "seller_id", sellerID)
		}
	}()

	h.conns.Register(sellerID, sessionID, ws)
	defer h.conns.Unregister(sellerID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := wsjson.Write(ctx, ws, outbound{Type: "session", Session: sess}); err != nil {
		h.logger.Debug("Failed to send session snapshot", "error", err)
		return
	}

	h.readLoop(ctx, ws, sellerID, sessionID)
	h.logger.Info("Chat socket ended", "seller_id", sellerID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles frames one at a time, so turns from a socket are never
// interleaved and writes never race.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sellerID, sessionID string) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed", "seller_id", sellerID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "seller_id", sellerID)
			}
			return
		}

		var out outbound
		switch msg.Type {
		case "message":
			out = h.handleMessage(ctx, sellerID, sessionID, msg)
		case "ping":
			out = outbound{Type: "pong"}
		case "close":
			return
		default:
			out = outbound{Type: "error", Error: "unknown message type"}
		}

		if err := wsjson.Write(ctx, ws, out); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "seller_id", sellerID)
			return
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, sellerID, sessionID string, msg inbound) outbound {
	content := strings.TrimSpace(msg.Content)
	if content == "" && msg.ImageURL == "" {
		return outbound{Type: "error", Error: "message is required"}
	}

	reply, err := h.chat.SendMessage(ctx, sessionID, sellerID, content, msg.ImageURL)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			return outbound{Type: "error", Error: "session not found"}
		}
		h.logger.Warn("Chat turn failed", "session_id", sessionID, "error", err)
		return outbound{Type: "error", Error: "message could not be processed"}
	}

	out := outbound{Type: "message", Message: &reply}
	if sess, ok := h.chat.GetSession(sessionID); ok {
		out.FlowStep = &sess.FlowStep
	}
	return out
}
