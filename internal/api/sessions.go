package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/identity"
)

type messageRequest struct {
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

type detailRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type turnResponse struct {
	Message  domain.ChatMessage      `json:"message"`
	Session  *domain.Session         `json:"session,omitempty"`
	Analysis *domain.ProductAnalysis `json:"analysis,omitempty"`
}

// ownedSession returns the session if it belongs to the caller. Sessions
// of other sellers are reported as missing.
func (h *Handler) ownedSession(r *http.Request) (*domain.Session, bool) {
	sess, ok := h.chat.GetSession(chi.URLParam(r, "id"))
	if !ok || sess.UserID != identity.SellerIDFromContext(r.Context()) {
		return nil, false
	}
	return sess, true
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.chat.CreateSession(identity.SellerIDFromContext(r.Context()))
	JSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"sessions": h.chat.ListSessions(identity.SellerIDFromContext(r.Context())),
	})
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(r)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(r)
	if !ok || !h.chat.DeleteSession(sess.ID) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage handles POST /api/sessions/{id}/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" && req.ImageURL == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	sellerID := identity.SellerIDFromContext(r.Context())
	reply, err := h.chat.SendMessage(r.Context(), sessionID, sellerID, req.Message, req.ImageURL)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.writeTurn(w, sessionID, reply, nil)
}

// AnalyzeImage handles POST /api/sessions/{id}/analyze with a multipart
// "image" file and an optional "message" field.
func (h *Handler) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	upload, err := h.uploads.Receive(w, r, "image")
	if err != nil {
		uploadError(w, err)
		return
	}

	sessionID := chi.URLParam(r, "id")
	sellerID := identity.SellerIDFromContext(r.Context())
	out, err := h.chat.AnalyzeImage(r.Context(), sessionID, sellerID,
		strings.TrimSpace(r.FormValue("message")), upload.Data, upload.MimeType, upload.URL)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.writeTurn(w, sessionID, out.Reply, out.Analysis)
}

// CollectDetail handles POST /api/sessions/{id}/details.
func (h *Handler) CollectDetail(w http.ResponseWriter, r *http.Request) {
	var req detailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.chat.CollectDetail(r.Context(), chi.URLParam(r, "id"),
		identity.SellerIDFromContext(r.Context()), req.Field, req.Value)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// CreateListing handles POST /api/sessions/{id}/listing.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	out, err := h.chat.CreateListing(r.Context(), chi.URLParam(r, "id"), identity.SellerIDFromContext(r.Context()))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, out)
}

func (h *Handler) writeTurn(w http.ResponseWriter, sessionID string, reply domain.ChatMessage, analysis *domain.ProductAnalysis) {
	sess, _ := h.chat.GetSession(sessionID)
	JSON(w, http.StatusOK, turnResponse{Message: reply, Session: sess, Analysis: analysis})
}
