// Package api provides HTTP handlers for the listing assistant.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/snaplist/internal/chat"
	"github.com/ashureev/snaplist/internal/identity"
	"github.com/ashureev/snaplist/internal/middleware"
	"github.com/ashureev/snaplist/internal/store"
)

const (
	defaultMaxUploadBytes = 8 << 20
	maxJSONBodyBytes      = 1 << 20
)

// Options configures a Handler.
type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	// Limiter throttles conversation endpoints per seller when set.
	Limiter *middleware.RateLimiter
	Logger  *slog.Logger
}

// Handler serves the JSON API.
type Handler struct {
	repo    store.Repository
	chat    *chat.Service
	uploads *Uploads
	limiter *middleware.RateLimiter
	logger  *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, svc *chat.Service, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		repo:    repo,
		chat:    svc,
		uploads: NewUploads(opts.UploadDir, opts.MaxUploadBytes),
		limiter: opts.Limiter,
		logger:  opts.Logger,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/prices", h.SearchPrices)
		r.Get("/listings", h.ListListings)
		r.Get("/listings/{id}", h.GetListing)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/", h.ListSessions)
			r.Get("/{id}", h.GetSession)
			r.Delete("/{id}", h.DeleteSession)

			r.Group(func(r chi.Router) {
				if h.limiter != nil {
					r.Use(middleware.RateLimit(h.limiter, func(r *http.Request) string {
						return identity.SellerIDFromContext(r.Context())
					}))
				}
				r.Post("/{id}/messages", h.SendMessage)
				r.Post("/{id}/analyze", h.AnalyzeImage)
				r.Post("/{id}/details", h.CollectDetail)
				r.Post("/{id}/listing", h.CreateListing)
			})
		})
	})
	if h.uploads.Enabled() {
		r.Handle("/uploads/*", http.StripPrefix(uploadsPrefix, h.uploads.FileServer()))
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// serviceError maps chat and store errors onto HTTP statuses.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrListingNotFound):
		Error(w, http.StatusNotFound, "listing not found")
	case errors.Is(err, chat.ErrInvalidDetail):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotReadyToList):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrListingFailed):
		Error(w, http.StatusBadGateway, "listing could not be created, please retry")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		Error(w, http.StatusServiceUnavailable, "session is busy, please retry")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// Health reports database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// GetMe returns the current seller.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	sellerID := identity.SellerIDFromContext(r.Context())
	if sellerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	seller, err := h.repo.GetSeller(r.Context(), sellerID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if seller == nil {
		Error(w, http.StatusUnauthorized, "seller not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"seller_id":    seller.SellerID,
		"display_name": seller.DisplayName,
		"sessions":     len(h.chat.ListSessions(seller.SellerID)),
		"member_since": seller.CreatedAt,
	})
}

// SearchPrices handles GET /api/prices?query=.
func (h *Handler) SearchPrices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"query":  query,
		"prices": h.chat.SearchPrices(r.Context(), query),
	})
}

// ListListings returns the current seller's listings.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.repo.ListListingsBySeller(r.Context(), identity.SellerIDFromContext(r.Context()))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"listings": listings})
}

// GetListing returns one listing. Listings are public.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.repo.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, listing)
}
