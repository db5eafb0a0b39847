// Package identity gives every browser an anonymous seller id.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/store"
)

const (
	SellerCookieName   = "snaplist_seller_id"
	sellerCookieMaxAge = 30 * 24 * time.Hour
	// Last-seen writes are skipped when the stored value is this fresh.
	lastSeenGranularity = 5 * time.Minute
)

type contextKey int

const sellerIDKey contextKey = iota

var sellerIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// SellerIDFromContext extracts the seller ID from the request context.
func SellerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sellerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSellerID returns ctx carrying sellerID.
func WithSellerID(ctx context.Context, sellerID string) context.Context {
	return context.WithValue(ctx, sellerIDKey, sellerID)
}

func generateSellerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate seller id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidSellerID reports whether id has the anonymous seller format.
func IsValidSellerID(id string) bool {
	return sellerIDPattern.MatchString(id)
}

// DisplayName derives a short public name from a seller id.
func DisplayName(sellerID string) string {
	if len(sellerID) > 13 {
		return "seller-" + sellerID[len(sellerID)-8:]
	}
	return "seller"
}

func ensureSeller(ctx context.Context, repo store.Repository, sellerID string) error {
	seller, err := repo.GetSeller(ctx, sellerID)
	if err != nil {
		return err
	}
	now := time.Now()
	if seller != nil {
		if now.Sub(seller.LastSeenAt) < lastSeenGranularity {
			return nil
		}
		return repo.UpdateLastSeen(ctx, sellerID, now)
	}

	return repo.UpsertSeller(ctx, &domain.Seller{
		SellerID:    sellerID,
		DisplayName: DisplayName(sellerID),
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func setSellerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SellerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sellerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sellerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateSellerID reuses a valid cookie, refreshing its expiry, or
// mints a new id.
func getOrCreateSellerID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(SellerCookieName); err == nil && IsValidSellerID(c.Value) {
		setSellerCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateSellerID()
	if err != nil {
		return "", err
	}
	setSellerCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous seller identity and records the seller.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sellerID, err := getOrCreateSellerID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureSeller(r.Context(), repo, sellerID); err != nil {
				slog.Error("failed to record seller", "seller_id", sellerID, "ip", IPFromRequest(r), "error", err)
				http.Error(w, `{"error":"failed to initialize seller"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSellerID(r.Context(), sellerID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
