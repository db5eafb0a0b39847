// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/snaplist/internal/domain"
)

// ErrListingNotFound is returned when a listing id is unknown.
var ErrListingNotFound = errors.New("listing not found")

// Repository persists sellers and their published listings.
type Repository interface {
	// GetSeller returns nil, nil when the seller does not exist.
	GetSeller(ctx context.Context, sellerID string) (*domain.Seller, error)

	// UpsertSeller creates or updates a seller record.
	UpsertSeller(ctx context.Context, seller *domain.Seller) error

	// UpdateLastSeen updates the last_seen_at timestamp for a seller.
	UpdateLastSeen(ctx context.Context, sellerID string, lastSeen time.Time) error

	// CreateListing publishes draft as an active listing owned by sellerID.
	CreateListing(ctx context.Context, sellerID string, draft domain.ProductDraft) (*domain.Listing, error)

	// GetListing returns ErrListingNotFound for unknown ids.
	GetListing(ctx context.Context, listingID string) (*domain.Listing, error)

	// ListListingsBySeller returns a seller's listings, newest first.
	ListListingsBySeller(ctx context.Context, sellerID string) ([]*domain.Listing, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
