package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/snaplist/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "snaplist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSellerUpsertAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.GetSeller(ctx, "anon_x")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.UpsertSeller(ctx, &domain.Seller{
		SellerID: "anon_x", DisplayName: "seller-x", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	later := now.Add(time.Hour)
	require.NoError(t, s.UpdateLastSeen(ctx, "anon_x", later))

	got, err := s.GetSeller(ctx, "anon_x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "seller-x", got.DisplayName)
	assert.Equal(t, later.Unix(), got.LastSeenAt.Unix())
	assert.Equal(t, now.Unix(), got.CreatedAt.Unix())

	require.NoError(t, s.UpdateLastSeen(ctx, "nobody", later))
}

func TestCreateAndGetListing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	draft := domain.ProductDraft{
		Title:          "Trek Road Bike",
		Description:    "Lightly used",
		Category:       "sports",
		Brand:          "Trek",
		Condition:      domain.ConditionUsed,
		Price:          150,
		Images:         []string{"/uploads/a.jpg"},
		Tags:           []string{"bike", "road"},
		Specifications: map[string]string{"size": "56cm"},
		MarketPriceAnalysis: []domain.PriceQuote{
			{Platform: "ebay", Price: "$140.00", Amount: 140, Currency: "USD", URL: "https://ebay.com/x"},
		},
		SuggestedPrice: 145,
	}

	created, err := s.CreateListing(ctx, "anon_x", draft)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ListingID)
	assert.Equal(t, domain.ListingActive, created.Status)
	assert.Equal(t, "USD", created.Product.Currency)

	got, err := s.GetListing(ctx, created.ListingID)
	require.NoError(t, err)
	assert.Equal(t, created.ListingID, got.ListingID)
	assert.Equal(t, "anon_x", got.SellerID)
	assert.Equal(t, "Trek Road Bike", got.Product.Title)
	assert.Equal(t, "Trek", got.Product.Brand)
	assert.Equal(t, 150.0, got.Product.Price)
	assert.Equal(t, 145.0, got.Product.SuggestedPrice)
	assert.Equal(t, []string{"/uploads/a.jpg"}, got.Product.Images)
	assert.Equal(t, []string{"bike", "road"}, got.Product.Tags)
	assert.Equal(t, "56cm", got.Product.Specifications["size"])
	require.Len(t, got.Product.MarketPriceAnalysis, 1)
	assert.Equal(t, "ebay", got.Product.MarketPriceAnalysis[0].Platform)
	assert.Equal(t, created.CreatedAt.Unix(), got.CreatedAt.Unix())
}

func TestCreateListingDefaults(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	created, err := s.CreateListing(context.Background(), "anon_x", domain.ProductDraft{Description: "?", Price: 5})
	require.NoError(t, err)

	got, err := s.GetListing(context.Background(), created.ListingID)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Product", got.Product.Title)
	assert.Equal(t, "Other", got.Product.Category)
	assert.Equal(t, domain.ConditionUsed, got.Product.Condition)
	assert.Empty(t, got.Product.Brand)
	assert.Empty(t, got.Product.Images)
}

func TestCreateListingRequiresSeller(t *testing.T) {
	t.Parallel()

	_, err := newTestStore(t).CreateListing(context.Background(), "", domain.ProductDraft{Title: "x"})
	require.Error(t, err)
}

func TestGetListingNotFound(t *testing.T) {
	t.Parallel()

	_, err := newTestStore(t).GetListing(context.Background(), "missing")
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestListListingsBySeller(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateListing(ctx, "anon_a", domain.ProductDraft{Title: "First", Price: 1})
	require.NoError(t, err)
	second, err := s.CreateListing(ctx, "anon_a", domain.ProductDraft{Title: "Second", Price: 2})
	require.NoError(t, err)
	_, err = s.CreateListing(ctx, "anon_b", domain.ProductDraft{Title: "Other", Price: 3})
	require.NoError(t, err)

	got, err := s.ListListingsBySeller(ctx, "anon_a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ListingID, got[0].ListingID)
	assert.Equal(t, first.ListingID, got[1].ListingID)

	none, err := s.ListListingsBySeller(ctx, "anon_c")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPing(t *testing.T) {
	t.Parallel()

	require.NoError(t, newTestStore(t).Ping(context.Background()))
}
