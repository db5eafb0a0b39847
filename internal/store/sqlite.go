package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a listing is being written.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sellers (
		seller_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		listing_id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		brand TEXT,
		condition TEXT NOT NULL,
		price REAL NOT NULL,
		currency TEXT NOT NULL,
		images_json TEXT NOT NULL DEFAULT '[]',
		tags_json TEXT NOT NULL DEFAULT '[]',
		specifications_json TEXT NOT NULL DEFAULT '{}',
		market_json TEXT NOT NULL DEFAULT '[]',
		suggested_price REAL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSeller retrieves a seller by id.
func (s *SQLiteStore) GetSeller(ctx context.Context, sellerID string) (*domain.Seller, error) {
	query := `
		SELECT seller_id, display_name, last_seen_at, created_at, updated_at
		FROM sellers WHERE seller_id = ?`

	var seller domain.Seller
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, sellerID).Scan(
		&seller.SellerID, &seller.DisplayName, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan seller row: %w", err)
	}

	seller.LastSeenAt = time.Unix(lastSeen, 0)
	seller.CreatedAt = time.Unix(createdAt, 0)
	seller.UpdatedAt = time.Unix(updatedAt, 0)
	return &seller, nil
}

// UpsertSeller creates or updates a seller record.
func (s *SQLiteStore) UpsertSeller(ctx context.Context, seller *domain.Seller) error {
	query := `
	INSERT INTO sellers (seller_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(seller_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "upsert_seller", func() error {
		_, err := s.db.ExecContext(ctx, query,
			seller.SellerID, seller.DisplayName, seller.LastSeenAt.Unix(),
			seller.CreatedAt.Unix(), seller.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert seller: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a seller.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, sellerID string, lastSeen time.Time) error {
	query := `UPDATE sellers SET last_seen_at = ?, updated_at = ? WHERE seller_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), sellerID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "seller_id", sellerID)
	}
	return nil
}

// CreateListing stores draft as an active listing. Missing optional fields
// get the marketplace defaults.
func (s *SQLiteStore) CreateListing(ctx context.Context, sellerID string, draft domain.ProductDraft) (*domain.Listing, error) {
	if sellerID == "" {
		return nil, errors.New("create listing: seller id is required")
	}
	applyListingDefaults(&draft)

	images, tags, specs, market, err := encodeCollections(draft)
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	now := s.now()
	listing := &domain.Listing{
		ListingID: uuid.NewString(),
		SellerID:  sellerID,
		Product:   draft,
		Status:    domain.ListingActive,
		CreatedAt: time.Unix(now.Unix(), 0),
		UpdatedAt: time.Unix(now.Unix(), 0),
	}

	query := `
	INSERT INTO listings (
		listing_id, seller_id, title, description, category, brand, condition,
		price, currency, images_json, tags_json, specifications_json, market_json,
		suggested_price, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, "create_listing", func() error {
		_, err := s.db.ExecContext(ctx, query,
			listing.ListingID, sellerID, draft.Title, draft.Description, draft.Category,
			nullString(draft.Brand), string(draft.Condition), draft.Price, draft.Currency,
			images, tags, specs, market, nullFloat(draft.SuggestedPrice),
			string(listing.Status), now.Unix(), now.Unix(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	return listing, nil
}

const listingColumns = `
	listing_id, seller_id, title, description, category, brand, condition,
	price, currency, images_json, tags_json, specifications_json, market_json,
	suggested_price, status, created_at, updated_at`

// GetListing retrieves one listing.
func (s *SQLiteStore) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE listing_id = ?`, listingID)
	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
	}
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// ListListingsBySeller returns all listings of a seller, newest first.
func (s *SQLiteStore) ListListingsBySeller(ctx context.Context, sellerID string) ([]*domain.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE seller_id = ? ORDER BY created_at DESC, rowid DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close listing rows", "error", closeErr)
		}
	}()

	listings := []*domain.Listing{}
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(row scanner) (*domain.Listing, error) {
	var (
		l                           domain.Listing
		brand                       sql.NullString
		condition, status           string
		images, tags, specs, market string
		suggested                   sql.NullFloat64
		createdAt, updatedAt        int64
	)
	err := row.Scan(
		&l.ListingID, &l.SellerID, &l.Product.Title, &l.Product.Description, &l.Product.Category,
		&brand, &condition, &l.Product.Price, &l.Product.Currency,
		&images, &tags, &specs, &market, &suggested, &status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing row: %w", err)
	}

	l.Product.Brand = brand.String
	l.Product.Condition = domain.Condition(condition)
	l.Product.SuggestedPrice = suggested.Float64
	l.Status = domain.ListingStatus(status)
	l.CreatedAt = time.Unix(createdAt, 0)
	l.UpdatedAt = time.Unix(updatedAt, 0)

	if err := decodeCollections(&l.Product, images, tags, specs, market); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", l.ListingID, err)
	}
	return &l, nil
}

func applyListingDefaults(d *domain.ProductDraft) {
	if strings.TrimSpace(d.Title) == "" {
		d.Title = "Untitled Product"
	}
	if strings.TrimSpace(d.Category) == "" {
		d.Category = "Other"
	}
	if d.Condition == "" {
		d.Condition = domain.ConditionUsed
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}
}

func encodeCollections(d domain.ProductDraft) (images, tags, specs, market string, err error) {
	enc := func(v any, empty string) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if string(b) == "null" {
			return empty, nil
		}
		return string(b), nil
	}
	if images, err = enc(d.Images, "[]"); err != nil {
		return
	}
	if tags, err = enc(d.Tags, "[]"); err != nil {
		return
	}
	if specs, err = enc(d.Specifications, "{}"); err != nil {
		return
	}
	market, err = enc(d.MarketPriceAnalysis, "[]")
	return
}

func decodeCollections(d *domain.ProductDraft, images, tags, specs, market string) error {
	if err := json.Unmarshal([]byte(images), &d.Images); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	if err := json.Unmarshal([]byte(specs), &d.Specifications); err != nil {
		return fmt.Errorf("specifications: %w", err)
	}
	if err := json.Unmarshal([]byte(market), &d.MarketPriceAnalysis); err != nil {
		return fmt.Errorf("market analysis: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f float64) any {
	if f <= 0 {
		return nil
	}
	return f
}
