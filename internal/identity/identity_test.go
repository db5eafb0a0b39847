package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/snaplist/internal/store"
)

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "id.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesCookieAndRecordsSeller(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SellerIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	require.True(t, IsValidSellerID(seen), seen)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SellerCookieName, cookies[0].Name)
	assert.Equal(t, seen, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.False(t, cookies[0].Secure)

	seller, err := repo.GetSeller(context.Background(), seen)
	require.NoError(t, err)
	require.NotNil(t, seller)
	assert.Equal(t, DisplayName(seen), seller.DisplayName)
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	const id = "anon_0123456789abcdef0123456789abcdef"
	var seen string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SellerIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SellerCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, id, seen)
	assert.True(t, rec.Result().Cookies()[0].Secure)
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()

	var seen string
	h := Middleware(newRepo(t), true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SellerIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SellerCookieName, Value: "../../admin"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotEqual(t, "../../admin", seen)
	assert.True(t, IsValidSellerID(seen))
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "seller-89abcdef", DisplayName("anon_0123456789abcdef0123456789abcdef"))
	assert.Equal(t, "seller", DisplayName("x"))
}
