package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/snaplist/internal/chat"
	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/identity"
	"github.com/ashureev/snaplist/internal/listing"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/session"
)

const sellerHeader = "X-Test-Seller"

type replyModel struct{}

func (replyModel) Complete(context.Context, llm.Request) (*llm.Completion, error) {
	return &llm.Completion{Text: "Sure thing, what brand is it?"}, nil
}

type noListings struct{}

func (noListings) CreateListing(_ context.Context, sellerID string, draft domain.ProductDraft) (*domain.Listing, error) {
	return &domain.Listing{ListingID: "lst-1", SellerID: sellerID, Product: draft, Status: domain.ListingActive}, nil
}

type noPrices struct{}

func (noPrices) SearchPrices(context.Context, string) []domain.PriceQuote { return nil }

type wsFixture struct {
	url   string
	svc   *chat.Service
	conns *ConnManager
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	svc, err := chat.NewService(chat.Deps{
		Sessions: session.NewStore(session.PolicyStrict, nil),
		Engine:   listing.NewEngine(replyModel{}, nil),
		Listings: noListings{},
		Prices:   noPrices{},
	})
	require.NoError(t, err)

	conns := NewConnManager()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithSellerID(r.Context(), r.Header.Get(sellerHeader))))
		})
	})
	r.Get("/ws/sessions/{id}", NewHandler(svc, conns, "*", true, nil).ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &wsFixture{url: "ws" + strings.TrimPrefix(srv.URL, "http"), svc: svc, conns: conns}
}

func (f *wsFixture) dial(ctx context.Context, t *testing.T, sessionID, seller string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.Dial(ctx, f.url+"/ws/sessions/"+sessionID, &websocket.DialOptions{
		HTTPHeader: http.Header{sellerHeader: []string{seller}},
	})
}

func TestChatOverWebSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newFixture(t)
	sess := f.svc.CreateSession("seller-a")

	conn, _, err := f.dial(ctx, t, sess.ID, "seller-a")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello outbound
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, "session", hello.Type)
	require.NotNil(t, hello.Session)
	assert.Equal(t, sess.ID, hello.Session.ID)

	require.NoError(t, wsjson.Write(ctx, conn, inbound{Type: "message", Content: "I want to sell my bike"}))
	var reply outbound
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "message", reply.Type)
	require.NotNil(t, reply.Message)
	assert.Equal(t, "Sure thing, what brand is it?", reply.Message.Content)
	require.NotNil(t, reply.FlowStep)
	assert.Equal(t, domain.StepAnalyze, reply.FlowStep.Step)

	require.NoError(t, wsjson.Write(ctx, conn, inbound{Type: "ping"}))
	var pong outbound
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, "pong", pong.Type)

	require.NoError(t, wsjson.Write(ctx, conn, inbound{Type: "message", Content: "   "}))
	var bad outbound
	require.NoError(t, wsjson.Read(ctx, conn, &bad))
	assert.Equal(t, "error", bad.Type)

	got, ok := f.svc.GetSession(sess.ID)
	require.True(t, ok)
	assert.Len(t, got.Messages, 3)
}

func TestWebSocketRejectsForeignSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := newFixture(t)
	sess := f.svc.CreateSession("seller-a")

	_, resp, err := f.dial(ctx, t, sess.ID, "seller-b")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewerSocketReplacesOlder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	f := newFixture(t)
	sess := f.svc.CreateSession("seller-a")

	first, _, err := f.dial(ctx, t, sess.ID, "seller-a")
	require.NoError(t, err)
	defer first.CloseNow()
	var hello outbound
	require.NoError(t, wsjson.Read(ctx, first, &hello))

	second, _, err := f.dial(ctx, t, sess.ID, "seller-a")
	require.NoError(t, err)
	defer second.Close(websocket.StatusNormalClosure, "")
	require.NoError(t, wsjson.Read(ctx, second, &hello))

	var frame outbound
	err = wsjson.Read(ctx, first, &frame)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return f.conns.Count() == 1 }, 5*time.Second, 20*time.Millisecond)
}
