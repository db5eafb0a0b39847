package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/listing"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/session"
)

type stubModel struct {
	mu         sync.Mutex
	completion *llm.Completion
	err        error
	calls      int
}

func (m *stubModel) Complete(context.Context, llm.Request) (*llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.completion, nil
}

func (m *stubModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeListings struct {
	mu     sync.Mutex
	err    error
	drafts []domain.ProductDraft
}

func (f *fakeListings) CreateListing(_ context.Context, sellerID string, draft domain.ProductDraft) (*domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Listing{ListingID: "lst-1", SellerID: sellerID, Product: draft, Status: domain.ListingActive}, nil
}

type fakePrices struct {
	queries []string
}

func (f *fakePrices) SearchPrices(_ context.Context, query string) []domain.PriceQuote {
	f.queries = append(f.queries, query)
	return []domain.PriceQuote{{Platform: "ebay", Price: "$140.00", Amount: 140, Currency: "USD"}}
}

type fakeAnalyzer struct {
	result *domain.ImageAnalysis
	err    error
}

func (f *fakeAnalyzer) Analyze(context.Context, []byte, string) (*domain.ImageAnalysis, error) {
	return f.result, f.err
}

type harness struct {
	svc      *Service
	store    *session.Store
	model    *stubModel
	listings *fakeListings
	prices   *fakePrices
}

func newHarness(t *testing.T, policy session.MissingPolicy) *harness {
	t.Helper()
	h := &harness{
		store:    session.NewStore(policy, nil),
		model:    &stubModel{completion: &llm.Completion{Text: "Tell me more."}},
		listings: &fakeListings{},
		prices:   &fakePrices{},
	}
	svc, err := NewService(Deps{
		Sessions: h.store,
		Engine:   listing.NewEngine(h.model, nil),
		Listings: h.listings,
		Prices:   h.prices,
		Analyzer: &fakeAnalyzer{result: &domain.ImageAnalysis{ProductName: "Road Bike", Brand: "Trek", Category: "sports", Confidence: 0.9}},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// seed puts a session into step with draft already filled in.
func (h *harness) seed(t *testing.T, step domain.Step, draft *domain.ProductDraft) *domain.Session {
	t.Helper()
	sess := h.svc.CreateSession("seller-1")
	turn, err := h.store.Begin(context.Background(), sess.ID, "seller-1")
	require.NoError(t, err)
	turn.Session.FlowStep = domain.FlowStep{Step: step}
	turn.Session.ProductDraft = draft
	turn.Commit()
	turn.Release()
	return sess
}

func completeDraft() *domain.ProductDraft {
	return &domain.ProductDraft{
		Title:       "Bike",
		Description: "Blue road bike",
		Price:       150,
		Category:    "sports",
		Condition:   domain.ConditionUsed,
	}
}

func TestNewServiceRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewService(Deps{})
	require.Error(t, err)
}

func TestConfirmCreatesListing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.seed(t, domain.StepConfirmListing, completeDraft())

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "confirm", "")
	require.NoError(t, err)

	assert.Contains(t, reply.Content, "150")
	assert.Equal(t, domain.RoleAssistant, reply.Role)
	require.Len(t, h.listings.drafts, 1)
	assert.Equal(t, "USD", h.listings.drafts[0].Currency)
	assert.Zero(t, h.model.Calls())

	got, ok := h.svc.GetSession(sess.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StepListProduct, got.FlowStep.Step)
	assert.Equal(t, "lst-1", got.FlowStep.Data["productId"])
	assert.Len(t, got.Messages, 3)
	assert.Len(t, got.ConversationHistory, 2)
}

func TestConfirmWithoutDescriptionUsesDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.seed(t, domain.StepConfirmListing, &domain.ProductDraft{
		Title:     "Bike",
		Price:     150,
		Category:  "sports",
		Condition: domain.ConditionUsed,
	})

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "confirm", "")
	require.NoError(t, err)

	assert.Contains(t, reply.Content, "150")
	require.Len(t, h.listings.drafts, 1)
	assert.Equal(t, domain.DefaultDescription, h.listings.drafts[0].Description)
	assert.Zero(t, h.model.Calls())

	got, ok := h.svc.GetSession(sess.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StepListProduct, got.FlowStep.Step)
	// The session draft itself is left as the seller wrote it.
	assert.Empty(t, got.ProductDraft.Description)
}

func TestConfirmPersistenceFailureStays(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	h.listings.err = errors.New("disk full")
	sess := h.seed(t, domain.StepConfirmListing, completeDraft())

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "yes, publish it", "")
	require.NoError(t, err)
	assert.Equal(t, listing.ListingFailedReply, reply.Content)

	got, _ := h.svc.GetSession(sess.ID)
	assert.Equal(t, domain.StepConfirmListing, got.FlowStep.Step)
	assert.Len(t, h.listings.drafts, 1)
}

func TestConfirmIncompleteDraftStays(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.seed(t, domain.StepConfirmListing, &domain.ProductDraft{Title: "Bike", Price: 150})

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "confirm", "")
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "category")
	assert.Contains(t, reply.Content, "condition")
	assert.NotContains(t, reply.Content, "description")
	assert.Empty(t, h.listings.drafts)

	got, _ := h.svc.GetSession(sess.ID)
	assert.Equal(t, domain.StepConfirmListing, got.FlowStep.Step)
}

func TestConfirmWithPriceAppliesPrice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.seed(t, domain.StepConfirmListing, completeDraft())

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "ok, list it for $120", "")
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "$120")
	require.Len(t, h.listings.drafts, 1)
	assert.Equal(t, 120.0, h.listings.drafts[0].Price)
}

func TestPriceOverrideSkipsModel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.seed(t, domain.StepGatherDetails, &domain.ProductDraft{Title: "Lamp", Price: 20})

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "list it for $45.50", "")
	require.NoError(t, err)

	assert.Contains(t, reply.Content, "$45.50")
	assert.Zero(t, h.model.Calls())

	got, _ := h.svc.GetSession(sess.ID)
	assert.Equal(t, domain.StepGatherDetails, got.FlowStep.Step)
	assert.Equal(t, 45.50, got.ProductDraft.Price)
	assert.Equal(t, 45.50, got.ProductDraft.SuggestedPrice)
	assert.Empty(t, h.listings.drafts)
}

func TestConfirmationOutsideConfirmStepGoesToModel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.seed(t, domain.StepProposeListing, completeDraft())

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "yes", "")
	require.NoError(t, err)
	assert.Equal(t, "Tell me more.", reply.Content)
	assert.Equal(t, 1, h.model.Calls())
	assert.Empty(t, h.listings.drafts)
}

func TestFastPathNeedsDraft(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.seed(t, domain.StepGatherDetails, nil)

	_, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "list it for $45", "")
	require.NoError(t, err)
	assert.Equal(t, 1, h.model.Calls())
}

func TestModelFailureReturnsApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	h.model.err = errors.New("timeout")
	sess := h.svc.CreateSession("seller-1")

	reply, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, listing.ErrorReply, reply.Content)

	got, _ := h.svc.GetSession(sess.ID)
	assert.Equal(t, domain.StepAnalyze, got.FlowStep.Step)
}

func TestMissingSessionPolicies(t *testing.T) {
	t.Parallel()

	strict := newHarness(t, session.PolicyStrict)
	_, err := strict.svc.SendMessage(context.Background(), "nope", "seller-1", "hi", "")
	require.ErrorIs(t, err, ErrSessionNotFound)

	auto := newHarness(t, session.PolicyAutoCreate)
	_, err = auto.svc.SendMessage(context.Background(), "fresh-id", "seller-1", "hi", "")
	require.NoError(t, err)
	got, ok := auto.svc.GetSession("fresh-id")
	require.True(t, ok)
	assert.Equal(t, "seller-1", got.UserID)
}

func TestForeignSessionIsNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.svc.CreateSession("seller-1")

	_, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-2", "hi", "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAnalyzeImageRunsAnalysisTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	h.model.completion = &llm.Completion{ToolCall: &llm.RawToolCall{
		Name:      listing.ToolProposeListing,
		Arguments: `{"title":"Trek Road Bike","description":"Fast","estimatedPrice":150,"category":"sports","condition":"used"}`,
	}}
	sess := h.svc.CreateSession("seller-1")

	out, err := h.svc.AnalyzeImage(context.Background(), sess.ID, "seller-1", "", []byte("img"), "image/jpeg", "/uploads/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, []string{"Trek Road Bike"}, h.prices.queries)
	assert.Contains(t, out.Reply.Content, "Trek Road Bike")

	got, _ := h.svc.GetSession(sess.ID)
	assert.Equal(t, domain.StepProposeListing, got.FlowStep.Step)
	assert.Equal(t, []string{"/uploads/a.jpg"}, got.ProductDraft.Images)
	assert.Len(t, got.ProductDraft.MarketPriceAnalysis, 1)
}

func TestAnalyzeImageFailureDegrades(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	h.svc.analyzer = &fakeAnalyzer{err: errors.New("vision down")}
	sess := h.svc.CreateSession("seller-1")

	out, err := h.svc.AnalyzeImage(context.Background(), sess.ID, "seller-1", "sell this", []byte("img"), "image/png", "")
	require.NoError(t, err)
	assert.Nil(t, out.Analysis)
	assert.Equal(t, "Tell me more.", out.Reply.Content)
	assert.Empty(t, h.prices.queries)
}

func TestCollectDetail(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.svc.CreateSession("seller-1")
	ctx := context.Background()

	_, err := h.svc.CollectDetail(ctx, sess.ID, "seller-1", "condition", "like new")
	require.NoError(t, err)
	_, err = h.svc.CollectDetail(ctx, sess.ID, "seller-1", "price", "$1,200")
	require.NoError(t, err)
	got, err := h.svc.CollectDetail(ctx, sess.ID, "seller-1", "Frame Size", "56cm")
	require.NoError(t, err)

	assert.Equal(t, domain.ConditionUsed, got.ProductDraft.Condition)
	assert.Equal(t, 1200.0, got.ProductDraft.Price)
	assert.Equal(t, "56cm", got.ProductDraft.Specifications["frame size"])

	_, err = h.svc.CollectDetail(ctx, sess.ID, "seller-1", "price", "cheap")
	require.ErrorIs(t, err, ErrInvalidDetail)
	_, err = h.svc.CollectDetail(ctx, sess.ID, "seller-1", "condition", "melted")
	require.ErrorIs(t, err, ErrInvalidDetail)
}

func TestCreateListingExplicit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	ctx := context.Background()

	early := h.seed(t, domain.StepGatherDetails, completeDraft())
	_, err := h.svc.CreateListing(ctx, early.ID, "seller-1")
	require.ErrorIs(t, err, ErrNotReadyToList)

	incomplete := h.seed(t, domain.StepConfirmListing, &domain.ProductDraft{Title: "Bike"})
	_, err = h.svc.CreateListing(ctx, incomplete.ID, "seller-1")
	require.ErrorIs(t, err, ErrNotReadyToList)
	require.ErrorIs(t, err, listing.ErrIncompleteDraft)

	ready := h.seed(t, domain.StepConfirmListing, completeDraft())
	out, err := h.svc.CreateListing(ctx, ready.ID, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, "lst-1", out.Listing.ListingID)
	assert.True(t, strings.Contains(out.Reply.Content, "$150"))

	got, _ := h.svc.GetSession(ready.ID)
	assert.Equal(t, domain.StepListProduct, got.FlowStep.Step)
}

func TestCreateListingPersistenceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	h.listings.err = errors.New("locked")
	sess := h.seed(t, domain.StepConfirmListing, completeDraft())

	_, err := h.svc.CreateListing(context.Background(), sess.ID, "seller-1")
	require.ErrorIs(t, err, ErrListingFailed)

	got, _ := h.svc.GetSession(sess.ID)
	assert.Equal(t, domain.StepConfirmListing, got.FlowStep.Step)
	last, _ := got.LastMessage()
	assert.Equal(t, listing.ListingFailedReply, last.Content)
}

func TestConcurrentTurnsOnOneSessionSerialize(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	sess := h.svc.CreateSession("seller-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SendMessage(context.Background(), sess.ID, "seller-1", "hello", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := h.svc.GetSession(sess.ID)
	assert.Len(t, got.Messages, 41)
	assert.Len(t, got.ConversationHistory, 40)
}

func TestSearchPricesDelegates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	quotes := h.svc.SearchPrices(context.Background(), "  trek bike ")
	assert.Len(t, quotes, 1)
	assert.Equal(t, []string{"trek bike"}, h.prices.queries)
}

func TestListAndDeleteSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.PolicyAutoCreate)
	a := h.svc.CreateSession("seller-1")
	h.svc.CreateSession("seller-2")

	assert.Len(t, h.svc.ListSessions("seller-1"), 1)
	assert.True(t, h.svc.DeleteSession(a.ID))
	assert.False(t, h.svc.DeleteSession(a.ID))
	assert.Empty(t, h.svc.ListSessions("seller-1"))
}
