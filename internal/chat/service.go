// Package chat is the session-oriented API of the listing assistant. It
// owns turn serialization, the no-model fast path, and the terminal
// listing transition.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/listing"
	"github.com/ashureev/snaplist/internal/metrics"
	"github.com/ashureev/snaplist/internal/session"
	"github.com/ashureev/snaplist/internal/vision"
)

var (
	// ErrSessionNotFound is returned for unknown sessions under the strict
	// policy and for sessions owned by another user.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotReadyToList is returned when a listing is requested before the
	// session reached confirmation or while the draft is incomplete.
	ErrNotReadyToList = errors.New("session is not ready to list")
	// ErrListingFailed wraps persistence failures at the terminal transition.
	ErrListingFailed = errors.New("listing creation failed")
	// ErrInvalidDetail is returned by CollectDetail for unusable values.
	ErrInvalidDetail = errors.New("invalid listing detail")
)

// ListingPersistence stores published listings.
type ListingPersistence interface {
	CreateListing(ctx context.Context, sellerID string, draft domain.ProductDraft) (*domain.Listing, error)
}

// PriceSearcher looks up market prices for a free-text query.
type PriceSearcher interface {
	SearchPrices(ctx context.Context, query string) []domain.PriceQuote
}

// Deps are the collaborators of a Service. Sessions, Engine, Listings and
// Prices are required.
type Deps struct {
	Sessions   *session.Store
	Engine     *listing.Engine
	Listings   ListingPersistence
	Prices     PriceSearcher
	Analyzer   vision.Analyzer
	Transcript ConversationLogger
	Logger     *slog.Logger
}

// Service runs listing conversations.
type Service struct {
	sessions   *session.Store
	engine     *listing.Engine
	listings   ListingPersistence
	prices     PriceSearcher
	analyzer   vision.Analyzer
	transcript ConversationLogger
	logger     *slog.Logger
	now        func() time.Time
}

// NewService validates deps and builds a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("chat: session store is required")
	case deps.Engine == nil:
		return nil, errors.New("chat: listing engine is required")
	case deps.Listings == nil:
		return nil, errors.New("chat: listing persistence is required")
	case deps.Prices == nil:
		return nil, errors.New("chat: price searcher is required")
	}
	if deps.Transcript == nil {
		deps.Transcript = noopConversationLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		sessions:   deps.Sessions,
		engine:     deps.Engine,
		listings:   deps.Listings,
		prices:     deps.Prices,
		analyzer:   deps.Analyzer,
		transcript: deps.Transcript,
		logger:     deps.Logger,
		now:        time.Now,
	}, nil
}

// CreateSession starts a conversation for userID.
func (s *Service) CreateSession(userID string) *domain.Session {
	sess := s.sessions.Create(userID)
	s.logger.Info("Session created", "session_id", sess.ID, "user_id", userID)
	return sess
}

// GetSession returns a snapshot of the session.
func (s *Service) GetSession(sessionID string) (*domain.Session, bool) {
	return s.sessions.Get(sessionID)
}

// DeleteSession removes a session.
func (s *Service) DeleteSession(sessionID string) bool {
	return s.sessions.Delete(sessionID)
}

// ListSessions returns the sessions owned by userID, newest first.
func (s *Service) ListSessions(userID string) []*domain.Session {
	return s.sessions.List(userID)
}

// SearchPrices runs a standalone price search. The result is never empty.
func (s *Service) SearchPrices(ctx context.Context, query string) []domain.PriceQuote {
	return s.prices.SearchPrices(ctx, strings.TrimSpace(query))
}

// SendMessage runs one turn and returns the assistant reply. Turn failures
// become apology replies; the only errors are an unknown session and a
// context that ended while waiting for the session.
func (s *Service) SendMessage(ctx context.Context, sessionID, userID, text, imageURL string) (domain.ChatMessage, error) {
	return s.turn(ctx, sessionID, userID, listing.Input{Text: text, ImageURL: imageURL})
}

// SendMessageWithAnalysis runs a turn whose model input carries an image
// analysis and market research. It always goes to the model.
func (s *Service) SendMessageWithAnalysis(ctx context.Context, sessionID, userID, text string, analysis *domain.ProductAnalysis) (domain.ChatMessage, error) {
	return s.turn(ctx, sessionID, userID, listing.Input{Text: text, Analysis: analysis})
}

// AnalysisOutcome is the result of AnalyzeImage.
type AnalysisOutcome struct {
	Reply    domain.ChatMessage      `json:"reply"`
	Analysis *domain.ProductAnalysis `json:"analysis,omitempty"`
}

// AnalyzeImage reads a product photo, researches prices for it and runs an
// analysis turn. If the photo cannot be analyzed the text still goes
// through as a normal turn.
func (s *Service) AnalyzeImage(ctx context.Context, sessionID, userID, text string, image []byte, mimeType, imageURL string) (*AnalysisOutcome, error) {
	if s.analyzer == nil {
		reply, err := s.SendMessage(ctx, sessionID, userID, text, imageURL)
		if err != nil {
			return nil, err
		}
		return &AnalysisOutcome{Reply: reply}, nil
	}

	img, err := s.analyzer.Analyze(ctx, image, mimeType)
	if err != nil {
		s.logger.Warn("Image analysis failed, continuing without it",
			"session_id", sessionID, "user_id", userID, "error", err)
		reply, err := s.SendMessage(ctx, sessionID, userID, text, imageURL)
		if err != nil {
			return nil, err
		}
		return &AnalysisOutcome{Reply: reply}, nil
	}

	query := vision.SearchQuery(img)
	analysis := &domain.ProductAnalysis{
		Image:       *img,
		Quotes:      s.prices.SearchPrices(ctx, query),
		SearchQuery: query,
	}
	if strings.TrimSpace(text) == "" {
		text = "I'd like to sell this item."
	}

	reply, err := s.turn(ctx, sessionID, userID, listing.Input{Text: text, ImageURL: imageURL, Analysis: analysis})
	if err != nil {
		return nil, err
	}
	return &AnalysisOutcome{Reply: reply, Analysis: analysis}, nil
}

// CollectDetail sets one draft field directly. Known fields are title,
// description, category, brand, condition and price; anything else is
// stored as a specification.
func (s *Service) CollectDetail(ctx context.Context, sessionID, userID, field, value string) (*domain.Session, error) {
	field = strings.ToLower(strings.TrimSpace(field))
	value = strings.TrimSpace(value)
	if field == "" || value == "" {
		return nil, fmt.Errorf("%w: field and value are required", ErrInvalidDetail)
	}

	t, err := s.begin(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	defer t.Release()

	if err := applyDetail(t.Session.Draft(), field, value); err != nil {
		return nil, err
	}
	t.Commit()
	s.logger.Info("Listing detail collected", "session_id", sessionID, "field", field)
	return t.Session.Clone(), nil
}

func applyDetail(d *domain.ProductDraft, field, value string) error {
	switch field {
	case "title":
		d.Title = value
	case "description":
		d.Description = value
	case "category":
		d.Category = value
	case "brand":
		d.Brand = value
	case "condition":
		c, ok := domain.ParseCondition(value)
		if !ok {
			return fmt.Errorf("%w: unknown condition %q", ErrInvalidDetail, value)
		}
		d.Condition = c
	case "price":
		price, ok := parsePrice(value)
		if !ok {
			return fmt.Errorf("%w: price must be a positive number", ErrInvalidDetail)
		}
		d.Price = price
		d.SuggestedPrice = price
	default:
		d.SetSpecification(field, value)
	}
	return nil
}

// ListingOutcome is the result of an explicit CreateListing call.
type ListingOutcome struct {
	Reply   domain.ChatMessage `json:"reply"`
	Listing *domain.Listing    `json:"listing"`
}

// CreateListing publishes the draft of a session waiting for confirmation.
func (s *Service) CreateListing(ctx context.Context, sessionID, userID string) (*ListingOutcome, error) {
	t, err := s.begin(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	defer t.Release()

	sess := t.Session
	if sess.FlowStep.Step != domain.StepConfirmListing {
		return nil, fmt.Errorf("%w: session is at %s", ErrNotReadyToList, sess.FlowStep.Step)
	}
	if err := listing.Validate(sess.ProductDraft); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReadyToList, err)
	}

	reply, created, err := s.publish(ctx, sess)
	_, msg := listing.Exchange(s.now(), "", "", reply)
	sess.Messages = append(sess.Messages, msg)
	sess.ConversationHistory = append(sess.ConversationHistory,
		domain.ConversationTurn{Role: domain.RoleAssistant, Content: reply})
	t.Commit()
	s.logAssistant(sess, msg.Content, "listing")

	if err != nil {
		return nil, err
	}
	return &ListingOutcome{Reply: msg, Listing: created}, nil
}

func (s *Service) begin(ctx context.Context, sessionID, userID string) (*session.Turn, error) {
	t, err := s.sessions.Begin(ctx, sessionID, userID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if userID != "" && t.Session.UserID != "" && t.Session.UserID != userID {
		t.Release()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return t, nil
}

func (s *Service) turn(ctx context.Context, sessionID, userID string, in listing.Input) (domain.ChatMessage, error) {
	t, err := s.begin(ctx, sessionID, userID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	defer t.Release()

	sess := t.Session
	step := sess.FlowStep.Step
	s.transcript.Log(ConversationLogEvent{
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		Channel:    "chat",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		Step:       string(step),
		ContentRaw: in.Text,
		Meta:       map[string]any{"has_image": in.ImageURL != "", "has_analysis": in.Analysis != nil},
	})

	var reply domain.ChatMessage
	if text, ok := s.fastPath(ctx, sess, in); ok {
		user, assistant := listing.Exchange(s.now(), in.Text, in.ImageURL, text)
		sess.AppendExchange(user, assistant)
		if in.ImageURL != "" {
			sess.Draft().AddImage(in.ImageURL)
		}
		metrics.ChatTurns.WithLabelValues(string(step), "fast").Inc()
		reply = assistant
	} else {
		res := s.engine.ProcessTurn(ctx, sess, in)
		if res.ToolCall != nil {
			s.transcript.Log(ConversationLogEvent{
				UserID:     sess.UserID,
				SessionID:  sess.ID,
				Channel:    "chat",
				Direction:  "inbound",
				EventType:  "tool_call",
				Step:       string(res.Next),
				ContentRaw: res.ToolCall.ToolName(),
				Meta:       map[string]any{"decode": string(res.Decode), "ignored": res.Ignored},
			})
		}
		reply = res.Reply
	}

	t.Commit()
	s.logAssistant(sess, reply.Content, "chat")
	return reply, nil
}

func fastPathStep(step domain.Step) bool {
	switch step {
	case domain.StepProposeListing, domain.StepGatherDetails, domain.StepConfirmListing:
		return true
	}
	return false
}

// fastPath answers turns that need no model: an explicit price or a
// confirmation at the last step. Analysis turns always go to the model.
func (s *Service) fastPath(ctx context.Context, sess *domain.Session, in listing.Input) (string, bool) {
	if in.Analysis != nil || !fastPathStep(sess.FlowStep.Step) || !sess.HasDraft() {
		return "", false
	}
	draft := sess.Draft()
	price, hasPrice := listing.ExtractPrice(in.Text)

	if sess.FlowStep.Step == domain.StepConfirmListing && listing.IsConfirmation(in.Text) {
		if hasPrice {
			draft.Price, draft.SuggestedPrice = price, price
		}
		if err := listing.Validate(draft); err != nil {
			s.logger.Info("Confirmation with incomplete draft", "session_id", sess.ID, "error", err)
			return listing.RenderIncomplete(draft.Missing()), true
		}
		reply, _, _ := s.publish(ctx, sess)
		return reply, true
	}

	if hasPrice {
		draft.Price, draft.SuggestedPrice = price, price
		s.logger.Info("Price set by seller", "session_id", sess.ID, "price", price)
		return listing.RenderPriceUpdate(draft), true
	}
	return "", false
}

// publish performs the ConfirmListing to ListProduct transition. On
// failure the step stays at ConfirmListing so the seller can retry.
func (s *Service) publish(ctx context.Context, sess *domain.Session) (string, *domain.Listing, error) {
	draft := sess.Draft().Clone()
	if draft.Currency == "" {
		draft.Currency = "USD"
	}
	if strings.TrimSpace(draft.Description) == "" {
		draft.Description = domain.DefaultDescription
	}

	created, err := s.listings.CreateListing(ctx, sess.UserID, *draft)
	if err != nil {
		metrics.ListingsCreated.WithLabelValues("failed").Inc()
		s.logger.Error("Listing creation failed", "session_id", sess.ID, "user_id", sess.UserID, "error", err)
		return listing.ListingFailedReply, nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
	}

	metrics.ListingsCreated.WithLabelValues("created").Inc()
	sess.FlowStep = domain.FlowStep{
		Step: domain.StepListProduct,
		Data: map[string]any{"productId": created.ListingID},
	}
	s.logger.Info("Listing created", "session_id", sess.ID, "user_id", sess.UserID, "listing_id", created.ListingID)
	s.transcript.Log(ConversationLogEvent{
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		Channel:    "chat",
		Direction:  "outbound",
		EventType:  "listing_created",
		Step:       string(domain.StepListProduct),
		ContentRaw: draft.Title,
		Meta:       map[string]any{"listing_id": created.ListingID, "price": draft.Price},
	})
	return listing.RenderListed(draft, created.ListingID), created, nil
}

func (s *Service) logAssistant(sess *domain.Session, content, channel string) {
	s.transcript.Log(ConversationLogEvent{
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		Step:       string(sess.FlowStep.Step),
		ContentRaw: content,
	})
}

func parsePrice(s string) (float64, bool) {
	s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
