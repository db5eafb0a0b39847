package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/metrics"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// StagePrimary marks results produced by the concurrent scrapers.
const StagePrimary = "primary"

// Config tunes the aggregator.
type Config struct {
	// SourceTimeout applies to any entry without its own timeout.
	SourceTimeout time.Duration
	// Ceiling bounds a whole search, fallbacks included.
	Ceiling         time.Duration
	MaxResults      int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 15 * time.Second
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 60 * time.Second
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 6
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 2 * time.Minute
	}
	return c
}

// Entry registers a source with its own timeout. Zero means the default.
type Entry struct {
	Source  Source
	Timeout time.Duration
}

// Result is the outcome of a search and the stage that produced it.
type Result struct {
	Query  string              `json:"query"`
	Quotes []domain.PriceQuote `json:"quotes"`
	Stage  string              `json:"stage"`
}

// Searcher is anything that can run a staged price search.
type Searcher interface {
	Search(ctx context.Context, query string) Result
}

type member struct {
	source  Source
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// Aggregator queries its primary sources concurrently and, only when they
// all come back empty, walks the fallback chain in order. A search never
// returns an empty list.
type Aggregator struct {
	cfg       Config
	primary   []*member
	fallbacks []*member
	logger    *slog.Logger
}

// NewAggregator creates an aggregator. Fallbacks run in the given order;
// the static link set is always appended as the last resort.
func NewAggregator(cfg Config, primary, fallbacks []Entry, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	a := &Aggregator{cfg: cfg, logger: logger}
	for _, e := range primary {
		a.primary = append(a.primary, a.newMember(e))
	}
	for _, e := range fallbacks {
		a.fallbacks = append(a.fallbacks, a.newMember(e))
	}
	return a
}

func (a *Aggregator) newMember(e Entry) *member {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = a.cfg.SourceTimeout
	}
	name := e.Source.Name()
	failures := a.cfg.BreakerFailures
	return &member{
		source:  e.Source,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: a.cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				a.logger.Warn("Price source breaker changed state",
					"source", name,
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

// SearchPrices returns between one and MaxResults quotes for query.
func (a *Aggregator) SearchPrices(ctx context.Context, query string) []domain.PriceQuote {
	return a.Search(ctx, query).Quotes
}

// Search runs the primary fan-out and, if needed, the fallback chain.
func (a *Aggregator) Search(ctx context.Context, query string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return a.finish(query, StaticLinks(query), StaticName)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Ceiling)
	defer cancel()

	if quotes := settle(ctx, query, a.primary, a.logger); len(quotes) > 0 {
		return a.finish(query, quotes, StagePrimary)
	}

	for _, fb := range a.fallbacks {
		if ctx.Err() != nil {
			a.logger.Warn("Price search ceiling reached, skipping remaining fallbacks",
				"query", query,
				"next", fb.source.Name())
			break
		}
		a.logger.Info("Price search escalating to fallback", "query", query, "fallback", fb.source.Name())
		if quotes := run(ctx, query, fb, a.logger); len(quotes) > 0 {
			return a.finish(query, quotes, fb.source.Name())
		}
	}

	a.logger.Info("Price search using static links", "query", query)
	return a.finish(query, StaticLinks(query), StaticName)
}

func (a *Aggregator) finish(query string, quotes []domain.PriceQuote, stage string) Result {
	if len(quotes) > a.cfg.MaxResults {
		quotes = quotes[:a.cfg.MaxResults]
	}
	metrics.PriceSearches.WithLabelValues(stage).Inc()
	return Result{Query: query, Quotes: quotes, Stage: stage}
}

// settle runs every member concurrently and waits for all of them. A
// member that fails or times out contributes nothing and never cancels
// the others. Results are kept in completion order.
func settle(ctx context.Context, query string, members []*member, logger *slog.Logger) []domain.PriceQuote {
	var (
		mu  sync.Mutex
		out []domain.PriceQuote
		g   errgroup.Group
	)
	for _, m := range members {
		g.Go(func() error {
			quotes := run(ctx, query, m, logger)
			if len(quotes) > 0 {
				mu.Lock()
				out = append(out, quotes...)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type fetchResult struct {
	quotes []domain.PriceQuote
	err    error
}

// run calls one member under its own timeout and breaker. It returns
// once the timeout fires even if the source ignores its context.
func run(ctx context.Context, query string, m *member, logger *slog.Logger) []domain.PriceQuote {
	name := m.source.Name()
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		v, err := m.breaker.Execute(func() (interface{}, error) {
			return m.source.Fetch(sctx, query)
		})
		quotes, _ := v.([]domain.PriceQuote)
		done <- fetchResult{quotes: quotes, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-sctx.Done():
		res = fetchResult{err: sctx.Err()}
	}
	elapsed := time.Since(start)

	outcome := classify(res)
	metrics.RecordSource(name, outcome, elapsed)
	switch outcome {
	case "ok":
		logger.Debug("Price source returned quotes", "source", name, "count", len(res.quotes), "elapsed_ms", elapsed.Milliseconds())
		return res.quotes
	case "empty":
		logger.Info("Price source returned no quotes", "source", name, "elapsed_ms", elapsed.Milliseconds())
	case "blocked":
		logger.Warn("Price source blocked", "source", name, "elapsed_ms", elapsed.Milliseconds())
	case "open":
		logger.Debug("Price source skipped, breaker open", "source", name)
	default:
		logger.Warn("Price source failed", "source", name, "outcome", outcome, "error", res.err, "elapsed_ms", elapsed.Milliseconds())
	}
	return nil
}

func classify(res fetchResult) string {
	switch {
	case res.err == nil && len(res.quotes) > 0:
		return "ok"
	case res.err == nil:
		return "empty"
	case errors.Is(res.err, ErrBlocked):
		return "blocked"
	case errors.Is(res.err, gobreaker.ErrOpenState), errors.Is(res.err, gobreaker.ErrTooManyRequests):
		return "open"
	case errors.Is(res.err, context.DeadlineExceeded), errors.Is(res.err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}

// Group fans out to several sources and merges what they return. It lets
// a set of sites act as one fallback stage.
type Group struct {
	name    string
	members []*member
	logger  *slog.Logger
}

// NewGroup creates a group whose members share one timeout.
func NewGroup(name string, timeout time.Duration, sources []Source, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Group{name: name, logger: logger}
	for _, s := range sources {
		g.members = append(g.members, &member{
			source:  s,
			timeout: timeout,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: s.Name()}),
		})
	}
	return g
}

// Name implements Source.
func (g *Group) Name() string { return g.name }

// Fetch implements Source.
func (g *Group) Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error) {
	return settle(ctx, query, g.members, g.logger), nil
}
