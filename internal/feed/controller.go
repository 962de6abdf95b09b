// Package feed holds the feed engine: item identity rules, the per-type Feed
// Collections, the FeedRegistry that owns them, and the Fetch Controller that
// merges paginated responses into them.
package feed

import (
	"context"
	"time"

	"feedsync/internal/models"
	"feedsync/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Fetcher is the part of the content API the controller consumes.
type Fetcher interface {
	FetchFeed(ctx context.Context, ft models.FeedType, q models.Query) (*models.FeedPage, error)
}

// Outcome summarizes a fetch call.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeStale   Outcome = "stale"
	OutcomeFailed  Outcome = "failed"
)

// Result is returned by FetchInitial and FetchMore.
type Result struct {
	Outcome  Outcome  `json:"outcome"`
	Decision Decision `json:"decision"`
	Mode     Mode     `json:"mode,omitempty"`
	Added    int      `json:"added"`
	Dropped  int      `json:"dropped"`
}

// Controller issues paginated fetches per feed and merges their results.
type Controller struct {
	reg     *Registry
	fetcher Fetcher
	limit   int
	timeout time.Duration
	log     *observability.EngineLogger
}

// ControllerOptions tunes page size and per-request timeout.
type ControllerOptions struct {
	PageLimit int
	Timeout   time.Duration
}

// NewController creates a Controller writing into reg.
func NewController(reg *Registry, fetcher Fetcher, opts ControllerOptions) *Controller {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Controller{
		reg:     reg,
		fetcher: fetcher,
		limit:   opts.PageLimit,
		timeout: opts.Timeout,
		log:     observability.NewEngineLogger("fetch"),
	}
}

// FetchInitial loads the first page of ft for filter. A changed filter or an
// explicit reset replaces the feed; an unchanged, already loaded feed is left
// alone. Transport failures are recorded on the feed's error and reported as
// OutcomeFailed; the returned error is reserved for invalid requests.
func (c *Controller) FetchInitial(ctx context.Context, ft models.FeedType, filter models.Filter, reset bool) (Result, error) {
	if err := filter.Validate(ft); err != nil {
		return Result{Outcome: OutcomeSkipped}, err
	}
	t, decision, err := c.reg.beginInitial(ft, filter, reset)
	if err != nil {
		return Result{Outcome: OutcomeSkipped}, err
	}
	if decision != DecisionStart {
		return c.skipped(ctx, ft, "initial", decision), nil
	}
	return c.run(ctx, t, "initial")
}

// FetchMore loads the page after cursor. It never starts a request for an
// empty cursor, an exhausted or unloaded feed, a cursor that is not the
// feed's current one, or while another request for ft is in flight. Like
// FetchInitial, a failed page lands on the feed's error, not the return.
func (c *Controller) FetchMore(ctx context.Context, ft models.FeedType, cursor string) (Result, error) {
	t, decision, err := c.reg.beginMore(ft, cursor)
	if err != nil {
		return Result{Outcome: OutcomeSkipped}, err
	}
	if decision != DecisionStart {
		return c.skipped(ctx, ft, "more", decision), nil
	}
	return c.run(ctx, t, "more")
}

func (c *Controller) skipped(ctx context.Context, ft models.FeedType, mode string, d Decision) Result {
	observability.FeedFetchTotal.WithLabelValues(string(ft), mode, string(OutcomeSkipped)).Inc()
	c.log.LogDebug(ctx, "fetch_"+mode, map[string]interface{}{
		"feed_type": string(ft),
		"decision":  string(d),
	})
	return Result{Outcome: OutcomeSkipped, Decision: d}
}

func (c *Controller) run(ctx context.Context, t ticket, mode string) (Result, error) {
	span, ctx := observability.NewSpan(ctx, "feed.fetch_"+mode,
		attribute.String("feed.type", string(t.feedType)),
		attribute.String("feed.mode", string(t.mode)),
		attribute.Int64("feed.generation", int64(t.generation)),
	)
	defer span.End()
	defer observability.TrackFetch(string(t.feedType), mode)()

	q := models.Query{Filter: t.filter, Limit: c.limit, Cursor: t.cursor}

	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	page, err := c.fetcher.FetchFeed(fctx, t.feedType, q)
	cancel()

	fields := map[string]interface{}{
		"feed_type":  string(t.feedType),
		"generation": t.generation,
		"cursor":     t.cursor,
	}

	if err != nil {
		span.SetError(err)
		if c.reg.fail(t, err) {
			observability.StaleResponses.WithLabelValues(string(t.feedType)).Inc()
			observability.FeedFetchTotal.WithLabelValues(string(t.feedType), mode, string(OutcomeStale)).Inc()
			return Result{Outcome: OutcomeStale, Decision: DecisionStart, Mode: t.mode}, nil
		}
		observability.FeedFetchTotal.WithLabelValues(string(t.feedType), mode, string(OutcomeFailed)).Inc()
		c.log.LogError(ctx, "fetch_"+mode, err, fields)
		return Result{Outcome: OutcomeFailed, Decision: DecisionStart, Mode: t.mode}, nil
	}

	res := c.reg.complete(t, page)
	if res.stale {
		observability.StaleResponses.WithLabelValues(string(t.feedType)).Inc()
		observability.FeedFetchTotal.WithLabelValues(string(t.feedType), mode, string(OutcomeStale)).Inc()
		c.log.LogDebug(ctx, "fetch_"+mode, fields)
		return Result{Outcome: OutcomeStale, Decision: DecisionStart, Mode: t.mode}, nil
	}

	if res.dropped > 0 {
		observability.FeedDedupDropped.WithLabelValues(string(t.feedType)).Add(float64(res.dropped))
	}
	observability.FeedFetchTotal.WithLabelValues(string(t.feedType), mode, string(OutcomeApplied)).Inc()
	fields["added"] = res.added
	fields["dropped"] = res.dropped
	c.log.LogInfo(ctx, "fetch_"+mode, fields)

	return Result{
		Outcome:  OutcomeApplied,
		Decision: DecisionStart,
		Mode:     t.mode,
		Added:    res.added,
		Dropped:  res.dropped,
	}, nil
}
