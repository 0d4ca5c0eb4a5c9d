// Package worker runs the per-page crawl pipeline: fetch with API-first
// fallback, envelope unwrap, parse, deduplicate, reserve quota, push to the sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/envelope"
	"github.com/JakeFAU/quote-crawler/internal/metrics"
	"github.com/JakeFAU/quote-crawler/internal/site"
)

// acceptLanguage matches the language stamped on every record.
const acceptLanguage = "en-US,en;q=0.9"

// errNotEnvelope marks an API response whose body carries no markup payload.
var errNotEnvelope = errors.New("api response is not a markup envelope")

// Status is how a page task ended.
type Status string

// Task statuses. Anything but StatusParsed ends the task's page sequence.
const (
	StatusParsed Status = "parsed"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
	StatusHalted Status = "halted"
)

// Outcome summarizes one processed task.
type Outcome struct {
	Status     Status
	Mode       crawler.FetchMode
	Candidates int
	Accepted   int
	Duplicates int
	FellBack   bool
	// Halted is set when the quota ran out while this page was being accepted.
	Halted bool
}

// Config controls Worker behavior.
type Config struct {
	PreferAPI bool
	// MarkupMode is the mode of the markup fetcher: rendered or html.
	MarkupMode crawler.FetchMode
}

// Worker executes page tasks. It holds no per-run state and is safe for
// concurrent use.
type Worker struct {
	site   site.Site
	api    crawler.Fetcher
	markup crawler.Fetcher
	parser crawler.PageParser
	sink   crawler.Sink
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker. api may be nil, in which case every task goes
// straight to the markup fetcher.
func New(
	s site.Site,
	api crawler.Fetcher,
	markup crawler.Fetcher,
	parser crawler.PageParser,
	sink crawler.Sink,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MarkupMode == "" {
		cfg.MarkupMode = crawler.ModeHTML
	}
	return &Worker{
		site:   s,
		api:    api,
		markup: markup,
		parser: parser,
		sink:   sink,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Process runs one task against the run state. Fetch failures are logged and
// reported in the Outcome; only a sink failure or context cancellation is
// returned as an error.
func (w *Worker) Process(ctx context.Context, state *State, task crawler.Task) (Outcome, error) {
	logger := w.logger.With(
		zap.String("origin", string(task.Origin)),
		zap.String("sequence", task.Sequence()),
		zap.Int("page", task.Page),
	)

	if state.Halted() {
		metrics.ObserveTask(string(task.Origin), metrics.OutcomeHalted)
		return Outcome{Status: StatusHalted}, nil
	}

	resp, mode, fellBack, err := w.fetch(ctx, task, logger)
	out := Outcome{Mode: mode, FellBack: fellBack}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Status: StatusFailed, Mode: mode, FellBack: fellBack}, fmt.Errorf("process %s: %w", task.URL, ctxErr)
		}
		if !errors.Is(err, crawler.ErrContentNotFound) {
			w.logFetchFailure(logger, err)
			metrics.ObserveTask(string(task.Origin), metrics.OutcomeFailed)
			out.Status = StatusFailed
			return out, nil
		}
		logger.Info("quote list not rendered, treating page as empty", zap.String("url", resp.URL))
	}

	var candidates []crawler.Record
	if err == nil {
		candidates = w.parser.Parse(resp.Body, crawler.PageContext{
			Topic:     task.Topic,
			Page:      task.Page,
			Mode:      mode,
			SourceURL: resp.URL,
		})
	}
	out.Candidates = len(candidates)
	if len(candidates) == 0 {
		logger.Info("no quotes on page, ending sequence", zap.String("mode", string(mode)))
		metrics.ObserveTask(string(task.Origin), metrics.OutcomeEmpty)
		out.Status = StatusEmpty
		return out, nil
	}

	batch := w.accept(state, candidates, &out)

	if len(batch) > 0 {
		pushErr := w.sink.Push(ctx, batch)
		if pushErr != nil {
			state.Stop()
			state.Quota.Release(len(batch))
			logger.Error("sink push failed", zap.Int("records", len(batch)), zap.Error(pushErr))
			out.Accepted = 0
			metrics.ObserveRecords(0, out.Duplicates)
			out.Status = StatusFailed
			return out, &crawler.SinkError{Err: pushErr}
		}
		logger.Info("records saved",
			zap.String("mode", string(mode)),
			zap.Int("accepted", out.Accepted),
			zap.Int("duplicates", out.Duplicates),
			zap.Int("saved", state.Quota.Accepted()),
			zap.Int("max", state.Quota.Max()),
		)
	}

	metrics.ObserveRecords(out.Accepted, out.Duplicates)

	if state.Quota.IsExhausted() {
		state.Stop()
		out.Halted = true
	}
	out.Status = StatusParsed
	metrics.ObserveTask(string(task.Origin), metrics.OutcomeOK)
	return out, nil
}

// accept filters candidates in extraction order. Each record reserves its
// quota slot individually so concurrent pages never overshoot the limit.
func (w *Worker) accept(state *State, candidates []crawler.Record, out *Outcome) []crawler.Record {
	batch := make([]crawler.Record, 0, len(candidates))
	for _, candidate := range candidates {
		if state.Halted() {
			out.Halted = true
			break
		}
		if !candidate.Valid() {
			continue
		}
		if !state.Seen.Accept(candidate.IdentityKey()) {
			out.Duplicates++
			continue
		}
		if !state.Quota.TryAcquire() {
			state.Stop()
			out.Halted = true
			break
		}
		candidate.ScrapedAt = w.clock.Now()
		batch = append(batch, candidate)
		out.Accepted++
	}
	return batch
}

// fetch tries the API for topic pages when enabled and falls back to the
// markup fetcher for the same page. The returned body is unwrapped markup.
func (w *Worker) fetch(
	ctx context.Context,
	task crawler.Task,
	logger *zap.Logger,
) (crawler.FetchResponse, crawler.FetchMode, bool, error) {
	fellBack := false
	if task.Origin == crawler.OriginTopic && w.cfg.PreferAPI && w.api != nil {
		resp, err := w.fetchAPI(ctx, task)
		if err == nil {
			return resp, crawler.ModeAPI, false, nil
		}
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, crawler.ModeAPI, false, err
		}
		logger.Debug("api fetch failed, falling back to markup", zap.Error(err))
		metrics.ObserveFallback()
		fellBack = true
	}

	mode := w.cfg.MarkupMode
	url := w.site.URLFor(task, mode)
	resp, err := w.markup.Fetch(ctx, crawler.FetchRequest{URL: url, Mode: mode, Headers: w.requestHeaders(task)})
	if err != nil {
		return crawler.FetchResponse{URL: url}, mode, fellBack, &crawler.FetchError{URL: url, Mode: mode, Err: err}
	}
	if resp.URL == "" {
		resp.URL = url
	}
	if markup, ok := envelope.Unwrap(resp.Body); ok {
		resp.Body = markup
	}
	return resp, mode, fellBack, nil
}

func (w *Worker) fetchAPI(ctx context.Context, task crawler.Task) (crawler.FetchResponse, error) {
	url := w.site.URLFor(task, crawler.ModeAPI)
	resp, err := w.api.Fetch(ctx, crawler.FetchRequest{URL: url, Mode: crawler.ModeAPI, Headers: w.requestHeaders(task)})
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: url, Mode: crawler.ModeAPI, Err: err}
	}
	markup, ok := envelope.Unwrap(resp.Body)
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: url, Mode: crawler.ModeAPI, Err: errNotEnvelope}
	}
	resp.Body = markup
	if resp.URL == "" {
		resp.URL = url
	}
	return resp, nil
}

// requestHeaders returns the headers a browser paging through a listing would
// send. Past page 1 the previous markup page of the sequence is the Referer.
func (w *Worker) requestHeaders(task crawler.Task) http.Header {
	headers := http.Header{}
	headers.Set("Accept-Language", acceptLanguage)
	if task.Page > 1 && task.Origin != crawler.OriginStartURL {
		prev := task
		prev.Page--
		headers.Set("Referer", w.site.URLFor(prev, crawler.ModeHTML))
	}
	return headers
}

func (w *Worker) logFetchFailure(logger *zap.Logger, err error) {
	var fetchErr *crawler.FetchError
	url := ""
	if errors.As(err, &fetchErr) {
		url = fetchErr.URL
	}
	if crawler.StatusCode(err) == http.StatusForbidden {
		logger.Warn("blocked, skipping page", zap.String("url", url), zap.Int("status", http.StatusForbidden))
		return
	}
	logger.Error("page fetch failed, skipping", zap.String("url", url), zap.Error(err))
}
