package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/crawlertest"
	"github.com/JakeFAU/quote-crawler/internal/parser"
	"github.com/JakeFAU/quote-crawler/internal/planner"
	"github.com/JakeFAU/quote-crawler/internal/site"
	"github.com/JakeFAU/quote-crawler/internal/worker"
)

const base = "https://quotes.example.com"

type harness struct {
	api        *crawlertest.Fetcher
	markup     *crawlertest.Fetcher
	sink       *crawlertest.Sink
	planner    *planner.Planner
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, preferAPI bool, concurrency int) *harness {
	t.Helper()
	s, err := site.New(base)
	require.NoError(t, err)
	h := &harness{
		api:     crawlertest.NewFetcher(nil),
		markup:  crawlertest.NewFetcher(nil),
		sink:    &crawlertest.Sink{},
		planner: planner.New(s),
	}
	clock := crawlertest.Clock{At: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	w := worker.New(s, h.api, h.markup, parser.New(), h.sink, clock, worker.Config{PreferAPI: preferAPI}, zap.NewNop())
	h.dispatcher = New(w, crawlertest.IDs{ID: "run-1"}, clock, Config{Concurrency: concurrency}, zap.NewNop())
	return h
}

func (h *harness) run(t *testing.T, in planner.Input, maxItems int) (Summary, error) {
	t.Helper()
	tasks, err := h.planner.Plan(in)
	require.NoError(t, err)
	return h.dispatcher.Run(context.Background(), tasks, maxItems)
}

func TestRunMotivationScenarioHaltsBeforePageTwo(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, 1)
	h.api.Set(base+"/topics/motivation-quotes", crawlertest.Page{Body: crawlertest.Envelope(crawlertest.Listing("m1", 5))})
	h.api.Set(base+"/topics/motivation-quotes?pg=2", crawlertest.Page{Body: crawlertest.Envelope(crawlertest.Listing("m2", 5))})

	summary, err := h.run(t, planner.Input{Topics: []string{"Motivation"}, MaxPages: 2}, 3)
	require.NoError(t, err)
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, 3, summary.Accepted)
	require.True(t, summary.Halted)

	records := h.sink.Records()
	require.Len(t, records, 3)
	for _, r := range records {
		require.Equal(t, 1, r.Page)
		require.Equal(t, "motivation", r.Topic)
	}
	require.Equal(t, []string{base + "/topics/motivation-quotes"}, h.api.URLs())
	require.Zero(t, h.markup.Calls())
}

func TestRunStopsPaginationAtFirstEmptyPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 1)
	h.markup.Set(base+"/topics/x-quotes", crawlertest.Page{Body: crawlertest.Listing("x1", 2)})
	h.markup.Set(base+"/topics/x-quotes_2", crawlertest.Page{Body: crawlertest.Listing("x2", 2)})
	h.markup.Set(base+"/topics/x-quotes_3", crawlertest.Page{Body: crawlertest.Listing("x3", 0)})
	h.markup.Set(base+"/topics/x-quotes_4", crawlertest.Page{Body: crawlertest.Listing("x4", 2)})
	h.markup.Set(base+"/topics/y-quotes", crawlertest.Page{Body: crawlertest.Listing("y1", 1)})

	summary, err := h.run(t, planner.Input{Topics: []string{"x", "y"}, MaxPages: 5}, 100)
	require.NoError(t, err)
	require.False(t, summary.Halted)
	require.Equal(t, 5, summary.Accepted)

	pages := map[string][]int{}
	for _, r := range h.sink.Records() {
		pages[r.Topic] = append(pages[r.Topic], r.Page)
	}
	require.Equal(t, []int{1, 1, 2, 2}, pages["x"])
	require.Equal(t, []int{1}, pages["y"])
	require.Equal(t, []string{
		base + "/topics/x-quotes",
		base + "/topics/x-quotes_2",
		base + "/topics/x-quotes_3",
		base + "/topics/y-quotes",
		base + "/topics/y-quotes_2",
	}, h.markup.URLs(), "y page 2 is a 404 and ends that sequence")
	require.Equal(t, 1, summary.TasksFailed)
}

func TestRunCrossTaskDuplicateKeepsFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 1)
	h.markup.Set(base+"/topics/love-quotes", crawlertest.Page{Body: crawlertest.Listing("dup", 1)})
	h.markup.Set(base+"/featured", crawlertest.Page{Body: crawlertest.Listing("dup", 1)})

	summary, err := h.run(t, planner.Input{Topics: []string{"love"}, StartURLs: []string{base + "/featured"}, MaxPages: 1}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Accepted)
	require.Equal(t, 1, summary.Duplicates)

	records := h.sink.Records()
	require.Len(t, records, 1)
	require.Equal(t, "love", records[0].Topic)
	require.Equal(t, base+"/topics/love-quotes", records[0].SourceURL)
}

func TestRunAuthorRecordsCarryAuthorAsTopic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 1)
	h.markup.Set(base+"/authors/albert_einstein-quotes", crawlertest.Page{Body: crawlertest.Listing("einstein", 2)})

	summary, err := h.run(t, planner.Input{Author: "Albert Einstein", MaxPages: 1}, 10)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Accepted)

	for _, r := range h.sink.Records() {
		require.Equal(t, "albert_einstein", r.Topic)
		require.Equal(t, []string{"albert_einstein"}, r.Tags)
	}
}

func TestRunFetchFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 1)
	h.markup.Set(base+"/topics/a-quotes", crawlertest.Page{
		Err: &crawler.HTTPStatusError{URL: base + "/topics/a-quotes", StatusCode: http.StatusForbidden},
	})
	h.markup.Set(base+"/authors/jane_doe-quotes", crawlertest.Page{Body: crawlertest.Listing("jane", 2)})

	summary, err := h.run(t, planner.Input{Topics: []string{"a"}, Author: "Jane Doe", MaxPages: 1}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.TasksFailed)
	require.Equal(t, 2, summary.Accepted)
	for _, r := range h.sink.Records() {
		require.Empty(t, r.Topic)
	}
}

func TestRunQuotaPreventsLaterSequences(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 1)
	h.markup.Set(base+"/topics/a-quotes", crawlertest.Page{Body: crawlertest.Listing("a", 3)})
	h.markup.Set(base+"/topics/b-quotes", crawlertest.Page{Body: crawlertest.Listing("b", 3)})

	summary, err := h.run(t, planner.Input{Topics: []string{"a", "b"}, MaxPages: 3}, 3)
	require.NoError(t, err)
	require.True(t, summary.Halted)
	require.Equal(t, []string{base + "/topics/a-quotes"}, h.markup.URLs())
}

func TestRunParallelNeverOvershootsQuota(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 4)
	h.markup.Delay = 5 * time.Millisecond
	topics := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		topic := fmt.Sprintf("t%d", i)
		topics = append(topics, topic)
		h.markup.Set(base+"/topics/"+topic+"-quotes", crawlertest.Page{Body: crawlertest.Listing(topic, 10)})
	}

	summary, err := h.run(t, planner.Input{Topics: topics, MaxPages: 1}, 17)
	require.NoError(t, err)
	require.True(t, summary.Halted)
	require.Equal(t, 17, summary.Accepted)

	records := h.sink.Records()
	require.Len(t, records, 17)
	seen := map[string]struct{}{}
	for _, r := range records {
		_, dup := seen[r.IdentityKey()]
		require.False(t, dup)
		seen[r.IdentityKey()] = struct{}{}
	}
}

func TestRunSinkFailureAbortsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 1)
	h.sink.FailAfter = 2
	h.sink.Err = errors.New("bucket unavailable")
	h.markup.Set(base+"/topics/a-quotes", crawlertest.Page{Body: crawlertest.Listing("a", 2)})
	h.markup.Set(base+"/topics/a-quotes_2", crawlertest.Page{Body: crawlertest.Listing("a2", 2)})
	h.markup.Set(base+"/topics/b-quotes", crawlertest.Page{Body: crawlertest.Listing("b", 2)})

	summary, err := h.run(t, planner.Input{Topics: []string{"a", "b"}, MaxPages: 2}, 100)
	var sinkErr *crawler.SinkError
	require.ErrorAs(t, err, &sinkErr)
	require.Len(t, h.sink.Records(), 2, "records pushed before the failure stay pushed")
	require.NotContains(t, h.markup.URLs(), base+"/topics/b-quotes")
	require.True(t, summary.Halted)
	require.Equal(t, len(h.sink.Records()), summary.Accepted)
	require.Equal(t, 2, h.dispatcher.Progress().Accepted)

	last, ok := h.dispatcher.LastSummary()
	require.True(t, ok)
	require.Equal(t, 2, last.Accepted)
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 2)
	h.markup.Delay = time.Second
	h.markup.Set(base+"/topics/a-quotes", crawlertest.Page{Body: crawlertest.Listing("a", 2)})
	tasks, err := h.planner.Plan(planner.Input{Topics: []string{"a"}, MaxPages: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.dispatcher.Run(ctx, tasks, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, 1)
	require.Equal(t, Progress{}, h.dispatcher.Progress())
	_, ok := h.dispatcher.LastSummary()
	require.False(t, ok)

	h.markup.Set(base+"/topics/a-quotes", crawlertest.Page{Body: crawlertest.Listing("a", 2)})
	_, err := h.run(t, planner.Input{Topics: []string{"a"}, MaxPages: 1}, 5)
	require.NoError(t, err)

	require.Equal(t, Progress{
		RunID:     "run-1",
		Running:   false,
		Accepted:  2,
		Max:       5,
		Remaining: 3,
		Seen:      2,
	}, h.dispatcher.Progress())

	last, ok := h.dispatcher.LastSummary()
	require.True(t, ok)
	require.Equal(t, "run-1", last.RunID)
	require.Equal(t, 2, last.Accepted)
}

func TestGroupSequencesKeepsOrder(t *testing.T) {
	t.Parallel()

	tasks := []crawler.Task{
		{Origin: crawler.OriginTopic, Topic: "a", Page: 1},
		{Origin: crawler.OriginTopic, Topic: "a", Page: 2},
		{Origin: crawler.OriginTopic, Topic: "b", Page: 1},
		{Origin: crawler.OriginAuthor, Author: "a", Page: 1},
		{Origin: crawler.OriginStartURL, URL: "https://x.example.com", Page: 1},
		{Origin: crawler.OriginStartURL, URL: "https://y.example.com", Page: 1},
	}
	got := groupSequences(tasks)
	require.Len(t, got, 5)
	require.Len(t, got[0], 2)
	require.Equal(t, 2, got[0][1].Page)
	require.Equal(t, crawler.OriginAuthor, got[2][0].Origin)
	require.Equal(t, "https://y.example.com", got[4][0].URL)
}
