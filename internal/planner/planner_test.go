package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/site"
)

func newPlanner(t *testing.T) *Planner {
	t.Helper()
	s, err := site.New("https://quotes.example.com")
	require.NoError(t, err)
	return New(s)
}

func TestPlanDefaultsToSingleTopic(t *testing.T) {
	t.Parallel()

	tasks, err := newPlanner(t).Plan(Input{MaxPages: 5})
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	for i, task := range tasks {
		require.Equal(t, crawler.OriginTopic, task.Origin)
		require.Equal(t, site.DefaultTopic, task.Topic)
		require.Equal(t, i+1, task.Page)
	}
	require.Equal(t, "https://quotes.example.com/topics/motivational-quotes", tasks[0].URL)
	require.Equal(t, "https://quotes.example.com/topics/motivational-quotes_2", tasks[1].URL)
}

func TestPlanOrdering(t *testing.T) {
	t.Parallel()

	tasks, err := newPlanner(t).Plan(Input{
		Topics:    []string{"Motivation", "Life Lessons", "motivation-quotes"},
		Author:    "Mark Twain",
		StartURLs: []string{"https://other.example.com/list", "  "},
		MaxPages:  2,
	})
	require.NoError(t, err)

	type row struct {
		origin crawler.Origin
		key    string
		page   int
	}
	got := make([]row, 0, len(tasks))
	for _, task := range tasks {
		key := task.Topic
		if task.Origin == crawler.OriginAuthor {
			key = task.Author
		}
		if task.Origin == crawler.OriginStartURL {
			key = task.URL
		}
		got = append(got, row{task.Origin, key, task.Page})
	}
	require.Equal(t, []row{
		{crawler.OriginTopic, "motivation", 1},
		{crawler.OriginTopic, "motivation", 2},
		{crawler.OriginTopic, "life-lessons", 1},
		{crawler.OriginTopic, "life-lessons", 2},
		{crawler.OriginAuthor, "mark_twain", 1},
		{crawler.OriginAuthor, "mark_twain", 2},
		{crawler.OriginStartURL, "https://other.example.com/list", 1},
	}, got)
	require.Equal(t, "mark_twain", tasks[4].Topic)
	require.Equal(t, "https://quotes.example.com/authors/mark_twain-quotes_2", tasks[5].URL)
}

func TestPlanClampsMaxPages(t *testing.T) {
	t.Parallel()

	tasks, err := newPlanner(t).Plan(Input{Topics: []string{"love"}, MaxPages: -3})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestPlanCapsMaxPages(t *testing.T) {
	t.Parallel()

	tasks, err := newPlanner(t).Plan(Input{Topics: []string{"love"}, MaxPages: 1_000_000_000})
	require.NoError(t, err)
	require.Len(t, tasks, MaxPagesLimit)
	require.Equal(t, MaxPagesLimit, tasks[len(tasks)-1].Page)
}

func TestPlanIgnoresAuthorThatNormalizesEmpty(t *testing.T) {
	t.Parallel()

	tasks, err := newPlanner(t).Plan(Input{Author: "???", MaxPages: 3})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		require.Equal(t, crawler.OriginTopic, task.Origin)
	}
}

func TestPlanRejectsMalformedStartURL(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"not a url", "/relative/path", "ftp://example.com/x", "http://%zz"} {
		_, err := newPlanner(t).Plan(Input{StartURLs: []string{bad}, MaxPages: 1})
		var planErr *crawler.PlanningError
		require.ErrorAs(t, err, &planErr, "input %q", bad)
		require.Equal(t, "startUrls[0]", planErr.Field)
	}
}

func TestParseTopics(t *testing.T) {
	t.Parallel()

	got, err := ParseTopics("Love")
	require.NoError(t, err)
	require.Equal(t, []string{"Love"}, got)

	got, err = ParseTopics([]any{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)

	got, err = ParseTopics(nil)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = ParseTopics([]any{"a", 3})
	var planErr *crawler.PlanningError
	require.ErrorAs(t, err, &planErr)

	_, err = ParseTopics(42)
	require.ErrorAs(t, err, &planErr)
}

func TestParseStartURLs(t *testing.T) {
	t.Parallel()

	got, err := ParseStartURLs([]any{
		"https://a.example.com",
		map[string]any{"url": "https://b.example.com"},
		map[string]any{"label": "no url"},
		nil,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, got)

	_, err = ParseStartURLs([]any{map[string]any{"url": 12}})
	var planErr *crawler.PlanningError
	require.ErrorAs(t, err, &planErr)
	require.Equal(t, "startUrls[0]", planErr.Field)

	_, err = ParseStartURLs(true)
	require.ErrorAs(t, err, &planErr)
}
