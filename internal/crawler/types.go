package crawler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Origin identifies which planning source produced a Task.
type Origin string

// Task origins emitted by the planner.
const (
	OriginTopic    Origin = "topic"
	OriginAuthor   Origin = "author"
	OriginStartURL Origin = "start_url"
)

// FetchMode is the strategy used to retrieve a page.
type FetchMode string

// Supported fetch modes.
const (
	ModeRendered FetchMode = "rendered"
	ModeAPI      FetchMode = "api"
	ModeHTML     FetchMode = "html"
)

// Task is a single page fetch produced by the planner. Tasks are values and are
// never mutated; the next page of a source is a new Task.
type Task struct {
	URL    string
	Topic  string
	Author string
	Page   int
	Origin Origin
}

// Sequence names the (origin, topic) page sequence the task belongs to. Pages of
// one sequence share a key; an empty page ends the whole sequence.
func (t Task) Sequence() string {
	switch t.Origin {
	case OriginTopic:
		return string(t.Origin) + ":" + t.Topic
	case OriginAuthor:
		return string(t.Origin) + ":" + t.Author
	default:
		return string(t.Origin) + ":" + t.URL
	}
}

// PageContext is handed to the page parser alongside the markup.
type PageContext struct {
	Topic     string
	Page      int
	Mode      FetchMode
	SourceURL string
}

// Record is one extracted quote. Empty optional strings encode as JSON null.
type Record struct {
	Quote      string
	Author     string
	AuthorURL  string
	Topic      string
	Tags       []string
	QuoteURL   string
	Page       int
	Position   int
	SourceMode FetchMode
	SourceURL  string
	Language   string
	ScrapedAt  time.Time
}

type recordJSON struct {
	Quote      string    `json:"quote"`
	Author     *string   `json:"author"`
	AuthorURL  *string   `json:"author_url"`
	Topic      *string   `json:"topic"`
	Tags       []string  `json:"tags"`
	QuoteURL   *string   `json:"quote_url"`
	Page       int       `json:"page"`
	Position   int       `json:"position"`
	SourceMode FetchMode `json:"source_mode"`
	SourceURL  *string   `json:"source_url"`
	Language   string    `json:"language,omitempty"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// MarshalJSON writes the snake_case record schema.
func (r Record) MarshalJSON() ([]byte, error) {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(recordJSON{
		Quote:      r.Quote,
		Author:     nullable(r.Author),
		AuthorURL:  nullable(r.AuthorURL),
		Topic:      nullable(r.Topic),
		Tags:       tags,
		QuoteURL:   nullable(r.QuoteURL),
		Page:       r.Page,
		Position:   r.Position,
		SourceMode: r.SourceMode,
		SourceURL:  nullable(r.SourceURL),
		Language:   r.Language,
		ScrapedAt:  r.ScrapedAt,
	})
}

// UnmarshalJSON reads the snake_case record schema.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		Quote:      raw.Quote,
		Author:     deref(raw.Author),
		AuthorURL:  deref(raw.AuthorURL),
		Topic:      deref(raw.Topic),
		Tags:       raw.Tags,
		QuoteURL:   deref(raw.QuoteURL),
		Page:       raw.Page,
		Position:   raw.Position,
		SourceMode: raw.SourceMode,
		SourceURL:  deref(raw.SourceURL),
		Language:   raw.Language,
		ScrapedAt:  raw.ScrapedAt,
	}
	return nil
}

// IdentityKey returns the run-wide deduplication key: the quote URL when known,
// otherwise the normalized quote text joined with the author.
func (r Record) IdentityKey() string {
	if u := strings.TrimSpace(r.QuoteURL); u != "" {
		return "url:" + u
	}
	text := strings.ToLower(strings.Join(strings.Fields(r.Quote), " "))
	if text == "" {
		return ""
	}
	author := strings.ToLower(strings.Join(strings.Fields(r.Author), " "))
	return "text:" + text + "\x1f" + author
}

// Valid reports whether the record satisfies the non-empty quote invariant.
func (r Record) Valid() bool {
	return strings.TrimSpace(r.Quote) != ""
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Mode    FetchMode
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Mode       FetchMode
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
