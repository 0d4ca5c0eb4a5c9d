// Package site encodes the target site's URL conventions: how topics and
// authors are normalized into path segments and how page numbers are encoded
// for each fetch mode.
package site

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

// DefaultBaseURL is the site crawled when no base URL is configured.
const DefaultBaseURL = "https://www.brainyquote.com"

// DefaultTopic is used when the input names no topic or a topic normalizes to empty.
const DefaultTopic = "motivational"

var (
	whitespaceRun    = regexp.MustCompile(`\s+`)
	quotesSuffix     = regexp.MustCompile(`[-_]quotes$`)
	invalidAuthorRun = regexp.MustCompile(`[^a-z0-9_]`)
)

// Site builds page URLs for a base URL.
type Site struct {
	base string
}

// New validates baseURL and returns a Site. An empty baseURL selects DefaultBaseURL.
func New(baseURL string) (Site, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return Site{}, fmt.Errorf("parse base url: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Site{}, fmt.Errorf("base url %q must be an absolute http(s) URL", baseURL)
	}
	return Site{base: strings.TrimRight(parsed.String(), "/")}, nil
}

// BaseURL returns the normalized base URL without a trailing slash.
func (s Site) BaseURL() string {
	return s.base
}

// NormalizeTopic lower-cases the topic, joins words with hyphens, and strips a
// trailing "-quotes"/"_quotes" suffix, falling back to DefaultTopic.
func NormalizeTopic(raw string) string {
	topic := strings.ToLower(strings.TrimSpace(raw))
	topic = whitespaceRun.ReplaceAllString(topic, "-")
	topic = quotesSuffix.ReplaceAllString(topic, "")
	if topic == "" {
		return DefaultTopic
	}
	return topic
}

// NormalizeAuthor lower-cases the author, joins words with underscores, and
// drops everything outside [a-z0-9_]. The result may be empty.
func NormalizeAuthor(raw string) string {
	author := strings.ToLower(strings.TrimSpace(raw))
	author = whitespaceRun.ReplaceAllString(author, "_")
	return invalidAuthorRun.ReplaceAllString(author, "")
}

// TopicURL returns the listing URL of a normalized topic for the given page and mode.
func (s Site) TopicURL(topic string, page int, mode crawler.FetchMode) string {
	return paginate(s.base+"/topics/"+topic+"-quotes", page, mode)
}

// AuthorURL returns the listing URL of a normalized author for the given page and mode.
func (s Site) AuthorURL(author string, page int, mode crawler.FetchMode) string {
	return paginate(s.base+"/authors/"+author+"-quotes", page, mode)
}

// URLFor returns the URL to fetch for task in mode. Start URLs are fetched verbatim.
func (s Site) URLFor(task crawler.Task, mode crawler.FetchMode) string {
	switch task.Origin {
	case crawler.OriginTopic:
		return s.TopicURL(task.Topic, task.Page, mode)
	case crawler.OriginAuthor:
		return s.AuthorURL(task.Author, task.Page, mode)
	default:
		return task.URL
	}
}

// paginate appends the page marker: omitted on page 1, a pg query parameter in
// API mode, and an _N path suffix otherwise.
func paginate(base string, page int, mode crawler.FetchMode) string {
	if page <= 1 {
		return base
	}
	if mode == crawler.ModeAPI {
		return base + "?pg=" + strconv.Itoa(page)
	}
	return base + "_" + strconv.Itoa(page)
}
