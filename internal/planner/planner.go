// Package planner expands crawl input into the ordered list of page tasks the
// orchestrator consumes. Planning is pure: no network access and no parsing.
package planner

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/site"
)

// MaxPagesLimit caps Input.MaxPages. Tasks are built up front, so an unbounded
// page count would allocate without limit.
const MaxPagesLimit = 1000

// Input is the normalized crawl request.
type Input struct {
	Topics    []string
	Author    string
	StartURLs []string
	MaxPages  int
}

// Planner turns Input into Tasks for one site.
type Planner struct {
	site site.Site
}

// New creates a Planner bound to s.
func New(s site.Site) *Planner {
	return &Planner{site: s}
}

// Plan emits, in order: pages 1..MaxPages for every topic, then pages
// 1..MaxPages for the author (if any), then one page-1 task per start URL.
// Author tasks use the normalized author as their topic.
// Task URLs use the markup pagination form; the orchestrator rebuilds the URL
// for the fetch mode it picks.
func (p *Planner) Plan(in Input) ([]crawler.Task, error) {
	maxPages := min(max(in.MaxPages, 1), MaxPagesLimit)

	startURLs, err := validateStartURLs(in.StartURLs)
	if err != nil {
		return nil, err
	}

	topics := normalizeTopics(in.Topics)
	author := site.NormalizeAuthor(in.Author)

	tasks := make([]crawler.Task, 0, len(topics)*maxPages+maxPages+len(startURLs))
	for _, topic := range topics {
		for page := 1; page <= maxPages; page++ {
			tasks = append(tasks, crawler.Task{
				URL:    p.site.TopicURL(topic, page, crawler.ModeHTML),
				Topic:  topic,
				Page:   page,
				Origin: crawler.OriginTopic,
			})
		}
	}
	if author != "" {
		for page := 1; page <= maxPages; page++ {
			tasks = append(tasks, crawler.Task{
				URL:    p.site.AuthorURL(author, page, crawler.ModeHTML),
				Topic:  author,
				Author: author,
				Page:   page,
				Origin: crawler.OriginAuthor,
			})
		}
	}
	for _, raw := range startURLs {
		tasks = append(tasks, crawler.Task{
			URL:    raw,
			Page:   1,
			Origin: crawler.OriginStartURL,
		})
	}
	return tasks, nil
}

func normalizeTopics(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if strings.TrimSpace(t) == "" {
			continue
		}
		topic := site.NormalizeTopic(t)
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	if len(out) == 0 {
		return []string{site.DefaultTopic}
	}
	return out
}

func validateStartURLs(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		parsed, err := url.Parse(r)
		if err != nil {
			return nil, &crawler.PlanningError{
				Field:  fmt.Sprintf("startUrls[%d]", i),
				Reason: err.Error(),
			}
		}
		if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, &crawler.PlanningError{
				Field:  fmt.Sprintf("startUrls[%d]", i),
				Reason: fmt.Sprintf("%q is not an absolute http(s) URL", r),
			}
		}
		out = append(out, parsed.String())
	}
	return out, nil
}
