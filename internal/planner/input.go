package planner

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

// ParseTopics accepts a single topic string or a list of topic strings, as
// decoded from config files, env vars, or flags.
func ParseTopics(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &crawler.PlanningError{
					Field:  fmt.Sprintf("topic[%d]", i),
					Reason: fmt.Sprintf("expected string, got %T", item),
				}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &crawler.PlanningError{Field: "topic", Reason: fmt.Sprintf("expected string or list, got %T", raw)}
	}
}

// ParseStartURLs accepts a list whose entries are URL strings or objects with a
// "url" key. Blank entries and objects without a url are dropped.
func ParseStartURLs(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			u, err := startURLEntry(item)
			if err != nil {
				return nil, &crawler.PlanningError{Field: fmt.Sprintf("startUrls[%d]", i), Reason: err.Error()}
			}
			if u != "" {
				out = append(out, u)
			}
		}
		return out, nil
	default:
		return nil, &crawler.PlanningError{Field: "startUrls", Reason: fmt.Sprintf("expected list, got %T", raw)}
	}
}

func startURLEntry(item any) (string, error) {
	switch e := item.(type) {
	case nil:
		return "", nil
	case string:
		return e, nil
	case map[string]any:
		return urlField(e["url"])
	case map[any]any:
		return urlField(e["url"])
	default:
		return "", fmt.Errorf("expected string or {url}, got %T", item)
	}
}

func urlField(v any) (string, error) {
	switch u := v.(type) {
	case nil:
		return "", nil
	case string:
		return u, nil
	default:
		return "", fmt.Errorf("url must be a string, got %T", v)
	}
}
