// Package parser extracts quote records from listing markup with goquery.
package parser

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

const (
	quoteSelector     = "a.b-qt"
	authorSelector    = "a.bq-aut"
	containerSelector = ".grid-item, .m-brick, article"
	tagSelector       = `a[href*="/topics/"]`

	// Language is stamped on every record; the target site only serves English.
	Language = "en"
)

// QuoteParser implements crawler.PageParser for the quote listing layout.
type QuoteParser struct{}

var _ crawler.PageParser = (*QuoteParser)(nil)

// New returns a QuoteParser.
func New() *QuoteParser {
	return &QuoteParser{}
}

// Parse returns the quotes on the page in document order. Anchors with blank
// text are skipped and do not consume a position. Unparseable markup yields nil.
func (p *QuoteParser) Parse(markup []byte, pc crawler.PageContext) []crawler.Record {
	if len(bytes.TrimSpace(markup)) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pc.SourceURL)
	if err != nil || !base.IsAbs() {
		base = nil
	}

	var records []crawler.Record
	doc.Find(quoteSelector).Each(func(_ int, quoteEl *goquery.Selection) {
		text := collapse(quoteEl.Text())
		if text == "" {
			return
		}
		authorEl := quoteEl.Parent().Find(authorSelector).First()
		if authorEl.Length() == 0 {
			authorEl = quoteEl.Next()
		}
		var author, authorURL string
		if authorEl.Length() > 0 {
			author = collapse(authorEl.Text())
			authorURL = resolve(base, authorEl.AttrOr("href", ""))
		}

		records = append(records, crawler.Record{
			Quote:      text,
			Author:     author,
			AuthorURL:  authorURL,
			Topic:      pc.Topic,
			Tags:       tags(quoteEl, pc.Topic),
			QuoteURL:   resolve(base, quoteEl.AttrOr("href", "")),
			Page:       pc.Page,
			Position:   len(records) + 1,
			SourceMode: pc.Mode,
			SourceURL:  pc.SourceURL,
			Language:   Language,
		})
	})
	return records
}

// tags collects topic links from the quote's card, falling back to the page topic.
func tags(quoteEl *goquery.Selection, topic string) []string {
	var out []string
	seen := make(map[string]struct{})
	quoteEl.Closest(containerSelector).Find(tagSelector).Each(func(_ int, a *goquery.Selection) {
		tag := collapse(a.Text())
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	})
	if len(out) == 0 && topic != "" {
		return []string{topic}
	}
	if out == nil {
		return []string{}
	}
	return out
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return base.ResolveReference(ref).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
