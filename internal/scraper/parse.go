package scraper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bioterminal/content-scraper/internal/dedup"
)

// Extraction strategies, in priority order.
const (
	strategyJSONLD    = "json-ld"
	strategyOpenGraph = "opengraph"
	strategyMicrodata = "microdata"
	strategyHTML      = "html"
)

var articleJSONLDTypes = map[string]bool{
	"Article":     true,
	"NewsArticle": true,
	"BlogPosting": true,
	"WebPage":     true,
}

// dateLayouts covers the formats sources actually emit. RFC3339 first;
// the rest are legacy feed and CMS formats seen in the wild.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// ParseDate parses a timestamp in any of the supported layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

func parseDatePtr(s string) *time.Time {
	t, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

// ParseHTML extracts structured article fields from a document, trying
// JSON-LD, then OpenGraph meta tags, then schema.org microdata, then
// plain title/meta elements. Fields found by a higher-priority strategy
// are never overwritten by a lower one.
func ParseHTML(html, pageURL string) (*ParsedFields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html for %s: %w", pageURL, err)
	}

	parsed := &ParsedFields{URL: pageURL}

	if extractJSONLD(doc, parsed) {
		parsed.Strategy = strategyJSONLD
	}
	if extractOpenGraph(doc, parsed) && parsed.Strategy == "" {
		parsed.Strategy = strategyOpenGraph
	}
	if extractMicrodata(doc, parsed) && parsed.Strategy == "" {
		parsed.Strategy = strategyMicrodata
	}
	extractFallback(doc, parsed)
	if parsed.Strategy == "" {
		parsed.Strategy = strategyHTML
	}

	if parsed.Content == "" {
		parsed.Content = dedup.ExtractText(html)
	}

	if parsed.Title == "" {
		return nil, fmt.Errorf("no title found for %s", pageURL)
	}
	return parsed, nil
}

type jsonLDDoc struct {
	Type          any               `json:"@type"`
	Headline      string            `json:"headline"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	DatePublished string            `json:"datePublished"`
	DateModified  string            `json:"dateModified"`
	ArticleBody   string            `json:"articleBody"`
	Author        any               `json:"author"`
	Image         any               `json:"image"`
	Graph         []json.RawMessage `json:"@graph"`
}

func extractJSONLD(doc *goquery.Document, parsed *ParsedFields) bool {
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		for _, candidate := range expandJSONLD(raw) {
			if applyJSONLD(candidate, parsed) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// expandJSONLD flattens a raw JSON-LD payload into candidate documents:
// a single object, a top-level array, or an @graph container.
func expandJSONLD(raw string) []jsonLDDoc {
	var one jsonLDDoc
	if err := json.Unmarshal([]byte(raw), &one); err == nil {
		if len(one.Graph) > 0 {
			var out []jsonLDDoc
			for _, node := range one.Graph {
				var d jsonLDDoc
				if json.Unmarshal(node, &d) == nil {
					out = append(out, d)
				}
			}
			return out
		}
		return []jsonLDDoc{one}
	}
	var many []jsonLDDoc
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		return many
	}
	return nil
}

func applyJSONLD(d jsonLDDoc, parsed *ParsedFields) bool {
	if !isArticleType(d.Type) {
		return false
	}
	title := d.Headline
	if title == "" {
		title = d.Name
	}
	if title == "" {
		return false
	}

	parsed.Title = title
	parsed.Description = d.Description
	parsed.Author = jsonLDName(d.Author)
	parsed.Image = jsonLDImage(d.Image)
	parsed.PublishedAt = parseDatePtr(d.DatePublished)
	parsed.ModifiedAt = parseDatePtr(d.DateModified)
	if d.ArticleBody != "" {
		parsed.Content = collapseSpace(d.ArticleBody)
	}
	return true
}

func isArticleType(t any) bool {
	switch v := t.(type) {
	case string:
		return articleJSONLDTypes[v]
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && articleJSONLDTypes[s] {
				return true
			}
		}
	}
	return false
}

// jsonLDName handles the three author shapes seen in feeds: a bare
// string, a Person object, or an array of either.
func jsonLDName(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case map[string]any:
		if name, ok := a["name"].(string); ok {
			return name
		}
	case []any:
		for _, item := range a {
			if name := jsonLDName(item); name != "" {
				return name
			}
		}
	}
	return ""
}

func jsonLDImage(v any) string {
	switch img := v.(type) {
	case string:
		return img
	case map[string]any:
		if u, ok := img["url"].(string); ok {
			return u
		}
	case []any:
		for _, item := range img {
			if u := jsonLDImage(item); u != "" {
				return u
			}
		}
	}
	return ""
}

func extractOpenGraph(doc *goquery.Document, parsed *ParsedFields) bool {
	og := func(prop string) string {
		val, _ := doc.Find(`meta[property="` + prop + `"]`).First().Attr("content")
		return strings.TrimSpace(val)
	}

	title := og("og:title")
	if title == "" {
		return false
	}
	if parsed.Title == "" {
		parsed.Title = title
	}
	if parsed.Description == "" {
		parsed.Description = og("og:description")
	}
	if parsed.Image == "" {
		parsed.Image = og("og:image")
	}
	if parsed.PublishedAt == nil {
		parsed.PublishedAt = parseDatePtr(og("article:published_time"))
	}
	if parsed.ModifiedAt == nil {
		parsed.ModifiedAt = parseDatePtr(og("article:modified_time"))
	}
	if parsed.Author == "" {
		parsed.Author = og("article:author")
	}
	return true
}

func extractMicrodata(doc *goquery.Document, parsed *ParsedFields) bool {
	scope := doc.Find(`[itemscope][itemtype*="schema.org"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		itemType, _ := s.Attr("itemtype")
		for t := range articleJSONLDTypes {
			if strings.HasSuffix(itemType, "/"+t) {
				return true
			}
		}
		return false
	}).First()
	if scope.Length() == 0 {
		return false
	}

	prop := func(name string) string {
		sel := scope.Find(`[itemprop="` + name + `"]`).First()
		if sel.Length() == 0 {
			return ""
		}
		for _, attr := range []string{"content", "datetime"} {
			if val, ok := sel.Attr(attr); ok && val != "" {
				return strings.TrimSpace(val)
			}
		}
		return strings.TrimSpace(sel.Text())
	}

	title := prop("headline")
	if title == "" {
		title = prop("name")
	}
	if title == "" {
		return false
	}
	if parsed.Title == "" {
		parsed.Title = title
	}
	if parsed.Description == "" {
		parsed.Description = prop("description")
	}
	if parsed.Author == "" {
		parsed.Author = prop("author")
	}
	if parsed.PublishedAt == nil {
		parsed.PublishedAt = parseDatePtr(prop("datePublished"))
	}
	return true
}

func extractFallback(doc *goquery.Document, parsed *ParsedFields) {
	if parsed.Title == "" {
		parsed.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if parsed.Title == "" {
		parsed.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if parsed.Description == "" {
		desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
		parsed.Description = strings.TrimSpace(desc)
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
