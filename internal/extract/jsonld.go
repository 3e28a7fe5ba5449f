package extract

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// Limits bound structured-data scanning on pathological pages.
type Limits struct {
	MaxBlocks     int
	MaxBlockBytes int
	MaxEntries    int
	MaxCandidates int
	MaxDepth      int
}

// DefaultLimits returns the standard scanning bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxBlocks:     10,
		MaxBlockBytes: 100 * 1024,
		MaxEntries:    1000,
		MaxCandidates: 50,
		MaxDepth:      10,
	}
}

// ScanStats reports how much of the page was scanned.
type ScanStats struct {
	Blocks        int
	SkippedBlocks int
	Entries       int
	Truncated     bool
}

// Meta is the structured description of the page itself.
type Meta struct {
	Headline      string
	Author        string
	ArticleBody   string
	Image         string
	URL           string
	DatePublished *time.Time
	Keywords      []string
}

var articleTypes = map[string]struct{}{
	"Article":                  {},
	"NewsArticle":              {},
	"ReportageNewsArticle":     {},
	"AnalysisNewsArticle":      {},
	"OpinionNewsArticle":       {},
	"BackgroundNewsArticle":    {},
	"ReviewNewsArticle":        {},
	"BlogPosting":              {},
	"LiveBlogPosting":          {},
	"Report":                   {},
	"ScholarlyArticle":         {},
	"SocialMediaPosting":       {},
	"TechArticle":              {},
	"SatiricalArticle":         {},
	"AdvertiserContentArticle": {},
}

// containerKeys are descended into when looking for nested entries.
var containerKeys = []string{"@graph", "itemListElement", "mainEntity", "hasPart", "item"}

type scanner struct {
	limits  Limits
	base    *url.URL
	pageKey string
	stats   ScanStats
	meta    Meta
	hasMeta bool
	cands   []crawler.ArticleCandidate
	seen    map[string]struct{}
}

// ScanStructuredData reads JSON-LD blocks from doc. It returns metadata for
// the page itself, plus candidates for other article URLs referenced by the
// page. Scanning stops quietly at any limit; what was collected is returned.
func ScanStructuredData(doc *goquery.Document, pageURL string, limits Limits) (Meta, []crawler.ArticleCandidate, ScanStats) {
	s := &scanner{limits: limits, seen: make(map[string]struct{})}
	if base, err := url.Parse(pageURL); err == nil {
		s.base = base
	}
	s.pageKey, _ = crawler.NormalizeURL(pageURL)

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if s.stats.Blocks >= limits.MaxBlocks {
			s.stats.Truncated = true
			return false
		}
		s.stats.Blocks++
		raw := strings.TrimSpace(sel.Text())
		if len(raw) > limits.MaxBlockBytes {
			s.stats.SkippedBlocks++
			return true
		}
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "<!--"), "-->")
		var value any
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &value); err != nil {
			s.stats.SkippedBlocks++
			return true
		}
		s.walk(value, 0)
		return !s.full()
	})
	return s.meta, s.cands, s.stats
}

func (s *scanner) full() bool {
	if s.stats.Entries >= s.limits.MaxEntries || len(s.cands) >= s.limits.MaxCandidates {
		s.stats.Truncated = true
		return true
	}
	return false
}

func (s *scanner) walk(v any, depth int) {
	if depth > s.limits.MaxDepth || s.full() {
		return
	}
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			if s.full() {
				return
			}
			s.walk(item, depth+1)
		}
	case map[string]any:
		s.stats.Entries++
		types := typesOf(node["@type"])
		switch {
		case hasArticleType(types):
			s.article(node)
		case hasType(types, "ListItem"):
			s.listItem(node)
		}
		for _, key := range containerKeys {
			if child, ok := node[key]; ok {
				if _, isString := child.(string); isString {
					continue
				}
				s.walk(child, depth+1)
			}
		}
	}
}

// article records node as page metadata when it describes the page, and as a
// candidate otherwise.
func (s *scanner) article(node map[string]any) {
	target := nodeURL(node)
	if target == "" || s.isPage(target) {
		if !s.hasMeta {
			s.meta = metaFrom(node)
			s.hasMeta = true
		}
		return
	}
	s.add(target, node)
}

func (s *scanner) listItem(node map[string]any) {
	if target := stringOf(node["url"]); target != "" {
		s.add(target, node)
		return
	}
	switch item := node["item"].(type) {
	case string:
		s.add(item, node)
	case map[string]any:
		if target := nodeURL(item); target != "" && !hasArticleType(typesOf(item["@type"])) {
			s.add(target, item)
		}
	}
}

func (s *scanner) isPage(target string) bool {
	key, err := crawler.NormalizeURL(s.resolve(target))
	return err == nil && key == s.pageKey
}

func (s *scanner) resolve(target string) string {
	if s.base == nil {
		return target
	}
	return crawler.ResolveReference(s.base, target)
}

func (s *scanner) add(target string, node map[string]any) {
	if len(s.cands) >= s.limits.MaxCandidates {
		return
	}
	cand, err := crawler.NewArticleCandidate(s.resolve(target))
	if err != nil {
		return
	}
	key, err := crawler.NormalizeURL(cand.URL)
	if err != nil {
		return
	}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	meta := metaFrom(node)
	cand.Headline = meta.Headline
	cand.DatePublished = meta.DatePublished
	cand.Image = meta.Image
	cand.SetKeywords(meta.Keywords)
	s.cands = append(s.cands, cand.CapSize(crawler.CandidateSizeLimit))
}

func metaFrom(node map[string]any) Meta {
	m := Meta{
		Headline:    firstNonEmpty(stringOf(node["headline"]), stringOf(node["name"])),
		Author:      authorOf(node["author"]),
		ArticleBody: stringOf(node["articleBody"]),
		Image:       imageOf(node["image"]),
		URL:         nodeURL(node),
		Keywords:    keywordsOf(node["keywords"]),
	}
	if ts, ok := ParseDate(stringOf(node["datePublished"])); ok {
		m.DatePublished = &ts
	} else if ts, ok := ParseDate(stringOf(node["dateCreated"])); ok {
		m.DatePublished = &ts
	}
	return m
}

func nodeURL(node map[string]any) string {
	if u := stringOf(node["url"]); u != "" {
		return u
	}
	switch main := node["mainEntityOfPage"].(type) {
	case string:
		return main
	case map[string]any:
		if id := firstNonEmpty(stringOf(main["@id"]), stringOf(main["url"])); id != "" {
			return id
		}
	}
	if id := stringOf(node["@id"]); strings.HasPrefix(id, "http") && !strings.Contains(id, "#") {
		return id
	}
	return ""
}

func typesOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if strings.TrimPrefix(t, "schema:") == want {
			return true
		}
	}
	return false
}

func hasArticleType(types []string) bool {
	for _, t := range types {
		if _, ok := articleTypes[strings.TrimPrefix(t, "schema:")]; ok {
			return true
		}
	}
	return false
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			return stringOf(t[0])
		}
	}
	return ""
}

func authorOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return stringOf(t["name"])
	case []any:
		names := make([]string, 0, len(t))
		for _, item := range t {
			if name := authorOf(item); name != "" {
				names = append(names, name)
			}
		}
		return strings.Join(names, ", ")
	}
	return ""
}

func imageOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return firstNonEmpty(stringOf(t["url"]), stringOf(t["contentUrl"]))
	case []any:
		if len(t) > 0 {
			return imageOf(t[0])
		}
	}
	return ""
}

func keywordsOf(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
