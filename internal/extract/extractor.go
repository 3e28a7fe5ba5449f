// Package extract turns one fetched HTML document into a normalized article:
// title, author, publication date, body text and a quality score.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// Extraction methods recorded on results.
const (
	MethodStructured = "structured_data"
	MethodSelector   = "selector"
	MethodParagraphs = "paragraphs"
)

// Options carry per-call overrides.
type Options struct {
	ContentType    string
	BodySelectors  []string
	NoiseSelectors []string
}

// Result is one extracted document.
type Result struct {
	Title        string
	Body         string
	Author       string
	PublishedAt  *time.Time
	CanonicalURL string
	ImageURL     string
	WordCount    int
	QualityScore int
	Method       string
	Selector     string
}

// Extractor applies a pattern table to documents. It is safe for concurrent
// use.
type Extractor struct {
	patterns Patterns
	limits   Limits
	logger   *zap.Logger
}

// New returns an Extractor. A zero Patterns value selects DefaultPatterns.
func New(patterns Patterns, logger *zap.Logger) *Extractor {
	if len(patterns.BodySelectors) == 0 {
		patterns = DefaultPatterns()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{patterns: patterns, limits: DefaultLimits(), logger: logger}
}

// Patterns returns the extractor's pattern table.
func (e *Extractor) Patterns() Patterns { return e.patterns }

type bodyCandidate struct {
	text       string
	paragraphs int
	method     string
	selector   string
	score      int
}

// Extract parses body as HTML served from pageURL.
func (e *Extractor) Extract(body []byte, pageURL string, opts Options) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(ToUTF8(body, opts.ContentType)))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	return e.ExtractDocument(doc, pageURL, opts), nil
}

// ExtractDocument extracts from an already parsed document. The document is
// modified.
func (e *Extractor) ExtractDocument(doc *goquery.Document, pageURL string, opts Options) Result {
	pats := e.patterns.WithOverrides(opts.BodySelectors, opts.NoiseSelectors)

	meta, _, _ := ScanStructuredData(doc, pageURL, e.limits)
	res := Result{
		CanonicalURL: canonicalURL(doc, pageURL),
		ImageURL:     firstNonEmpty(meta.Image, metaContent(doc, "og:image")),
		Author:       firstNonEmpty(meta.Author, authorFromMeta(doc)),
		PublishedAt:  meta.DatePublished,
	}
	if res.PublishedAt == nil {
		res.PublishedAt = dateFromMeta(doc)
	}
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(strings.Join(pats.StripSelectors, ",")).Remove()
	removeComments(doc.Nodes)

	if res.Author == "" {
		res.Author = textFromSelectors(doc, pats.AuthorSelectors, 100)
	}
	if res.PublishedAt == nil {
		res.PublishedAt = dateFromSelectors(doc, pats.DateSelectors)
	}
	headline := firstNonEmpty(meta.Headline, textFromSelectors(doc, pats.TitleSelectors, 300))

	for _, sel := range pats.NoiseSelectors {
		doc.Find(sel).Remove()
	}

	sig := ScoreInput{HasTitle: headline != "" || pageTitle != "", HasAuthor: res.Author != "", HasDate: res.PublishedAt != nil}
	var best bodyCandidate
	consider := func(c bodyCandidate) {
		in := sig
		in.WordCount = CountWords(c.text)
		in.CharCount = len([]rune(c.text))
		in.Paragraphs = c.paragraphs
		c.score = Score(in)
		if c.text != "" && c.score > best.score {
			best = c
		}
	}

	if meta.ArticleBody != "" {
		text := normalizeBlocks(meta.ArticleBody)
		consider(bodyCandidate{text: text, paragraphs: CountParagraphs(text), method: MethodStructured})
	}
	for _, sel := range pats.BodySelectors {
		if best.score >= pats.GoodScore {
			break
		}
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text, paragraphs := blockText(node, pats)
		consider(bodyCandidate{text: text, paragraphs: paragraphs, method: MethodSelector, selector: sel})
	}
	if best.score < pats.GoodScore {
		text, paragraphs := aggregateParagraphs(doc.Selection, pats)
		consider(bodyCandidate{text: text, paragraphs: paragraphs, method: MethodParagraphs})
	}

	res.Title = headline
	if res.Title == "" {
		res.Title = firstNonEmpty(metaContent(doc, "og:title"), CleanTitle(pageTitle))
	}
	res.Body = best.text
	res.Method = best.method
	res.Selector = best.selector
	res.WordCount = CountWords(res.Body)
	res.QualityScore = ScoreArticle(e.ToArticle(res, pageURL))
	e.logger.Debug("extracted",
		zap.String("url", pageURL),
		zap.String("method", res.Method),
		zap.String("selector", res.Selector),
		zap.Int("words", res.WordCount),
		zap.Int("score", res.QualityScore))
	return res
}

// ToArticle converts a result into a pending ArticleData.
func (e *Extractor) ToArticle(res Result, pageURL string) crawler.ArticleData {
	a := crawler.ArticleData{
		Title:               res.Title,
		Body:                res.Body,
		Author:              res.Author,
		PublishedAt:         res.PublishedAt,
		SourceURL:           pageURL,
		CanonicalURL:        res.CanonicalURL,
		ImageURL:            res.ImageURL,
		WordCount:           res.WordCount,
		ContentQualityScore: res.QualityScore,
		ProcessingStatus:    crawler.StatusPending,
	}
	if res.Method != "" {
		a.SetMeta("extraction_method", res.Method)
	}
	return a
}

var titleSuffix = regexp.MustCompile(`\s+[-|–—]\s+`)

// CleanTitle strips a trailing site name from a document title at the first
// dash, pipe or en-dash separator.
func CleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if loc := titleSuffix.FindStringIndex(title); loc != nil && loc[0] > 0 {
		return strings.TrimSpace(title[:loc[0]])
	}
	return title
}

func blockText(sel *goquery.Selection, pats Patterns) (string, int) {
	if sel.Find("p").Length() > 0 {
		return aggregateParagraphs(sel, pats)
	}
	text := normalizeBlocks(sel.Text())
	return text, CountParagraphs(text)
}

// aggregateParagraphs joins <p> blocks, dropping short and boilerplate ones.
// When enough long paragraphs exist, shorter ones are dropped as well.
func aggregateParagraphs(scope *goquery.Selection, pats Patterns) (string, int) {
	var kept []string
	long := 0
	scope.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.Join(strings.Fields(p.Text()), " ")
		n := len([]rune(text))
		if n < pats.MinParagraphChars || isBoilerplate(text, pats) {
			return
		}
		if n >= pats.PreferredParagraphChars {
			long++
		}
		kept = append(kept, text)
	})
	if long >= 3 {
		filtered := kept[:0]
		for _, text := range kept {
			if len([]rune(text)) >= pats.PreferredParagraphChars {
				filtered = append(filtered, text)
			}
		}
		kept = filtered
	}
	return strings.Join(kept, "\n\n"), len(kept)
}

func isBoilerplate(text string, pats Patterns) bool {
	if len(text) > pats.BoilerplateMaxChars {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range pats.BoilerplatePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// normalizeBlocks collapses whitespace inside lines and joins non-empty lines
// as paragraphs.
func normalizeBlocks(text string) string {
	var blocks []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			blocks = append(blocks, line)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func removeComments(nodes []*html.Node) {
	for _, n := range nodes {
		var next *html.Node
		for c := n.FirstChild; c != nil; c = next {
			next = c.NextSibling
			if c.Type == html.CommentNode {
				n.RemoveChild(c)
				continue
			}
			removeComments([]*html.Node{c})
		}
	}
}

func metaContent(doc *goquery.Document, key string) string {
	sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)
	content, _ := doc.Find(sel).First().Attr("content")
	return strings.TrimSpace(content)
}

func canonicalURL(doc *goquery.Document, pageURL string) string {
	href, _ := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if href = strings.TrimSpace(href); href == "" {
		href = metaContent(doc, "og:url")
	}
	if href == "" {
		return ""
	}
	if doc.Url != nil {
		href = crawler.ResolveReference(doc.Url, href)
	} else if base, err := crawler.ValidatePublicURL(pageURL); err == nil {
		href = crawler.ResolveReference(base, href)
	}
	// Markup is untrusted; a canonical pointing at a private host is dropped.
	if _, err := crawler.ValidatePublicURL(href); err != nil {
		return ""
	}
	return href
}

func authorFromMeta(doc *goquery.Document) string {
	for _, key := range []string{"author", "article:author", "parsely-author", "sailthru.author", "dc.creator"} {
		if v := metaContent(doc, key); v != "" && !strings.HasPrefix(v, "http") {
			return v
		}
	}
	return ""
}

var dateMetaKeys = []string{
	"article:published_time", "og:published_time", "datePublished", "pubdate", "publishdate",
	"parsely-pub-date", "sailthru.date", "dc.date", "dcterms.created", "date",
}

func dateFromMeta(doc *goquery.Document) *time.Time {
	for _, key := range dateMetaKeys {
		if ts, ok := ParseDate(metaContent(doc, key)); ok {
			return &ts
		}
	}
	return nil
}

func dateFromSelectors(doc *goquery.Document, selectors []string) *time.Time {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		for _, attr := range []string{"datetime", "content"} {
			if v, ok := node.Attr(attr); ok {
				if ts, ok := ParseDate(v); ok {
					return &ts
				}
			}
		}
		if ts, ok := ParseDate(node.Text()); ok {
			return &ts
		}
	}
	return nil
}

func textFromSelectors(doc *goquery.Document, selectors []string, maxRunes int) string {
	for _, sel := range selectors {
		text := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " ")
		text = strings.TrimPrefix(text, "By ")
		text = strings.TrimPrefix(text, "by ")
		if text != "" && len([]rune(text)) <= maxRunes {
			return text
		}
	}
	return ""
}
