package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
	"github.com/JakeFAU/newsharvest/internal/resilient"
)

// toolkit is shared by the built-in strategies.
type toolkit struct {
	fetcher   PageFetcher
	extractor *extract.Extractor
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// fetchPage fetches an HTML page for the source with the full retry policy.
func (tk *toolkit) fetchPage(ctx context.Context, t *Target, rawURL string) (resilient.Result, error) {
	return tk.fetcher.FetchResilient(ctx, rawURL, tk.cfg.Retry, t.FetchOptions)
}

// fetchRaw fetches a non-HTML resource (feed, sitemap, robots.txt, JSON)
// once, without alternate routes or content validation.
func (tk *toolkit) fetchRaw(ctx context.Context, t *Target, rawURL string) (resilient.Result, error) {
	opts := t.FetchOptions
	opts.AllowAlternateRoutes = false
	opts.Routes = nil
	opts.SkipContentCheck = true
	return tk.fetcher.FetchResilient(ctx, rawURL, tk.cfg.Retry.Restricted(), opts)
}

// document parses a fetched page.
func (tk *toolkit) document(res resilient.Result) (*goquery.Document, error) {
	body := extract.ToUTF8(res.Body, res.Headers.Get("Content-Type"))
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", res.URL, err)
	}
	return doc, nil
}

// extractArticle fetches and extracts one candidate. Candidate hints fill
// fields the page itself lacks.
func (tk *toolkit) extractArticle(ctx context.Context, t *Target, c crawler.ArticleCandidate) (crawler.ArticleData, error) {
	res, err := tk.fetchPage(ctx, t, c.URL)
	if err != nil {
		return crawler.ArticleData{}, fmt.Errorf("fetch %s: %w", c.URL, err)
	}
	out, err := tk.extractor.Extract(res.Body, res.URL, extract.Options{
		ContentType:    res.Headers.Get("Content-Type"),
		BodySelectors:  t.Profile.BodySelectors,
		NoiseSelectors: t.Profile.NoiseSelectors,
	})
	if err != nil {
		return crawler.ArticleData{}, fmt.Errorf("extract %s: %w", c.URL, err)
	}
	article := tk.extractor.ToArticle(out, c.URL)
	if article.Title == "" {
		article.Title = c.Headline
	}
	if article.PublishedAt == nil && c.DatePublished != nil {
		published := c.DatePublished.UTC()
		article.PublishedAt = &published
	}
	if article.ImageURL == "" {
		article.ImageURL = c.Image
	}
	if res.Route != "" {
		article.SetMeta("fetch_route", res.Route)
	}
	if res.Partial {
		article.SetMeta("partial", "true")
	}
	return article, nil
}

// extractAll extracts candidates in order until the per-source cap is hit.
// Individual failures become error strings.
func (tk *toolkit) extractAll(ctx context.Context, t *Target, candidates []crawler.ArticleCandidate) ([]crawler.ArticleData, []string) {
	var (
		articles []crawler.ArticleData
		errs     []string
	)
	for _, c := range candidates {
		if len(articles) >= tk.cfg.MaxArticlesPerSource || ctx.Err() != nil {
			break
		}
		article, err := tk.extractArticle(ctx, t, c)
		if err != nil {
			tk.logger.Debug("candidate extraction failed", zap.String("url", c.URL), zap.Error(err))
			errs = append(errs, err.Error())
			continue
		}
		articles = append(articles, article)
	}
	return articles, errs
}

// candidate validates rawURL unless private hosts are allowed.
func (tk *toolkit) candidate(rawURL string) (crawler.ArticleCandidate, bool) {
	if tk.cfg.AllowPrivateHosts {
		if u, err := url.Parse(rawURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			return crawler.ArticleCandidate{URL: u.String()}, true
		}
		return crawler.ArticleCandidate{}, false
	}
	c, err := crawler.NewArticleCandidate(rawURL)
	return c, err == nil
}

// resolve joins a path such as "/feed" onto the source origin.
func resolve(origin, ref string) string {
	base, err := url.Parse(origin + "/")
	if err != nil {
		return ""
	}
	return crawler.ResolveReference(base, ref)
}

// sameSite reports whether two URLs share a registrable domain.
func sameSite(a, b string) bool {
	ha, hb := crawler.HostOf(a), crawler.HostOf(b)
	return ha != "" && crawler.RegistrableDomain(ha) == crawler.RegistrableDomain(hb)
}

var fileExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".pdf": {}, ".xml": {},
	".rss": {}, ".css": {}, ".js": {}, ".zip": {}, ".mp3": {}, ".mp4": {}, ".json": {},
}

var (
	numericID   = regexp.MustCompile(`\d{4,}`)
	datedPath   = regexp.MustCompile(`/20\d{2}/\d{1,2}/`)
	sluggedPart = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+){2,}`)
)

// plausibleArticle reports whether rawURL looks like an article page rather
// than a section, tag or utility page.
func (tk *toolkit) plausibleArticle(rawURL string, p articlePatterns) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	clean := strings.Trim(strings.ToLower(u.Path), "/")
	if clean == "" {
		return false
	}
	if _, bad := fileExtensions[path.Ext(clean)]; bad {
		return false
	}
	for _, re := range p.category {
		if re.MatchString(u.Path) {
			return false
		}
	}
	if len(p.article) > 0 {
		for _, re := range p.article {
			if re.MatchString(u.Path) {
				return true
			}
		}
		return false
	}
	segments := strings.Split(clean, "/")
	for _, seg := range segments {
		for _, excluded := range tk.cfg.ExcludedSegments {
			if seg == excluded {
				return false
			}
		}
	}
	last := segments[len(segments)-1]
	return datedPath.MatchString(u.Path) || numericID.MatchString(last) || sluggedPart.MatchString(last)
}

// articlePatterns are the compiled profile URL patterns.
type articlePatterns struct {
	article  []*regexp.Regexp
	category []*regexp.Regexp
}

func compilePatterns(t *Target) articlePatterns {
	return articlePatterns{
		article:  compileAll(t.Profile.ArticlePatterns),
		category: compileAll(t.Profile.CategoryPatterns),
	}
}

// compileAll compiles patterns, quoting any that are not valid expressions.
func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			re = regexp.MustCompile(regexp.QuoteMeta(p))
		}
		out = append(out, re)
	}
	return out
}

// dedupe drops candidates whose normalized URL repeats or equals the page.
func dedupe(pageURL string, in []crawler.ArticleCandidate) []crawler.ArticleCandidate {
	seen := make(map[string]struct{}, len(in))
	if key, err := crawler.NormalizeURL(pageURL); err == nil {
		seen[key] = struct{}{}
	}
	out := in[:0]
	for _, c := range in {
		key, err := crawler.NormalizeURL(c.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// htmlText flattens an HTML fragment to paragraph text.
func htmlText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	var blocks []string
	doc.Find("p, li, h2, h3, blockquote").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(blocks, "\n\n")
}
