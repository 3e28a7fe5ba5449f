package discovery

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
)

// sitemapStrategy walks sitemap indexes breadth first and extracts recent
// article URLs.
type sitemapStrategy struct {
	*toolkit
	robots *robotsCache
}

func newSitemapStrategy(tk *toolkit) *sitemapStrategy {
	return &sitemapStrategy{toolkit: tk, robots: &robotsCache{tk: tk}}
}

func (s *sitemapStrategy) Name() string { return crawler.StrategySitemap }

func (s *sitemapStrategy) Discover(ctx context.Context, t *Target) Outcome {
	candidates, errs := s.Collect(ctx, t)
	if len(candidates) == 0 {
		if len(errs) == 0 {
			errs = []string{"no recent article URLs in sitemaps"}
		}
		return Outcome{Errors: errs}
	}
	out := Outcome{Found: len(candidates)}
	out.Articles, out.Errors = s.extractAll(ctx, t, candidates)
	return out
}

// Collect gathers recent, plausible article URLs from the source's sitemaps,
// newest first.
func (s *sitemapStrategy) Collect(ctx context.Context, t *Target) ([]crawler.ArticleCandidate, []string) {
	cutoff := s.now().Add(-s.cfg.SitemapMaxAge)
	patterns := compilePatterns(t)

	// The cap bounds pending entries. Seeds fill at most half of it.
	queue := make([]string, 0, s.cfg.SitemapMaxQueued)
	queued := make(map[string]struct{})
	enqueue := func(u string, limit int) {
		if u == "" || len(queue) >= limit {
			return
		}
		if _, dup := queued[u]; dup {
			return
		}
		queued[u] = struct{}{}
		queue = append(queue, u)
	}
	seedLimit := (s.cfg.SitemapMaxQueued + 1) / 2
	for _, u := range s.robots.sitemaps(ctx, t) {
		if sameSite(u, t.PageURL) {
			enqueue(u, seedLimit)
		}
	}
	for _, p := range s.cfg.SitemapPaths {
		enqueue(resolve(t.Origin, p), seedLimit)
	}

	var (
		candidates []crawler.ArticleCandidate
		errs       []string
		visited    int
	)
	for len(queue) > 0 && visited < s.cfg.SitemapMaxVisited {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err().Error())
			break
		}
		current := queue[0]
		queue = queue[1:]
		res, err := s.fetchRaw(ctx, t, current)
		if err != nil {
			continue
		}
		visited++
		doc, err := xmlquery.Parse(bytes.NewReader(res.Body))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: parse: %v", current, err))
			continue
		}
		for _, node := range xmlquery.Find(doc, "//*[local-name()='sitemap']") {
			loc := childText(node, "loc")
			if lastmod, ok := parseLastmod(childText(node, "lastmod")); ok && lastmod.Before(cutoff) {
				s.logger.Debug("skipping stale sitemap", zap.String("url", loc), zap.Time("lastmod", lastmod))
				continue
			}
			if sameSite(loc, t.PageURL) {
				enqueue(loc, s.cfg.SitemapMaxQueued)
			}
		}
		for _, node := range xmlquery.Find(doc, "//*[local-name()='url']") {
			loc := childText(node, "loc")
			lastmod, ok := parseLastmod(childText(node, "lastmod"))
			if !ok {
				lastmod, ok = parseLastmod(newsPublicationDate(node))
			}
			if ok && lastmod.Before(cutoff) {
				continue
			}
			if !sameSite(loc, t.PageURL) || !s.plausibleArticle(loc, patterns) {
				continue
			}
			c, valid := s.candidate(loc)
			if !valid {
				continue
			}
			if ok {
				ts := lastmod
				c.DatePublished = &ts
			}
			if title := newsTitle(node); title != "" {
				c.Headline = title
			}
			candidates = append(candidates, c)
		}
	}

	candidates = dedupe(t.PageURL, candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].DatePublished, candidates[j].DatePublished
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return candidates, errs
}

func childText(node *xmlquery.Node, name string) string {
	child := xmlquery.FindOne(node, "./*[local-name()='"+name+"']")
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

func newsPublicationDate(node *xmlquery.Node) string {
	child := xmlquery.FindOne(node, "./*[local-name()='news']/*[local-name()='publication_date']")
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

func newsTitle(node *xmlquery.Node) string {
	child := xmlquery.FindOne(node, "./*[local-name()='news']/*[local-name()='title']")
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

func parseLastmod(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	return extract.ParseDate(raw)
}
