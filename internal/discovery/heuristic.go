package discovery

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// containerSelectors are the semantic regions whose links are article links.
var containerSelectors = []string{"article a[href]", "section a[href]", "main a[href]"}

// headingSelectors match headings wrapping anchors and anchors wrapping headings.
var headingSelectors = []string{
	"h1 a[href]", "h2 a[href]", "h3 a[href]", "h4 a[href]",
	"a[href]:has(h2)", "a[href]:has(h3)", "a[href]:has(h4)",
}

// heuristicStrategy scrapes article links from the index page.
type heuristicStrategy struct{ *toolkit }

func (s *heuristicStrategy) Name() string { return crawler.StrategyHeuristic }

func (s *heuristicStrategy) Discover(ctx context.Context, t *Target) Outcome {
	res, err := s.fetchPage(ctx, t, t.PageURL)
	if err != nil {
		return Outcome{Errors: []string{err.Error()}}
	}
	doc, err := s.document(res)
	if err != nil {
		return Outcome{Errors: []string{err.Error()}}
	}
	candidates := s.Links(doc, res.URL, t)
	if len(candidates) == 0 {
		return Outcome{Errors: []string{"no article links on index page"}}
	}
	out := Outcome{Found: len(candidates)}
	out.Articles, out.Errors = s.extractAll(ctx, t, candidates)
	return out
}

// Links unions links from semantic containers, headings and article-like
// class or id names, keeping same-site plausible article URLs up to the cap.
func (s *heuristicStrategy) Links(doc *goquery.Document, pageURL string, t *Target) []crawler.ArticleCandidate {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	patterns := compilePatterns(t)
	var out []crawler.ArticleCandidate
	seen := make(map[string]struct{})
	if key, err := crawler.NormalizeURL(pageURL); err == nil {
		seen[key] = struct{}{}
	}
	add := func(sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		link := crawler.ResolveReference(base, href)
		if link == "" || !sameSite(link, pageURL) || !s.plausibleArticle(link, patterns) {
			return true
		}
		key, err := crawler.NormalizeURL(link)
		if err != nil {
			return true
		}
		if _, dup := seen[key]; dup {
			return true
		}
		c, ok := s.candidate(link)
		if !ok {
			return true
		}
		seen[key] = struct{}{}
		c.Headline = strings.Join(strings.Fields(sel.Text()), " ")
		out = append(out, c)
		return len(out) < s.cfg.HeuristicMaxLinks
	}

	for _, group := range [][]string{containerSelectors, headingSelectors} {
		for _, selector := range group {
			if len(out) >= s.cfg.HeuristicMaxLinks {
				return out
			}
			doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
				return add(sel)
			})
		}
	}
	if len(out) < s.cfg.HeuristicMaxLinks {
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if !s.articleLike(sel) {
				return true
			}
			return add(sel)
		})
	}
	return out
}

// articleLike reports whether the anchor or its parent carries an
// article-like class or id.
func (s *heuristicStrategy) articleLike(sel *goquery.Selection) bool {
	for _, node := range []*goquery.Selection{sel, sel.Parent()} {
		class, _ := node.Attr("class")
		id, _ := node.Attr("id")
		names := strings.ToLower(class + " " + id)
		if strings.TrimSpace(names) == "" {
			continue
		}
		for _, kw := range s.cfg.ArticleKeywords {
			if strings.Contains(names, kw) {
				return true
			}
		}
	}
	return false
}
