package discovery

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
)

// feedStrategy reads RSS, Atom or JSON feeds.
type feedStrategy struct{ *toolkit }

func (s *feedStrategy) Name() string { return crawler.StrategyFeed }

func (s *feedStrategy) Discover(ctx context.Context, t *Target) Outcome {
	var out Outcome
	parser := gofeed.NewParser()
	for _, feedURL := range s.feedURLs(t) {
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, ctx.Err().Error())
			break
		}
		res, err := s.fetchRaw(ctx, t, feedURL)
		if err != nil {
			continue
		}
		feed, err := parser.Parse(bytes.NewReader(res.Body))
		if err != nil {
			s.logger.Debug("not a feed", zap.String("url", feedURL), zap.Error(err))
			continue
		}
		entries := ParseFeedItems(feed)
		usable := 0
		for _, e := range entries {
			if e != nil {
				usable++
			}
		}
		if usable == 0 {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: no usable items", feedURL))
			continue
		}
		out.Found = usable
		out.Articles, out.Errors = s.articles(ctx, t, entries)
		return out
	}
	if len(out.Errors) == 0 {
		out.Errors = append(out.Errors, "no feed found")
	}
	return out
}

// feedURLs lists the configured feed, the source URL, the common feed paths
// and, for public-sector domains, the government paths.
func (s *feedStrategy) feedURLs(t *Target) []string {
	raw := []string{}
	if p := t.Source.ScrapingConfig.FeedPath; p != "" {
		raw = append(raw, resolve(t.Origin, p))
	}
	raw = append(raw, t.PageURL)
	for _, p := range s.cfg.FeedPaths {
		raw = append(raw, resolve(t.Origin, p))
	}
	if crawler.IsGovernmentDomain(crawler.HostOf(t.PageURL)) {
		for _, p := range s.cfg.GovernmentFeedPaths {
			raw = append(raw, resolve(t.Origin, p))
		}
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// FeedEntry is one usable feed item.
type FeedEntry struct {
	Title       string
	Link        string
	Summary     string
	Author      string
	Image       string
	PublishedAt *time.Time
}

// ParseFeedItems maps every item to an entry. Items without a title, link
// or description map to nil; later items are still parsed.
func ParseFeedItems(feed *gofeed.Feed) []*FeedEntry {
	if feed == nil {
		return nil
	}
	out := make([]*FeedEntry, len(feed.Items))
	for i, item := range feed.Items {
		out[i] = feedEntry(item)
	}
	return out
}

func feedEntry(item *gofeed.Item) *FeedEntry {
	if item == nil {
		return nil
	}
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	summary := htmlText(item.Content)
	if summary == "" {
		summary = htmlText(item.Description)
	}
	if title == "" || link == "" || summary == "" {
		return nil
	}
	e := &FeedEntry{Title: title, Link: link, Summary: summary, Author: itemAuthor(item)}
	switch {
	case item.PublishedParsed != nil:
		ts := item.PublishedParsed.UTC()
		e.PublishedAt = &ts
	case item.UpdatedParsed != nil:
		ts := item.UpdatedParsed.UTC()
		e.PublishedAt = &ts
	}
	if item.Image != nil {
		e.Image = item.Image.URL
	}
	if e.Image == "" {
		for _, enc := range item.Enclosures {
			if enc != nil && strings.HasPrefix(enc.Type, "image/") {
				e.Image = enc.URL
				break
			}
		}
	}
	return e
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if item.DublinCoreExt != nil {
		for _, creator := range item.DublinCoreExt.Creator {
			if creator != "" {
				return creator
			}
		}
	}
	return ""
}

var truncationMarkers = []string{"...", "…", "[…]", "[...]", "read more", "continue reading", "read the full"}

// Truncated reports whether a feed summary looks cut short.
func Truncated(summary string) bool {
	lower := strings.ToLower(strings.TrimSpace(summary))
	for _, m := range truncationMarkers {
		if strings.HasSuffix(lower, m) {
			return true
		}
	}
	return false
}

func (s *feedStrategy) articles(ctx context.Context, t *Target, entries []*FeedEntry) ([]crawler.ArticleData, []string) {
	var (
		articles []crawler.ArticleData
		errs     []string
	)
	for _, e := range entries {
		if e == nil {
			continue
		}
		if len(articles) >= s.cfg.MaxArticlesPerSource || ctx.Err() != nil {
			break
		}
		c, ok := s.candidate(resolve(t.Origin, e.Link))
		if !ok {
			continue
		}
		article := crawler.ArticleData{
			Title:            e.Title,
			Body:             e.Summary,
			Author:           e.Author,
			PublishedAt:      e.PublishedAt,
			SourceURL:        c.URL,
			ImageURL:         e.Image,
			ProcessingStatus: crawler.StatusPending,
		}
		article.SetMeta("extraction_method", crawler.StrategyFeed)
		if extract.CountWords(e.Summary) < s.cfg.FeedRefetchWords || Truncated(e.Summary) {
			c.Headline, c.DatePublished, c.Image = e.Title, e.PublishedAt, e.Image
			full, err := s.extractArticle(ctx, t, c)
			if err != nil {
				errs = append(errs, err.Error())
			} else if extract.CountWords(full.Body) > extract.CountWords(e.Summary) {
				if full.Author == "" {
					full.Author = e.Author
				}
				article = full
				article.SetMeta("feed_refetched", "true")
			}
		}
		article.WordCount = extract.CountWords(article.Body)
		article.ContentQualityScore = extract.ScoreArticle(article)
		articles = append(articles, article)
	}
	return articles, errs
}
