package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
)

// arcContentPath is the Arc XP content API section feed endpoint.
const arcContentPath = "/pf/api/v3/content/fetch/story-feed-sections"

// platformStrategy reads a section feed from the Arc XP content API.
type platformStrategy struct{ *toolkit }

func (s *platformStrategy) Name() string { return crawler.StrategyPlatformAPI }

func (s *platformStrategy) Discover(ctx context.Context, t *Target) Outcome {
	if t.Profile.ArcSite == "" {
		return Outcome{Skipped: true}
	}
	var out Outcome
	for _, section := range s.sections(t) {
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, ctx.Err().Error())
			break
		}
		endpoint := s.endpoint(t, section)
		res, err := s.fetchRaw(ctx, t, endpoint)
		if err != nil {
			status := crawler.StatusOf(err)
			s.logger.Debug("platform section failed",
				zap.String("site", t.Profile.ArcSite),
				zap.String("section", section),
				zap.Int("status", status),
				zap.Error(err))
			out.Errors = append(out.Errors, fmt.Sprintf("section %s: status %d: %v", section, status, err))
			continue
		}
		var feed arcFeed
		if err := json.Unmarshal(res.Body, &feed); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("section %s: status %d: decode: %v", section, res.StatusCode, err))
			continue
		}
		if len(feed.ContentElements) == 0 {
			out.Errors = append(out.Errors, fmt.Sprintf("section %s: status %d: no stories", section, res.StatusCode))
			continue
		}
		out.Found = len(feed.ContentElements)
		out.ResolvedSectionPath = section
		out.Articles, out.Errors = s.articles(ctx, t, feed)
		return out
	}
	return out
}

// sections lists the section paths to try: the source's own, its URL path,
// the profile fallbacks, then /news.
func (s *platformStrategy) sections(t *Target) []string {
	var raw []string
	raw = append(raw, t.Source.ScrapingConfig.SectionPath)
	if u, err := url.Parse(t.PageURL); err == nil {
		raw = append(raw, u.Path)
	}
	raw = append(raw, t.Profile.SectionFallbacks...)
	raw = append(raw, "news")

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		section := "/" + strings.Trim(strings.TrimSpace(r), "/")
		if section == "/" {
			continue
		}
		if _, dup := seen[section]; dup {
			continue
		}
		seen[section] = struct{}{}
		out = append(out, section)
	}
	return out
}

func (s *platformStrategy) endpoint(t *Target, section string) string {
	query, _ := json.Marshal(map[string]any{
		"feature":         "results-list",
		"includeSections": section,
		"offset":          0,
		"size":            s.cfg.PlatformPageSize,
	})
	v := url.Values{}
	v.Set("query", string(query))
	v.Set("_website", t.Profile.ArcSite)
	return t.Origin + arcContentPath + "?" + v.Encode()
}

func (s *platformStrategy) articles(ctx context.Context, t *Target, feed arcFeed) ([]crawler.ArticleData, []string) {
	var (
		articles []crawler.ArticleData
		needPage []crawler.ArticleCandidate
		errs     []string
	)
	for _, story := range feed.ContentElements {
		if len(articles)+len(needPage) >= s.cfg.MaxArticlesPerSource {
			break
		}
		link := story.WebsiteURL
		if link == "" {
			link = story.CanonicalURL
		}
		c, ok := s.candidate(resolve(t.Origin, link))
		if !ok {
			continue
		}
		c.Headline = story.Headlines.Basic
		c.DatePublished = story.published()
		c.Image = story.PromoItems.Basic.URL

		body := story.bodyText()
		if extract.CountWords(body) < s.cfg.FeedRefetchWords {
			needPage = append(needPage, c)
			continue
		}
		article := crawler.ArticleData{
			Title:            story.Headlines.Basic,
			Body:             body,
			Author:           story.author(),
			PublishedAt:      c.DatePublished,
			SourceURL:        c.URL,
			ImageURL:         c.Image,
			WordCount:        extract.CountWords(body),
			ProcessingStatus: crawler.StatusPending,
		}
		article.ContentQualityScore = extract.ScoreArticle(article)
		article.SetMeta("extraction_method", crawler.StrategyPlatformAPI)
		if story.ID != "" {
			article.SetMeta("arc_id", story.ID)
		}
		articles = append(articles, article)
	}
	fetched, fetchErrs := s.extractAll(ctx, t, needPage)
	return append(articles, fetched...), append(errs, fetchErrs...)
}

type arcFeed struct {
	ContentElements []arcStory `json:"content_elements"`
}

type arcStory struct {
	ID               string `json:"_id"`
	CanonicalURL     string `json:"canonical_url"`
	WebsiteURL       string `json:"website_url"`
	DisplayDate      string `json:"display_date"`
	FirstPublishDate string `json:"first_publish_date"`
	Headlines        struct {
		Basic string `json:"basic"`
	} `json:"headlines"`
	Credits struct {
		By []struct {
			Name string `json:"name"`
		} `json:"by"`
	} `json:"credits"`
	PromoItems struct {
		Basic struct {
			URL string `json:"url"`
		} `json:"basic"`
	} `json:"promo_items"`
	ContentElements []struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"content_elements"`
}

func (a arcStory) published() *time.Time {
	for _, raw := range []string{a.FirstPublishDate, a.DisplayDate} {
		if ts, ok := extract.ParseDate(raw); ok {
			return &ts
		}
	}
	return nil
}

func (a arcStory) author() string {
	names := make([]string, 0, len(a.Credits.By))
	for _, by := range a.Credits.By {
		if by.Name != "" {
			names = append(names, by.Name)
		}
	}
	return strings.Join(names, ", ")
}

func (a arcStory) bodyText() string {
	var blocks []string
	for _, el := range a.ContentElements {
		if el.Type != "text" {
			continue
		}
		if text := htmlText(el.Content); text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n\n")
}
