package discovery

import (
	"time"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
)

// Config tunes discovery. Zero values take the defaults.
type Config struct {
	MaxArticlesPerSource int                 `mapstructure:"max_articles_per_source"`
	FeedPaths            []string            `mapstructure:"feed_paths"`
	GovernmentFeedPaths  []string            `mapstructure:"government_feed_paths"`
	SitemapPaths         []string            `mapstructure:"sitemap_paths"`
	SitemapMaxVisited    int                 `mapstructure:"sitemap_max_visited"`
	SitemapMaxQueued     int                 `mapstructure:"sitemap_max_queued"`
	SitemapMaxAge        time.Duration       `mapstructure:"sitemap_max_age"`
	HeuristicMaxLinks    int                 `mapstructure:"heuristic_max_links"`
	ArticleKeywords      []string            `mapstructure:"article_keywords"`
	ExcludedSegments     []string            `mapstructure:"excluded_segments"`
	FeedRefetchWords     int                 `mapstructure:"feed_refetch_words"`
	PlatformPageSize     int                 `mapstructure:"platform_page_size"`
	AllowPrivateHosts    bool                `mapstructure:"allow_private_hosts"`
	Retry                crawler.RetryPolicy `mapstructure:"-"`
	Limits               extract.Limits      `mapstructure:"-"`
}

// DefaultConfig returns the standard discovery settings.
func DefaultConfig() Config {
	return Config{
		MaxArticlesPerSource: 20,
		FeedPaths: []string{
			"/feed", "/feed/", "/rss", "/rss.xml", "/feed.xml", "/atom.xml", "/index.xml",
			"/rss/news", "/news/rss", "/news/feed", "/feeds/news", "/?service=rss",
		},
		GovernmentFeedPaths: []string{
			"/news.atom", "/news/feed.atom", "/newsroom/rss", "/news-releases/rss", "/press-releases/feed",
			"/media/rss", "/rss/press-releases",
		},
		SitemapPaths: []string{
			"/news-sitemap.xml", "/sitemap-news.xml", "/sitemap_news.xml", "/sitemap_index.xml", "/sitemap.xml",
		},
		SitemapMaxVisited: 6,
		SitemapMaxQueued:  12,
		SitemapMaxAge:     30 * 24 * time.Hour,
		HeuristicMaxLinks: 20,
		ArticleKeywords: []string{
			"article", "story", "headline", "teaser", "post", "news", "entry", "card", "title",
		},
		ExcludedSegments: []string{
			"tag", "tags", "topic", "topics", "category", "categories", "author", "authors", "page", "search",
			"login", "signin", "register", "subscribe", "subscription", "account", "about", "about-us",
			"contact", "contact-us", "privacy", "terms", "cookies", "advertise", "newsletter", "newsletters",
			"jobs", "careers", "events", "weather", "puzzles", "video", "videos", "gallery", "podcasts", "feed", "rss",
		},
		FeedRefetchWords: 150,
		PlatformPageSize: 20,
		Retry:            crawler.DefaultRetryPolicy(),
		Limits:           extract.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxArticlesPerSource <= 0 {
		c.MaxArticlesPerSource = d.MaxArticlesPerSource
	}
	if len(c.FeedPaths) == 0 {
		c.FeedPaths = d.FeedPaths
	}
	if len(c.GovernmentFeedPaths) == 0 {
		c.GovernmentFeedPaths = d.GovernmentFeedPaths
	}
	if len(c.SitemapPaths) == 0 {
		c.SitemapPaths = d.SitemapPaths
	}
	if c.SitemapMaxVisited <= 0 {
		c.SitemapMaxVisited = d.SitemapMaxVisited
	}
	if c.SitemapMaxQueued <= 0 {
		c.SitemapMaxQueued = d.SitemapMaxQueued
	}
	if c.SitemapMaxAge <= 0 {
		c.SitemapMaxAge = d.SitemapMaxAge
	}
	if c.HeuristicMaxLinks <= 0 {
		c.HeuristicMaxLinks = d.HeuristicMaxLinks
	}
	if len(c.ArticleKeywords) == 0 {
		c.ArticleKeywords = d.ArticleKeywords
	}
	if len(c.ExcludedSegments) == 0 {
		c.ExcludedSegments = d.ExcludedSegments
	}
	if c.FeedRefetchWords <= 0 {
		c.FeedRefetchWords = d.FeedRefetchWords
	}
	if c.PlatformPageSize <= 0 {
		c.PlatformPageSize = d.PlatformPageSize
	}
	if c.Retry == (crawler.RetryPolicy{}) {
		c.Retry = d.Retry
	}
	if c.Limits == (extract.Limits{}) {
		c.Limits = d.Limits
	}
	return c
}
