package extract

// Patterns is the swappable table of selectors and phrase lists driving
// extraction. Per-domain overrides replace BodySelectors and NoiseSelectors.
type Patterns struct {
	// StripSelectors are removed before anything else is read.
	StripSelectors []string
	// NoiseSelectors are page regions never considered article text.
	NoiseSelectors []string
	// TitleSelectors are tried before the document title.
	TitleSelectors []string
	// BodySelectors are tried in order for the article container.
	BodySelectors []string
	// AuthorSelectors are read as text when metadata has no author.
	AuthorSelectors []string
	// DateSelectors are read (datetime attribute, then text) when metadata
	// has no publication date.
	DateSelectors []string
	// BoilerplatePhrases mark short paragraphs as navigation or chrome.
	BoilerplatePhrases []string
	// MinParagraphChars drops shorter paragraphs entirely.
	MinParagraphChars int
	// PreferredParagraphChars is the length that counts as real prose.
	PreferredParagraphChars int
	// BoilerplateMaxChars bounds which paragraphs the phrase list applies to.
	BoilerplateMaxChars int
	// GoodScore stops the selector search and skips paragraph aggregation.
	GoodScore int
}

// DefaultPatterns returns the generic pattern table.
func DefaultPatterns() Patterns {
	return Patterns{
		StripSelectors: []string{"script", "style", "noscript", "iframe", "svg", "template", "button"},
		NoiseSelectors: []string{
			"nav", "header", "footer", "aside",
			"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[role=complementary]",
			".sidebar", "#sidebar", ".advert", ".advertisement", ".ad-slot", ".ad-container", "[class*=dfp-]",
			".social-share", ".share-buttons", ".related", ".related-articles", ".recommended",
			".newsletter", ".newsletter-signup", ".cookie-banner", "#cookie-notice", ".comments", "#comments",
			".breadcrumb", ".breadcrumbs", ".tags", ".paywall", ".subscribe",
		},
		TitleSelectors: []string{"article h1", "h1.headline", "h1[itemprop=headline]", ".article-title", "h1"},
		BodySelectors: []string{
			"[itemprop=articleBody]",
			".article-body", ".article__body", ".article-content", ".story-body", ".story-content",
			".entry-content", ".post-content", ".content-body", "#article-body",
			"article",
			"main",
		},
		AuthorSelectors: []string{
			"[rel=author]", "[itemprop=author] [itemprop=name]", "[itemprop=author]",
			".byline__name", ".author-name", ".byline", ".author",
		},
		DateSelectors: []string{
			"time[datetime]", "[itemprop=datePublished]", ".published", ".publish-date", ".date", ".timestamp",
		},
		BoilerplatePhrases: []string{
			"all rights reserved", "cookie", "subscribe", "sign up", "newsletter", "read more", "share this",
			"follow us", "advertisement", "related articles", "click here", "terms and conditions",
			"privacy policy", "skip to content", "log in", "download our app", "copyright",
		},
		MinParagraphChars:       20,
		PreferredParagraphChars: 50,
		BoilerplateMaxChars:     200,
		GoodScore:               60,
	}
}

// WithOverrides returns a copy using the given body and noise selectors when
// they are non-empty.
func (p Patterns) WithOverrides(body, noise []string) Patterns {
	out := p
	if len(body) > 0 {
		out.BodySelectors = append([]string(nil), body...)
	}
	if len(noise) > 0 {
		out.NoiseSelectors = append(append([]string(nil), p.NoiseSelectors...), noise...)
	}
	return out
}
