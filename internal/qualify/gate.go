// Package qualify decides whether an extracted article is recent, complete,
// relevant and good enough to store.
package qualify

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
	"github.com/JakeFAU/newsharvest/internal/metrics"
	"github.com/JakeFAU/newsharvest/internal/progress"
)

// Rejection reasons.
const (
	ReasonEmpty           = "empty"
	ReasonMissingDate     = "missing_date"
	ReasonTooOld          = "too_old"
	ReasonTooShort        = "too_short"
	ReasonSnippet         = "snippet"
	ReasonNegativeKeyword = "negative_keyword"
	ReasonLowRelevance    = "low_relevance"
	ReasonLowQuality      = "low_quality"
)

const metaDateSubstituted = "date_substituted"

// Config holds gate thresholds. Zero values take the defaults.
type Config struct {
	MaxAgeDays                      int              `mapstructure:"max_age_days"`
	MinWordCount                    int              `mapstructure:"min_word_count"`
	SnippetWordFloor                int              `mapstructure:"snippet_word_floor"`
	SnippetMaxWords                 int              `mapstructure:"snippet_max_words"`
	QualityThreshold                int              `mapstructure:"quality_threshold"`
	HighCredibilityQualityThreshold int              `mapstructure:"high_credibility_quality_threshold"`
	HighCredibilityScore            float64          `mapstructure:"high_credibility_score"`
	MissingDateRegions              []string         `mapstructure:"missing_date_regions"`
	RelevanceThresholds             map[string]int   `mapstructure:"relevance_thresholds"`
	ContinuationPhrases             []string         `mapstructure:"continuation_phrases"`
	Weights                         RelevanceWeights `mapstructure:"weights"`
}

// RelevanceWeights are points per matched term.
type RelevanceWeights struct {
	Keyword      int `mapstructure:"keyword"`
	TitleKeyword int `mapstructure:"title_keyword"`
	Region       int `mapstructure:"region"`
	Landmark     int `mapstructure:"landmark"`
	Postcode     int `mapstructure:"postcode"`
	Organization int `mapstructure:"organization"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxAgeDays:                      7,
		MinWordCount:                    150,
		SnippetWordFloor:                50,
		SnippetMaxWords:                 300,
		QualityThreshold:                40,
		HighCredibilityQualityThreshold: 25,
		HighCredibilityScore:            0.8,
		RelevanceThresholds:             map[string]int{"regional": 30, "keyword": 20, "general": 10},
		ContinuationPhrases: []string{
			"read more", "continue reading", "read the full story", "read full article", "subscribe to read",
			"subscribe to continue", "sign in to continue", "to read this article", "click here to read",
		},
		Weights: RelevanceWeights{Keyword: 10, TitleKeyword: 15, Region: 20, Landmark: 10, Postcode: 15, Organization: 8},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = d.MaxAgeDays
	}
	if c.MinWordCount <= 0 {
		c.MinWordCount = d.MinWordCount
	}
	if c.SnippetWordFloor <= 0 {
		c.SnippetWordFloor = d.SnippetWordFloor
	}
	if c.SnippetMaxWords <= 0 {
		c.SnippetMaxWords = d.SnippetMaxWords
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = d.QualityThreshold
	}
	if c.HighCredibilityQualityThreshold <= 0 {
		c.HighCredibilityQualityThreshold = d.HighCredibilityQualityThreshold
	}
	if c.HighCredibilityScore <= 0 {
		c.HighCredibilityScore = d.HighCredibilityScore
	}
	if len(c.RelevanceThresholds) == 0 {
		c.RelevanceThresholds = d.RelevanceThresholds
	}
	if len(c.ContinuationPhrases) == 0 {
		c.ContinuationPhrases = d.ContinuationPhrases
	}
	if c.Weights == (RelevanceWeights{}) {
		c.Weights = d.Weights
	}
	return c
}

// Decision is the gate verdict.
type Decision struct {
	Accepted       bool
	Reason         string
	RelevanceScore int
	QualityScore   int
}

// Gate applies the qualification checks.
type Gate struct {
	cfg     Config
	now     func() time.Time
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewGate builds a Gate. clock and emitter may be nil.
func NewGate(cfg Config, clock crawler.Clock, emitter progress.Emitter, logger *zap.Logger) *Gate {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg.withDefaults(), now: now, emitter: emitter, logger: logger}
}

// Qualify checks a in order and records status, scores and the rejection
// reason on it. Running it again with unchanged inputs yields the same
// decision and scores.
func (g *Gate) Qualify(ctx context.Context, a *crawler.ArticleData, topic crawler.TopicConfig, source crawler.Source) Decision {
	d := g.decide(a, topic, source)
	a.RegionalRelevanceScore = d.RelevanceScore
	a.ContentQualityScore = d.QualityScore
	if d.Accepted {
		a.ProcessingStatus = crawler.StatusAccepted
		a.RejectionReason = ""
	} else {
		a.ProcessingStatus = crawler.StatusRejected
		a.RejectionReason = d.Reason
	}

	decision := progress.OutcomeAccept
	if !d.Accepted {
		decision = progress.OutcomeReject
	}
	metrics.ObserveQualification(decision, d.Reason)
	progress.Emit(ctx, g.emitter, progress.Event{
		Stage:    progress.StageQualify,
		SourceID: source.ID,
		Domain:   crawler.NormalizeDomain(crawler.HostOf(a.SourceURL)),
		URL:      a.URL(),
		Outcome:  decision,
		Reason:   d.Reason,
	})
	g.logger.Debug("qualified",
		zap.String("url", a.URL()),
		zap.String("decision", decision),
		zap.String("reason", d.Reason),
		zap.Int("relevance", d.RelevanceScore),
		zap.Int("quality", d.QualityScore))
	return d
}

func (g *Gate) decide(a *crawler.ArticleData, topic crawler.TopicConfig, source crawler.Source) Decision {
	a.Title = strings.TrimSpace(a.Title)
	a.Body = strings.TrimSpace(a.Body)
	switch {
	case a.Title == "" && a.Body == "":
		return Decision{Reason: ReasonEmpty}
	case a.Title == "":
		a.Title = deriveTitle(a.Body)
	case a.Body == "":
		a.Body = a.Title
	}
	a.WordCount = extract.CountWords(a.Body)

	tolerant := g.tolerant(source)
	if a.PublishedAt == nil {
		if !tolerant {
			return Decision{Reason: ReasonMissingDate}
		}
		now := g.now().UTC()
		a.PublishedAt = &now
		a.SetMeta(metaDateSubstituted, "true")
	}

	maxAge := topic.MaxAgeDays
	if maxAge <= 0 {
		maxAge = g.cfg.MaxAgeDays
	}
	if g.now().Sub(*a.PublishedAt) > time.Duration(maxAge)*24*time.Hour {
		return Decision{Reason: ReasonTooOld}
	}

	floor := topic.MinWordCount
	if floor <= 0 {
		floor = g.cfg.MinWordCount
	}
	if tolerant {
		floor = min(floor, g.cfg.SnippetWordFloor)
	}
	if a.WordCount < floor {
		return Decision{Reason: ReasonTooShort}
	}
	if !tolerant && a.WordCount < g.cfg.SnippetMaxWords && g.looksLikeSnippet(a.Body) {
		return Decision{Reason: ReasonSnippet}
	}

	text := strings.ToLower(a.Title + "\n" + a.Body)
	for _, neg := range topic.NegativeKeywords {
		if containsTerm(text, neg) {
			return Decision{Reason: ReasonNegativeKeyword}
		}
	}

	relevance := g.relevance(a, topic, text)
	threshold := g.relevanceThreshold(topic)
	if source.ScrapingConfig.HyperLocal && relevance > 0 && relevance < threshold && sameRegion(source.Region, topic.Region) {
		relevance = threshold
	}

	quality := g.quality(*a)
	qualityFloor := g.cfg.QualityThreshold
	if source.CredibilityScore >= g.cfg.HighCredibilityScore {
		qualityFloor = g.cfg.HighCredibilityQualityThreshold
	}

	d := Decision{RelevanceScore: relevance, QualityScore: quality}
	switch {
	case relevance < threshold:
		d.Reason = ReasonLowRelevance
	case quality < qualityFloor:
		d.Reason = ReasonLowQuality
	default:
		d.Accepted = true
	}
	return d
}

// quality scores with the shared extraction score. A substituted date does
// not count as metadata.
func (g *Gate) quality(a crawler.ArticleData) int {
	if a.ImportMetadata[metaDateSubstituted] == "true" {
		a.PublishedAt = nil
	}
	return extract.ScoreArticle(a)
}

func (g *Gate) tolerant(source crawler.Source) bool {
	if source.ScrapingConfig.AllowMissingDates {
		return true
	}
	region := strings.ToLower(source.Region)
	if region == "" {
		return false
	}
	for _, r := range g.cfg.MissingDateRegions {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" && strings.Contains(region, r) {
			return true
		}
	}
	return false
}

func (g *Gate) looksLikeSnippet(body string) bool {
	trimmed := strings.TrimSpace(body)
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") || strings.HasSuffix(trimmed, "[…]") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range g.cfg.ContinuationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (g *Gate) relevanceThreshold(topic crawler.TopicConfig) int {
	if topic.RelevanceThreshold > 0 {
		return topic.RelevanceThreshold
	}
	if t, ok := g.cfg.RelevanceThresholds[strings.ToLower(topic.Type)]; ok {
		return t
	}
	return g.cfg.RelevanceThresholds["general"]
}

// relevance sums weighted term hits, capped at 100. A topic with no terms
// at all treats everything as relevant.
func (g *Gate) relevance(a *crawler.ArticleData, topic crawler.TopicConfig, text string) int {
	if len(topic.Keywords) == 0 && topic.Region == "" && len(topic.Landmarks) == 0 &&
		len(topic.Postcodes) == 0 && len(topic.Organizations) == 0 {
		return 100
	}
	w := g.cfg.Weights
	title := strings.ToLower(a.Title)
	score := 0
	for _, kw := range topic.Keywords {
		switch {
		case containsTerm(title, kw):
			score += w.TitleKeyword
		case containsTerm(text, kw):
			score += w.Keyword
		}
	}
	if topic.Region != "" && containsTerm(text, topic.Region) {
		score += w.Region
	}
	score += w.Landmark * countHits(text, topic.Landmarks)
	score += w.Postcode * countHits(text, topic.Postcodes)
	score += w.Organization * countHits(text, topic.Organizations)
	return extract.Clamp(score)
}

func countHits(text string, terms []string) int {
	n := 0
	for _, term := range terms {
		if containsTerm(text, term) {
			n++
		}
	}
	return n
}

// containsTerm matches term case-insensitively on word boundaries. text must
// already be lower case.
func containsTerm(text, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func sameRegion(sourceRegion, topicRegion string) bool {
	s := strings.ToLower(strings.TrimSpace(sourceRegion))
	t := strings.ToLower(strings.TrimSpace(topicRegion))
	if s == "" || t == "" {
		return false
	}
	return strings.Contains(s, t) || strings.Contains(t, s)
}

// deriveTitle takes the first sentence of the body, capped at 15 words.
func deriveTitle(body string) string {
	first := body
	if i := strings.IndexAny(body, ".!?\n"); i > 0 {
		first = body[:i]
	}
	words := strings.Fields(first)
	if len(words) > 15 {
		words = words[:15]
	}
	return strings.Join(words, " ")
}
