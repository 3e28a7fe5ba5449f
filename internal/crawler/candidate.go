package crawler

import (
	"encoding/json"
	"time"
)

const (
	maxCandidateKeywords  = 20
	maxCandidateKeywordSz = 100
	// CandidateSizeLimit is the serialized budget for a persisted candidate hint.
	CandidateSizeLimit = 5 * 1024
)

// ArticleCandidate is an article URL plus optional hints surfaced by
// structured-data scanning.
type ArticleCandidate struct {
	URL           string     `json:"url"`
	Headline      string     `json:"headline,omitempty"`
	DatePublished *time.Time `json:"date_published,omitempty"`
	Image         string     `json:"image,omitempty"`
	Keywords      []string   `json:"keywords,omitempty"`
}

// NewArticleCandidate validates the URL and trims keyword hints.
func NewArticleCandidate(rawURL string) (ArticleCandidate, error) {
	u, err := ValidatePublicURL(rawURL)
	if err != nil {
		return ArticleCandidate{}, err
	}
	return ArticleCandidate{URL: u.String()}, nil
}

// SetKeywords keeps at most 20 keywords of at most 100 characters each.
func (c *ArticleCandidate) SetKeywords(keywords []string) {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if r := []rune(kw); len(r) > maxCandidateKeywordSz {
			kw = string(r[:maxCandidateKeywordSz])
		}
		out = append(out, kw)
		if len(out) == maxCandidateKeywords {
			break
		}
	}
	if len(out) == 0 {
		out = nil
	}
	c.Keywords = out
}

// Size is the serialized JSON size of the candidate.
func (c ArticleCandidate) Size() int {
	raw, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return len(raw)
}

// CapSize drops keywords, then headline, then image until the candidate fits
// within limit bytes. The URL is never dropped.
func (c ArticleCandidate) CapSize(limit int) ArticleCandidate {
	if c.Size() <= limit {
		return c
	}
	c.Keywords = nil
	if c.Size() <= limit {
		return c
	}
	c.Headline = ""
	if c.Size() <= limit {
		return c
	}
	c.Image = ""
	return c
}
