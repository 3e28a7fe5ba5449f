package discovery

import (
	"context"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
)

// structuredStrategy follows article links found in the page's JSON-LD.
type structuredStrategy struct{ *toolkit }

func (s *structuredStrategy) Name() string { return crawler.StrategyStructured }

func (s *structuredStrategy) Discover(ctx context.Context, t *Target) Outcome {
	res, err := s.fetchPage(ctx, t, t.PageURL)
	if err != nil {
		return Outcome{Errors: []string{err.Error()}}
	}
	doc, err := s.document(res)
	if err != nil {
		return Outcome{Errors: []string{err.Error()}}
	}
	_, candidates, stats := extract.ScanStructuredData(doc, res.URL, s.cfg.Limits)
	candidates = dedupe(res.URL, candidates)
	if len(candidates) == 0 {
		return Outcome{Errors: []string{"no structured-data article entries"}}
	}
	out := Outcome{Found: len(candidates)}
	if stats.Truncated {
		s.logger.Debug("structured data scan truncated")
	}
	out.Articles, out.Errors = s.extractAll(ctx, t, candidates)
	return out
}
