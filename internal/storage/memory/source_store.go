package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/storage"
)

// Catalog is the YAML layout of a sources file.
type Catalog struct {
	Topics  []crawler.TopicConfig `yaml:"topics"`
	Sources []crawler.Source      `yaml:"sources"`
}

// SourceStore serves topics and sources from memory and keeps the latest
// SourceUpdate per source.
type SourceStore struct {
	mu      sync.RWMutex
	topics  map[string]crawler.TopicConfig
	sources []crawler.Source
	index   map[string]int
	updates map[string]crawler.SourceUpdate
}

// NewSourceStore indexes the catalog. Later duplicates of an ID replace earlier ones.
func NewSourceStore(catalog Catalog) *SourceStore {
	s := &SourceStore{
		topics:  make(map[string]crawler.TopicConfig, len(catalog.Topics)),
		index:   make(map[string]int, len(catalog.Sources)),
		updates: make(map[string]crawler.SourceUpdate),
	}
	for _, topic := range catalog.Topics {
		s.topics[topic.ID] = topic
	}
	for _, src := range catalog.Sources {
		if i, ok := s.index[src.ID]; ok {
			s.sources[i] = src
			continue
		}
		s.index[src.ID] = len(s.sources)
		s.sources = append(s.sources, src)
	}
	return s
}

// LoadSourceStore reads a YAML catalog from path.
func LoadSourceStore(path string) (*SourceStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	for i, src := range catalog.Sources {
		if src.ID == "" || src.FeedURL == "" {
			return nil, fmt.Errorf("sources file %s: source %d needs id and feed_url", path, i)
		}
	}
	return NewSourceStore(catalog), nil
}

// ListSources returns the topic's sources in file order, restricted to ids when given.
func (s *SourceStore) ListSources(ctx context.Context, topicID string, ids []string) ([]crawler.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Source
	for _, src := range s.sources {
		if src.TopicID != topicID {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[src.ID]; !ok {
				continue
			}
		}
		out = append(out, cloneSource(src))
	}
	return out, nil
}

// Topic returns the topic configuration.
func (s *SourceStore) Topic(ctx context.Context, topicID string) (crawler.TopicConfig, error) {
	if err := ctx.Err(); err != nil {
		return crawler.TopicConfig{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.topics[topicID]
	if !ok {
		return crawler.TopicConfig{}, fmt.Errorf("topic %q: %w", topicID, storage.ErrNotFound)
	}
	return topic, nil
}

// ApplyUpdates stamps LastScrapedAt on each source and keeps the update.
// Updates for unknown sources are reported after the known ones are applied.
func (s *SourceStore) ApplyUpdates(ctx context.Context, updates []crawler.SourceUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, u := range updates {
		i, ok := s.index[u.SourceID]
		if !ok {
			errs = append(errs, fmt.Errorf("source %q: %w", u.SourceID, storage.ErrNotFound))
			continue
		}
		if u.LastScrapedAt != nil {
			ts := *u.LastScrapedAt
			s.sources[i].LastScrapedAt = &ts
		}
		if u.ResolvedSectionPath != "" {
			s.sources[i].ScrapingConfig.SectionPath = u.ResolvedSectionPath
		}
		s.updates[u.SourceID] = u
	}
	return errors.Join(errs...)
}

// LastUpdate returns the most recent update applied to a source.
func (s *SourceStore) LastUpdate(sourceID string) (crawler.SourceUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.updates[sourceID]
	return u, ok
}

func cloneSource(src crawler.Source) crawler.Source {
	out := src
	if src.LastScrapedAt != nil {
		ts := *src.LastScrapedAt
		out.LastScrapedAt = &ts
	}
	out.ScrapingConfig.SkipStrategies = append([]string(nil), src.ScrapingConfig.SkipStrategies...)
	return out
}
