package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/storage"
)

var sourceColumns = []string{
	"id", "name", "topic_id", "tenant_id", "feed_url", "source_type", "region",
	"credibility_score", "scraping_config", "last_scraped_at", "scrape_frequency_hours",
}

var topicColumns = []string{
	"id", "tenant_id", "name", "type", "region", "keywords", "negative_keywords",
	"landmarks", "postcodes", "organizations", "max_age_days", "min_word_count", "relevance_threshold",
}

// SourceStore reads topics and sources from Postgres and writes source metrics back.
type SourceStore struct {
	pool Pool
}

// NewSourceStore constructs a SourceStore over pool.
func NewSourceStore(pool Pool) (*SourceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SourceStore{pool: pool}, nil
}

// ListSources returns the topic's sources ordered by id, restricted to ids when given.
func (s *SourceStore) ListSources(ctx context.Context, topicID string, ids []string) ([]crawler.Source, error) {
	builder := psql.Select(sourceColumns...).
		From("sources").
		Where(sq.Eq{"topic_id": topicID}).
		OrderBy("id")
	if len(ids) > 0 {
		builder = builder.Where("id = ANY(?)", ids)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []crawler.Source
	for rows.Next() {
		var (
			src        crawler.Source
			rawConfig  []byte
			lastScrape *time.Time
		)
		if err := rows.Scan(
			&src.ID,
			&src.Name,
			&src.TopicID,
			&src.TenantID,
			&src.FeedURL,
			&src.SourceType,
			&src.Region,
			&src.CredibilityScore,
			&rawConfig,
			&lastScrape,
			&src.ScrapeFrequencyHours,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &src.ScrapingConfig); err != nil {
				return nil, fmt.Errorf("decode scraping_config for %s: %w", src.ID, err)
			}
		}
		src.LastScrapedAt = lastScrape
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// Topic loads one topic or returns storage.ErrNotFound.
func (s *SourceStore) Topic(ctx context.Context, topicID string) (crawler.TopicConfig, error) {
	query, args, err := psql.Select(topicColumns...).
		From("topics").
		Where(sq.Eq{"id": topicID}).
		ToSql()
	if err != nil {
		return crawler.TopicConfig{}, fmt.Errorf("build topic query: %w", err)
	}
	var topic crawler.TopicConfig
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&topic.ID,
		&topic.TenantID,
		&topic.Name,
		&topic.Type,
		&topic.Region,
		&topic.Keywords,
		&topic.NegativeKeywords,
		&topic.Landmarks,
		&topic.Postcodes,
		&topic.Organizations,
		&topic.MaxAgeDays,
		&topic.MinWordCount,
		&topic.RelevanceThreshold,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.TopicConfig{}, fmt.Errorf("topic %q: %w", topicID, storage.ErrNotFound)
		}
		return crawler.TopicConfig{}, fmt.Errorf("get topic: %w", err)
	}
	return topic, nil
}

// ApplyUpdates writes every update in one transaction. A resolved section
// path is folded into scraping_config so the next run starts from it.
func (s *SourceStore) ApplyUpdates(ctx context.Context, updates []crawler.SourceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, u := range updates {
			builder := psql.Update("sources").
				Set("last_scraped_at", u.LastScrapedAt).
				Set("articles_found", u.ArticlesFound).
				Set("last_error", u.LastError).
				Set("consecutive_failures", u.ConsecutiveFailures)
			if u.ResolvedSectionPath != "" {
				builder = builder.Set("scraping_config",
					sq.Expr("jsonb_set(scraping_config, '{section_path}', to_jsonb(?::text))", u.ResolvedSectionPath))
			}
			query, args, err := builder.Where(sq.Eq{"id": u.SourceID}).ToSql()
			if err != nil {
				return fmt.Errorf("build source update: %w", err)
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("update source %s: %w", u.SourceID, err)
			}
		}
		return nil
	})
}
