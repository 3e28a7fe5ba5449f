package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/storage"
)

// ArticleStore writes accepted articles and the discarded-URL suppression
// set into Postgres.
type ArticleStore struct {
	pool      Pool
	articles  string
	discarded string
	now       func() time.Time
}

// NewArticleStore constructs a store over pool. Empty table names fall back
// to "articles" and "discarded_articles".
func NewArticleStore(pool Pool, cfg Config, clock crawler.Clock) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	articles, err := tableName(cfg.ArticlesTable, "articles")
	if err != nil {
		return nil, err
	}
	discarded, err := tableName(cfg.DiscardedTable, "discarded_articles")
	if err != nil {
		return nil, err
	}
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &ArticleStore{pool: pool, articles: articles, discarded: discarded, now: now}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreArticles plans the batch against what the topic already holds, then
// inserts and suppresses in one transaction. A concurrent insert of the same
// URL is reported as a duplicate.
func (s *ArticleStore) StoreArticles(
	ctx context.Context,
	topicID string,
	articles []crawler.ArticleData,
	maxAgeDays int,
) (crawler.StoreCounts, error) {
	if s == nil || s.pool == nil {
		return crawler.StoreCounts{}, fmt.Errorf("article store is not configured")
	}
	if len(articles) == 0 {
		return crawler.StoreCounts{}, nil
	}
	existing, err := s.existing(ctx, topicID, articles)
	if err != nil {
		return crawler.StoreCounts{}, err
	}
	now := s.now().UTC()
	plan := storage.PlanBatch(articles, existing, now, maxAgeDays)
	counts := plan.Counts

	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, rec := range plan.Insert {
			inserted, err := s.insertArticle(ctx, tx, topicID, rec, now)
			if err != nil {
				return err
			}
			if !inserted {
				counts.ArticlesStored--
				counts.DuplicatesSkipped++
			}
		}
		for _, d := range plan.Discard {
			if err := s.insertDiscard(ctx, tx, topicID, d, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return crawler.StoreCounts{}, err
	}
	return counts, nil
}

func (s *ArticleStore) existing(ctx context.Context, topicID string, articles []crawler.ArticleData) (storage.Existing, error) {
	out := storage.Existing{
		Articles:   make(map[string]struct{}),
		Suppressed: make(map[string]struct{}),
		Titles:     make(map[string]string),
	}
	urlKeys, titleKeys := storage.Keys(articles)
	if len(urlKeys) == 0 {
		return out, nil
	}
	if titleKeys == nil {
		titleKeys = []string{}
	}

	query, args, err := psql.Select("url_key", "title_key").
		From(s.articles).
		Where(sq.Eq{"topic_id": topicID}).
		Where("(url_key = ANY(?) OR title_key = ANY(?))", urlKeys, titleKeys).
		ToSql()
	if err != nil {
		return out, fmt.Errorf("build article lookup: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return out, fmt.Errorf("lookup articles: %w", err)
	}
	for rows.Next() {
		var key, titleKey string
		if err := rows.Scan(&key, &titleKey); err != nil {
			rows.Close()
			return out, fmt.Errorf("scan article key: %w", err)
		}
		out.Articles[key] = struct{}{}
		if titleKey != "" {
			out.Titles[titleKey] = key
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("lookup articles: %w", err)
	}

	query, args, err = psql.Select("url_key").
		From(s.discarded).
		Where(sq.Eq{"topic_id": topicID}).
		Where("url_key = ANY(?)", urlKeys).
		ToSql()
	if err != nil {
		return out, fmt.Errorf("build discard lookup: %w", err)
	}
	rows, err = s.pool.Query(ctx, query, args...)
	if err != nil {
		return out, fmt.Errorf("lookup discarded: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return out, fmt.Errorf("scan discarded key: %w", err)
		}
		out.Suppressed[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("lookup discarded: %w", err)
	}
	return out, nil
}

func (s *ArticleStore) insertArticle(
	ctx context.Context,
	tx pgx.Tx,
	topicID string,
	rec storage.Record,
	now time.Time,
) (bool, error) {
	meta, err := json.Marshal(normalizeMetadata(rec.Article.ImportMetadata))
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	a := rec.Article
	query, args, err := psql.Insert(s.articles).
		Columns(
			"topic_id", "url_key", "url", "title", "title_key", "body", "author", "published_at",
			"image_url", "word_count", "quality_score", "relevance_score", "metadata", "stored_at",
		).
		Values(
			topicID, rec.Key, a.URL(), a.Title, rec.TitleKey, a.Body, a.Author, a.PublishedAt,
			a.ImageURL, a.WordCount, a.ContentQualityScore, a.RegionalRelevanceScore, meta, now,
		).
		Suffix("ON CONFLICT (topic_id, url_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build article insert: %w", err)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *ArticleStore) insertDiscard(
	ctx context.Context,
	tx pgx.Tx,
	topicID string,
	d storage.Discard,
	now time.Time,
) error {
	query, args, err := psql.Insert(s.discarded).
		Columns("topic_id", "url_key", "url", "reason", "discarded_at").
		Values(topicID, d.Key, d.URL, d.Reason, now).
		Suffix("ON CONFLICT (topic_id, url_key) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build discard insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert discard: %w", err)
	}
	return nil
}

func normalizeMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return map[string]string{}
	}
	return meta
}
