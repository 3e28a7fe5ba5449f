package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher performs exactly one network round trip.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ArticleStore is the persistence collaborator. Implementations enforce
// permanent suppression of previously discarded URLs.
type ArticleStore interface {
	StoreArticles(ctx context.Context, topicID string, articles []ArticleData, maxAgeDays int) (StoreCounts, error)
}

// SourceStore reads sources and topics and persists updated source metrics.
type SourceStore interface {
	ListSources(ctx context.Context, topicID string, ids []string) ([]Source, error)
	Topic(ctx context.Context, topicID string) (TopicConfig, error)
	ApplyUpdates(ctx context.Context, updates []SourceUpdate) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewJobID() (uuid.UUID, error)
}

// Queue buffers jobs submitted for background execution.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
