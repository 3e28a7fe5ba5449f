package profile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// Resolver merges the profile layers for a domain.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

// NewResolver returns a Resolver. store may be nil, leaving only inference
// and metadata layers.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the merged profile for rawURL. Layers are applied lowest
// priority first: URL inference, source metadata, global, tenant, topic.
// An empty profile is a valid answer.
func (r *Resolver) Resolve(ctx context.Context, rawURL, topicID, tenantID string, meta *SourceMetadata) (DomainProfile, error) {
	domain := crawler.NormalizeDomain(crawler.HostOf(rawURL))
	if domain == "" {
		return DomainProfile{}, &crawler.ValidationError{URL: rawURL, Reason: "missing host"}
	}
	merged := Merge(InferFromURL(rawURL), FromMetadata(meta))

	scopes := []Scope{{Level: LevelGlobal}}
	if tenantID != "" {
		scopes = append(scopes, Scope{Level: LevelTenant, ID: tenantID})
	}
	if topicID != "" {
		scopes = append(scopes, Scope{Level: LevelTopic, ID: topicID})
	}
	if r.store != nil {
		for _, scope := range scopes {
			p, ok, err := r.store.Lookup(ctx, scope, domain)
			if err != nil {
				return DomainProfile{}, fmt.Errorf("lookup %s profile for %s: %w", scope.Level, domain, err)
			}
			if ok {
				merged = Merge(merged, p)
			}
		}
	}
	if err := merged.Validate(); err != nil {
		return DomainProfile{}, fmt.Errorf("resolved profile for %s: %w", domain, err)
	}
	r.logger.Debug("profile resolved",
		zap.String("domain", domain),
		zap.String("family", string(merged.Family)),
		zap.String("arc_site", merged.ArcSite))
	return merged, nil
}
