package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// robotsCache loads robots.txt once per origin and remembers the parsed
// result for the process lifetime.
type robotsCache struct {
	tk    *toolkit
	cache sync.Map
}

// sitemaps returns the Sitemap directives of the origin's robots.txt. A
// missing or unreadable file yields none.
func (r *robotsCache) sitemaps(ctx context.Context, t *Target) []string {
	data, err := r.load(ctx, t)
	if err != nil {
		r.tk.logger.Debug("robots unavailable", zap.String("origin", t.Origin), zap.Error(err))
		return nil
	}
	return data.Sitemaps
}

func (r *robotsCache) load(ctx context.Context, t *Target) (*robotstxt.RobotsData, error) {
	key := strings.ToLower(t.Origin)
	if data, ok := r.cache.Load(key); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}
	res, err := r.tk.fetchRaw(ctx, t, t.Origin+"/robots.txt")
	status := res.StatusCode
	if err != nil {
		status = crawler.StatusOf(err)
		if status == 0 {
			return nil, fmt.Errorf("fetch robots: %w", err)
		}
	}
	data, err := robotstxt.FromStatusAndBytes(status, res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(key, data)
	return data, nil
}
