package resilient

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

const defaultCookieTimeout = 5 * time.Second

// JoinSetCookies reduces Set-Cookie values to a single Cookie request header.
// Attributes after the first ';' are dropped; later duplicates win.
func JoinSetCookies(values []string) string {
	order := make([]string, 0, len(values))
	pairs := make(map[string]string, len(values))
	for _, raw := range values {
		pair := strings.TrimSpace(strings.SplitN(raw, ";", 2)[0])
		name, _, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		name = strings.TrimSpace(name)
		if _, seen := pairs[name]; !seen {
			order = append(order, name)
		}
		pairs[name] = pair
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, pairs[name])
	}
	return strings.Join(parts, "; ")
}

// WarmUp fetches the origin of rawURL and returns the cookies it sets. Any
// response status is accepted since challenge pages often set the cookie we
// need. Failures return "" and are never surfaced.
func (e *Engine) WarmUp(ctx context.Context, rawURL string) string {
	origin, err := crawler.Origin(rawURL)
	if err != nil {
		return ""
	}
	host := crawler.HostOf(rawURL)
	headers := identityFor(e.identities, 0).Apply()
	applyRegional(headers, host)
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     origin + "/",
		Method:  http.MethodGet,
		Headers: headers,
		Timeout: e.cfg.CookieTimeout,
	})
	if resp.Headers == nil {
		if err != nil {
			e.logger.Debug("cookie warm-up failed", zap.String("origin", origin), zap.Error(err))
		}
		return ""
	}
	cookie := JoinSetCookies(resp.Headers.Values("Set-Cookie"))
	if cookie != "" {
		e.hints.RecordCookie(crawler.NormalizeDomain(host), cookie)
		e.logger.Debug("cookie warm-up succeeded", zap.String("origin", origin), zap.Int("status", resp.StatusCode))
	}
	return cookie
}
