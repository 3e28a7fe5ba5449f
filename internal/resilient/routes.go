package resilient

import (
	"net/netip"
	"net/url"
	"strings"
)

// Alternate route strategies.
const (
	RouteAMPSubdomain = "amp-subdomain"
	RouteAMPQuery     = "amp-query"
	RouteAMPPath      = "amp-path"
	RouteMobile       = "mobile-subdomain"
	RouteRSSSuffix    = "rss-suffix"
	RouteSectionRSS   = "section-rss"
)

// DefaultRouteOrder is the order routes are tried when no profile narrows it.
var DefaultRouteOrder = []string{
	RouteAMPSubdomain, RouteAMPQuery, RouteAMPPath, RouteMobile, RouteRSSSuffix, RouteSectionRSS,
}

// familySectionFeeds maps publisher families to their section feed layout.
// %s is replaced with the section slug.
var familySectionFeeds = map[string]string{
	"newsquest":     "/%s/rss/",
	"reach":         "/%s/?service=rss",
	"jpi":           "/%s/rss",
	"regional_slug": "/%s/feed/",
}

// Route is one rewritten URL and the strategy that produced it.
type Route struct {
	Strategy string
	URL      string
}

// AlternateRoutes returns the rewrites of rawURL in order, skipping strategies
// not listed in allowed (when non-empty) and rewrites equal to the input.
func AlternateRoutes(rawURL, family string, allowed []string) []Route {
	order := DefaultRouteOrder
	if len(allowed) > 0 {
		order = allowed
	}
	seen := map[string]struct{}{rawURL: {}}
	var out []Route
	for _, strategy := range order {
		route, ok := RouteByStrategy(rawURL, strategy, family)
		if !ok {
			continue
		}
		if _, dup := seen[route.URL]; dup {
			continue
		}
		seen[route.URL] = struct{}{}
		out = append(out, route)
	}
	return out
}

// RouteByStrategy applies a single rewrite.
func RouteByStrategy(rawURL, strategy, family string) (Route, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Route{}, false
	}
	out := *u
	out.Fragment = ""
	switch strategy {
	case RouteAMPSubdomain:
		host, ok := withSubdomain(u.Hostname(), "amp")
		if !ok {
			return Route{}, false
		}
		out.Host = replaceHostname(u, host)
	case RouteMobile:
		host, ok := withSubdomain(u.Hostname(), "m")
		if !ok {
			return Route{}, false
		}
		out.Host = replaceHostname(u, host)
	case RouteAMPQuery:
		q := out.Query()
		if q.Get("output") == "amp" {
			return Route{}, false
		}
		q.Set("output", "amp")
		out.RawQuery = q.Encode()
	case RouteAMPPath:
		if strings.HasPrefix(out.Path, "/amp/") || strings.HasSuffix(strings.TrimSuffix(out.Path, "/"), "/amp") {
			return Route{}, false
		}
		out.Path = strings.TrimSuffix(out.Path, "/") + "/amp/"
		out.RawPath = ""
	case RouteRSSSuffix:
		trimmed := strings.TrimSuffix(out.Path, "/")
		if strings.HasSuffix(trimmed, "/rss") {
			return Route{}, false
		}
		out.Path = trimmed + "/rss"
		out.RawPath = ""
		out.RawQuery = ""
	case RouteSectionRSS:
		pattern, ok := familySectionFeeds[strings.ToLower(family)]
		if !ok {
			return Route{}, false
		}
		section := firstSegment(out.Path)
		if section == "" {
			section = "news"
		}
		path, query, _ := strings.Cut(strings.Replace(pattern, "%s", section, 1), "?")
		out.Path = path
		out.RawPath = ""
		out.RawQuery = query
	default:
		return Route{}, false
	}
	return Route{Strategy: strategy, URL: out.String()}, true
}

// withSubdomain swaps a leading www. (or prepends) the given label. Hosts that
// already carry the label are rejected.
func withSubdomain(host, label string) (string, bool) {
	host = strings.ToLower(host)
	if host == "" || strings.HasPrefix(host, label+".") {
		return "", false
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return "", false
	}
	host = strings.TrimPrefix(host, "www.")
	return label + "." + host, true
}

func replaceHostname(u *url.URL, host string) string {
	if port := u.Port(); port != "" {
		return host + ":" + port
	}
	return host
}

func firstSegment(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}
