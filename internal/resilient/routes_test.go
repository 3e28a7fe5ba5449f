package resilient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteByStrategy(t *testing.T) {
	const u = "https://www.example.co.uk/news/local/story-1?ref=home#top"
	cases := []struct {
		strategy string
		family   string
		want     string
	}{
		{RouteAMPSubdomain, "", "https://amp.example.co.uk/news/local/story-1?ref=home"},
		{RouteMobile, "", "https://m.example.co.uk/news/local/story-1?ref=home"},
		{RouteAMPQuery, "", "https://www.example.co.uk/news/local/story-1?output=amp&ref=home"},
		{RouteAMPPath, "", "https://www.example.co.uk/news/local/story-1/amp/?ref=home"},
		{RouteRSSSuffix, "", "https://www.example.co.uk/news/local/story-1/rss"},
		{RouteSectionRSS, "newsquest", "https://www.example.co.uk/news/rss/"},
		{RouteSectionRSS, "reach", "https://www.example.co.uk/news/?service=rss"},
	}
	for _, tc := range cases {
		t.Run(tc.strategy+tc.family, func(t *testing.T) {
			route, ok := RouteByStrategy(u, tc.strategy, tc.family)
			require.True(t, ok)
			assert.Equal(t, tc.strategy, route.Strategy)
			assert.Equal(t, tc.want, route.URL)
		})
	}
}

func TestRouteByStrategyRejectsNoOps(t *testing.T) {
	_, ok := RouteByStrategy("https://amp.example.com/a", RouteAMPSubdomain, "")
	assert.False(t, ok)
	_, ok = RouteByStrategy("https://example.com/a/amp/", RouteAMPPath, "")
	assert.False(t, ok)
	_, ok = RouteByStrategy("https://example.com/a", RouteSectionRSS, "")
	assert.False(t, ok, "section feeds need a known family")
	_, ok = RouteByStrategy("https://93.184.216.34/a", RouteMobile, "")
	assert.False(t, ok)
	_, ok = RouteByStrategy("https://example.com/a", "teleport", "")
	assert.False(t, ok)
}

func TestAlternateRoutesOrderAndFilter(t *testing.T) {
	routes := AlternateRoutes("https://example.com/story", "", nil)
	require.NotEmpty(t, routes)
	assert.Equal(t, RouteAMPSubdomain, routes[0].Strategy)
	for _, r := range routes {
		assert.NotEqual(t, RouteSectionRSS, r.Strategy)
	}

	only := AlternateRoutes("https://example.com/story", "jpi", []string{RouteSectionRSS, RouteMobile})
	require.Len(t, only, 2)
	assert.Equal(t, "https://example.com/story/rss", only[0].URL)
	assert.Equal(t, RouteMobile, only[1].Strategy)
}
