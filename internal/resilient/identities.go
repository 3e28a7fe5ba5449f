package resilient

import (
	"net/http"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// DefaultIdentities is the rotation pool used when none is configured. Order
// matters: attempt 0 always uses the first entry.
func DefaultIdentities() []crawler.FetchIdentity {
	return []crawler.FetchIdentity{
		{
			Name:      "chrome-windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
			Headers: http.Header{
				"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
				"Accept-Language":           {"en-US,en;q=0.9"},
				"Cache-Control":             {"max-age=0"},
				"Sec-Ch-Ua":                 {`"Google Chrome";v="129", "Not=A?Brand";v="8", "Chromium";v="129"`},
				"Sec-Ch-Ua-Mobile":          {"?0"},
				"Sec-Ch-Ua-Platform":        {`"Windows"`},
				"Sec-Fetch-Dest":            {"document"},
				"Sec-Fetch-Mode":            {"navigate"},
				"Sec-Fetch-Site":            {"none"},
				"Sec-Fetch-User":            {"?1"},
				"Upgrade-Insecure-Requests": {"1"},
			},
		},
		{
			Name:      "firefox-windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:131.0) Gecko/20100101 Firefox/131.0",
			Headers: http.Header{
				"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
				"Accept-Language":           {"en-US,en;q=0.5"},
				"Dnt":                       {"1"},
				"Sec-Fetch-Dest":            {"document"},
				"Sec-Fetch-Mode":            {"navigate"},
				"Sec-Fetch-Site":            {"none"},
				"Sec-Fetch-User":            {"?1"},
				"Upgrade-Insecure-Requests": {"1"},
			},
		},
		{
			Name:      "safari-macos",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
			Headers: http.Header{
				"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
				"Accept-Language": {"en-US,en;q=0.9"},
			},
		},
		{
			Name:      "chrome-android",
			UserAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Mobile Safari/537.36",
			Headers: http.Header{
				"Accept":             {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
				"Accept-Language":    {"en-US,en;q=0.9"},
				"Sec-Ch-Ua-Mobile":   {"?1"},
				"Sec-Ch-Ua-Platform": {`"Android"`},
				"Sec-Fetch-Dest":     {"document"},
				"Sec-Fetch-Mode":     {"navigate"},
				"Sec-Fetch-Site":     {"none"},
			},
		},
	}
}

// identityFor picks the identity for an attempt index.
func identityFor(pool []crawler.FetchIdentity, attempt int) crawler.FetchIdentity {
	if len(pool) == 0 {
		return crawler.FetchIdentity{}
	}
	if attempt < 0 {
		attempt = 0
	}
	return pool[attempt%len(pool)]
}
