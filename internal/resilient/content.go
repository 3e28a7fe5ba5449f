package resilient

import (
	"strings"
)

// MinContentLength is the shortest body accepted as a real page.
const MinContentLength = 200

// HardBlockMarkers identify challenge and CAPTCHA interstitials served with a
// 200 status.
var HardBlockMarkers = []string{
	"cf-challenge",
	"cf_chl_opt",
	"challenge-platform",
	"g-recaptcha",
	"h-captcha",
	"captcha-delivery",
	"px-captcha",
	"please verify you are a human",
	"verify you are human",
	"checking your browser before accessing",
	"access to this page has been denied",
	"request unsuccessful. incapsula incident",
	"enable javascript and cookies to continue",
	"attention required! | cloudflare",
}

// GeoBlockMarkers identify regional restriction pages.
var GeoBlockMarkers = []string{
	"not available in your region",
	"not available in your country",
	"unavailable in your location",
	"is not available in most european countries",
	"due to gdpr",
}

const reasonRegional = "regional restriction"

// IsValidContent reports whether body looks like a real page. The reason is
// empty when valid.
func IsValidContent(body string) (bool, string) {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) < MinContentLength {
		return false, "body too short"
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range HardBlockMarkers {
		if strings.Contains(lower, marker) {
			return false, "challenge marker: " + marker
		}
	}
	if isGeoBlocked(lower) {
		return false, reasonRegional
	}
	return true, ""
}

func isGeoBlocked(lowerBody string) bool {
	for _, marker := range GeoBlockMarkers {
		if strings.Contains(lowerBody, marker) {
			return true
		}
	}
	return false
}
