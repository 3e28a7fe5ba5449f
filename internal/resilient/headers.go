package resilient

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// wafSignatures are substrings of Server headers sent by edge and bot-defence
// vendors.
var wafSignatures = []string{
	"cloudflare", "akamai", "akamaighost", "incapsula", "imperva", "sucuri",
	"datadome", "perimeterx", "fastly", "varnish", "awselb", "kasada",
}

// fingerprintHeaders are stripped in stealth mode.
var fingerprintHeaders = []string{
	"Sec-Ch-Ua", "Sec-Ch-Ua-Mobile", "Sec-Ch-Ua-Platform",
	"Sec-Fetch-Dest", "Sec-Fetch-Mode", "Sec-Fetch-Site", "Sec-Fetch-User",
	"Dnt", "Cache-Control", "Priority",
}

// forwardedIPPool holds sample consumer-ISP addresses per country.
var forwardedIPPool = map[string][]string{
	"GB": {"81.2.69.142", "86.128.14.21", "92.40.178.9", "109.144.22.7"},
	"IE": {"86.40.12.77", "89.101.54.3", "109.76.31.18"},
	"US": {"73.162.45.11", "98.207.11.64", "24.6.170.2"},
}

// IsWAFServer reports whether a Server header names a known edge or WAF.
func IsWAFServer(server string) bool {
	server = strings.ToLower(server)
	if server == "" {
		return false
	}
	for _, sig := range wafSignatures {
		if strings.Contains(server, sig) {
			return true
		}
	}
	return false
}

// applyRegional sets Accept-Language from the host's TLD.
func applyRegional(h http.Header, host string) {
	h.Set("Accept-Language", crawler.LanguageForHost(host))
}

// wantsStealth reports whether the domain's history suggests bot detection.
func wantsStealth(hint crawler.WarmupHint, host string) bool {
	if hint.LastStatus == http.StatusForbidden || hint.LastStatus == http.StatusTooManyRequests {
		return true
	}
	if hint.BlockProfile != nil && IsWAFServer(hint.BlockProfile.Server) {
		return true
	}
	return strings.HasSuffix(crawler.NormalizeDomain(host), ".co.uk")
}

// applyStealth strips fingerprinting headers and presents a search referral.
func applyStealth(h http.Header) {
	for _, name := range fingerprintHeaders {
		h.Del(name)
	}
	h.Set("Referer", "https://www.google.com/")
}

// wantsForwardedIP reports residential-required domains and UK/IE hosts.
func wantsForwardedIP(hint crawler.WarmupHint, host string) bool {
	return hint.Diagnosis() == crawler.DiagnosisResidentialRequired || crawler.IsUKOrIrelandDomain(host)
}

// forwardedIPFor samples the pool for the host's country, rotating by attempt.
func forwardedIPFor(host string, attempt int) (ip, country string) {
	country = crawler.CountryForHost(host)
	pool, ok := forwardedIPPool[country]
	if !ok {
		country = "US"
		pool = forwardedIPPool[country]
	}
	if attempt < 0 {
		attempt = 0
	}
	return pool[attempt%len(pool)], country
}
