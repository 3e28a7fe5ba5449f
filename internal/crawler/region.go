package crawler

import "strings"

// SuffixMatcher stores exact hosts and suffix wildcards ("*.gov.uk", ".gov").
type SuffixMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewSuffixMatcher builds a matcher from exact hosts and wildcard suffixes.
func NewSuffixMatcher(patterns ...string) *SuffixMatcher {
	matcher := &SuffixMatcher{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	return matcher
}

func (m *SuffixMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

// Match reports whether the normalized host equals an exact entry or falls
// under a suffix.
func (m *SuffixMatcher) Match(host string) bool {
	if m == nil {
		return false
	}
	host = NormalizeDomain(host)
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

var (
	governmentHosts = NewSuffixMatcher("*.gov", "*.gov.uk", "*.gov.ie", "*.gov.au", "*.gc.ca", "*.govt.nz",
		"*.mil", "*.police.uk", "*.nhs.uk", "*.parliament.uk", "*.gov.scot", "*.gov.wales", "*.europa.eu")
	ukHosts      = NewSuffixMatcher("*.uk")
	irelandHosts = NewSuffixMatcher("*.ie")
)

// IsGovernmentDomain reports public-sector hosts, which get slower pacing and
// extra feed paths.
func IsGovernmentDomain(host string) bool {
	return governmentHosts.Match(host)
}

// IsUKOrIrelandDomain reports UK or Irish hosts.
func IsUKOrIrelandDomain(host string) bool {
	return ukHosts.Match(host) || irelandHosts.Match(host)
}

var countryByTLD = map[string]string{
	"uk": "GB", "ie": "IE", "au": "AU", "nz": "NZ", "ca": "CA",
	"de": "DE", "fr": "FR", "es": "ES", "it": "IT", "nl": "NL", "us": "US",
}

// CountryForHost returns the ISO country inferred from the TLD, or "".
func CountryForHost(host string) string {
	host = NormalizeDomain(host)
	idx := strings.LastIndex(host, ".")
	if idx < 0 {
		return ""
	}
	return countryByTLD[host[idx+1:]]
}

var languageByCountry = map[string]string{
	"GB": "en-GB,en;q=0.9",
	"IE": "en-IE,en-GB;q=0.9,en;q=0.8",
	"AU": "en-AU,en;q=0.9",
	"NZ": "en-NZ,en;q=0.9",
	"CA": "en-CA,en;q=0.9,fr-CA;q=0.8",
	"DE": "de-DE,de;q=0.9,en;q=0.8",
	"FR": "fr-FR,fr;q=0.9,en;q=0.8",
	"ES": "es-ES,es;q=0.9,en;q=0.8",
	"IT": "it-IT,it;q=0.9,en;q=0.8",
	"NL": "nl-NL,nl;q=0.9,en;q=0.8",
}

// LanguageForHost returns an Accept-Language value for host, defaulting to en-US.
func LanguageForHost(host string) string {
	if lang, ok := languageByCountry[CountryForHost(host)]; ok {
		return lang
	}
	return "en-US,en;q=0.9"
}
