package profile

import (
	"strings"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/resilient"
)

// familyHosts lists publisher domains per family.
var familyHosts = map[Family]*crawler.SuffixMatcher{
	FamilyNewsquest: crawler.NewSuffixMatcher(
		"*.thenorthernecho.co.uk", "*.oxfordmail.co.uk", "*.theargus.co.uk", "*.dailyecho.co.uk",
		"*.yorkpress.co.uk", "*.swindonadvertiser.co.uk", "*.bournemouthecho.co.uk", "*.heraldscotland.com",
		"*.thenational.scot", "*.eveningtimes.co.uk",
	),
	FamilyReach: crawler.NewSuffixMatcher(
		"*.manchestereveningnews.co.uk", "*.liverpoolecho.co.uk", "*.birminghammail.co.uk", "*.walesonline.co.uk",
		"*.chroniclelive.co.uk", "*.bristolpost.co.uk", "*.dailyrecord.co.uk", "*.mirror.co.uk",
		"*.express.co.uk", "*.irishmirror.ie", "*.belfastlive.co.uk",
	),
	FamilyJPI: crawler.NewSuffixMatcher(
		"*.yorkshireeveningpost.co.uk", "*.scotsman.com", "*.lep.co.uk", "*.thestar.co.uk",
		"*.newsletter.co.uk", "*.portsmouth.co.uk", "*.yorkshirepost.co.uk", "*.sunderlandecho.com",
	),
	FamilyRegionalSlug: crawler.NewSuffixMatcher(
		"*.patch.com", "*.localnewsnetwork.co.uk",
	),
}

// arcSites maps Arc XP hosted publishers to their site slug.
var arcSites = map[string]string{
	"irishtimes.com":     "irishtimes",
	"bostonglobe.com":    "bostonglobe",
	"startribune.com":    "startribune",
	"washingtonpost.com": "washpost",
	"independent.ie":     "independent",
	"thestar.com":        "thestar",
}

// familyDefaults are the profile defaults each family implies.
var familyDefaults = map[Family]DomainProfile{
	FamilyNewsquest: {
		SectionFallbacks: []string{"news", "local-news"},
		AlternateRoutes:  []RouteRule{{Route: resilient.RouteSectionRSS}, {Route: resilient.RouteAMPPath}},
		ArticlePatterns:  []string{`/news/\d+\.`},
	},
	FamilyReach: {
		SectionFallbacks: []string{"news", "local-news", "all-about"},
		AlternateRoutes:  []RouteRule{{Route: resilient.RouteSectionRSS}, {Route: resilient.RouteAMPQuery}},
		ArticlePatterns:  []string{`-\d{6,}$`},
		Accessibility:    &Accessibility{BypassHead: boolPtr(true)},
	},
	FamilyJPI: {
		SectionFallbacks: []string{"news", "news/crime", "news/politics"},
		AlternateRoutes:  []RouteRule{{Route: resilient.RouteSectionRSS}},
		ArticlePatterns:  []string{`-\d{7}$`},
	},
	FamilyRegionalSlug: {
		SectionFallbacks: []string{"news"},
		AlternateRoutes:  []RouteRule{{Route: resilient.RouteSectionRSS}},
	},
}

func boolPtr(v bool) *bool { return &v }

// InferFromURL derives a profile from the host name alone.
func InferFromURL(rawURL string) DomainProfile {
	host := crawler.NormalizeDomain(crawler.HostOf(rawURL))
	if host == "" {
		host = crawler.NormalizeDomain(rawURL)
	}
	var out DomainProfile
	for _, family := range []Family{FamilyNewsquest, FamilyReach, FamilyJPI, FamilyRegionalSlug} {
		if familyHosts[family].Match(host) {
			out = withFamily(family)
			break
		}
	}
	if site, ok := arcSites[crawler.RegistrableDomain(host)]; ok {
		out.ArcSite = site
		if out.Family == "" {
			out.Family = FamilyCustom
		}
	}
	if crawler.IsGovernmentDomain(host) {
		out.Accessibility = mergeAccessibility(out.Accessibility, &Accessibility{BypassHead: boolPtr(true)})
	}
	return out
}

// SourceMetadata carries source-level hints used when nothing is stored.
type SourceMetadata struct {
	PublisherHint string
	SourceName    string
	SourceType    string
}

// FromMetadata interprets a publisher hint. "arc:<slug>" names an Arc XP
// site; family names and common owner names select a family.
func FromMetadata(meta *SourceMetadata) DomainProfile {
	if meta == nil {
		return DomainProfile{}
	}
	hint := strings.ToLower(strings.TrimSpace(meta.PublisherHint))
	if slug, ok := strings.CutPrefix(hint, "arc:"); ok && slug != "" {
		return DomainProfile{Family: FamilyCustom, ArcSite: slug}
	}
	switch {
	case hint == "":
	case strings.Contains(hint, "newsquest"):
		return withFamily(FamilyNewsquest)
	case strings.Contains(hint, "reach"):
		return withFamily(FamilyReach)
	case strings.Contains(hint, "jpi"), strings.Contains(hint, "johnston"), strings.Contains(hint, "national world"):
		return withFamily(FamilyJPI)
	case strings.Contains(hint, "regional_slug"):
		return withFamily(FamilyRegionalSlug)
	}
	return DomainProfile{}
}

func withFamily(f Family) DomainProfile {
	out := familyDefaults[f].clone()
	out.Family = f
	return out
}

func mergeAccessibility(base, override *Accessibility) *Accessibility {
	merged := Merge(DomainProfile{Accessibility: base}, DomainProfile{Accessibility: override})
	return merged.Accessibility
}
