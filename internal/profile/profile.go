// Package profile resolves per-domain scraping configuration from layered
// sources: URL-pattern inference, source metadata, and global, tenant and
// topic overrides.
package profile

import (
	"fmt"
	"time"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/resilient"
)

// Family names a known content-platform family.
type Family string

// Known families.
const (
	FamilyNewsquest    Family = "newsquest"
	FamilyReach        Family = "reach"
	FamilyJPI          Family = "jpi"
	FamilyRegionalSlug Family = "regional_slug"
	FamilyCustom       Family = "custom"
)

// Valid reports whether f is empty or known.
func (f Family) Valid() bool {
	switch f {
	case "", FamilyNewsquest, FamilyReach, FamilyJPI, FamilyRegionalSlug, FamilyCustom:
		return true
	default:
		return false
	}
}

// RouteRule enables one alternate route, optionally only under conditions
// such as a diagnosis name.
type RouteRule struct {
	Route      string   `yaml:"route" json:"route"`
	Conditions []string `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Accessibility tunes the prober.
type Accessibility struct {
	BypassHead *bool          `yaml:"bypass_head,omitempty" json:"bypass_head,omitempty"`
	Timeout    *time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Warmup tunes cookie warm-up.
type Warmup struct {
	Enabled *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Delay   *time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// ScrapingStrategy narrows discovery.
type ScrapingStrategy struct {
	Preferred string        `yaml:"preferred,omitempty" json:"preferred,omitempty"`
	Skip      []string      `yaml:"skip,omitempty" json:"skip,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// DomainProfile is the merged configuration for one domain. Every field is
// optional.
type DomainProfile struct {
	Family           Family            `yaml:"family,omitempty" json:"family,omitempty"`
	ArcSite          string            `yaml:"arc_site,omitempty" json:"arc_site,omitempty"`
	SectionFallbacks []string          `yaml:"section_fallbacks,omitempty" json:"section_fallbacks,omitempty"`
	AlternateRoutes  []RouteRule       `yaml:"alternate_routes,omitempty" json:"alternate_routes,omitempty"`
	Accessibility    *Accessibility    `yaml:"accessibility,omitempty" json:"accessibility,omitempty"`
	Warmup           *Warmup           `yaml:"warmup,omitempty" json:"warmup,omitempty"`
	ScrapingStrategy *ScrapingStrategy `yaml:"scraping_strategy,omitempty" json:"scraping_strategy,omitempty"`
	CategoryPatterns []string          `yaml:"category_patterns,omitempty" json:"category_patterns,omitempty"`
	ArticlePatterns  []string          `yaml:"article_patterns,omitempty" json:"article_patterns,omitempty"`
	BodySelectors    []string          `yaml:"body_selectors,omitempty" json:"body_selectors,omitempty"`
	NoiseSelectors   []string          `yaml:"noise_selectors,omitempty" json:"noise_selectors,omitempty"`
}

// IsZero reports whether nothing is set.
func (p DomainProfile) IsZero() bool {
	return p.Family == "" && p.ArcSite == "" && len(p.SectionFallbacks) == 0 && len(p.AlternateRoutes) == 0 &&
		p.Accessibility == nil && p.Warmup == nil && p.ScrapingStrategy == nil &&
		len(p.CategoryPatterns) == 0 && len(p.ArticlePatterns) == 0 &&
		len(p.BodySelectors) == 0 && len(p.NoiseSelectors) == 0
}

// Validate checks enumerations and strategy names.
func (p DomainProfile) Validate() error {
	if !p.Family.Valid() {
		return fmt.Errorf("unknown family %q", p.Family)
	}
	for _, rule := range p.AlternateRoutes {
		if !knownRoute(rule.Route) {
			return fmt.Errorf("unknown alternate route %q", rule.Route)
		}
	}
	if s := p.ScrapingStrategy; s != nil {
		if s.Preferred != "" && !crawler.KnownStrategy(s.Preferred) {
			return fmt.Errorf("unknown preferred strategy %q", s.Preferred)
		}
		for _, name := range s.Skip {
			if !crawler.KnownStrategy(name) {
				return fmt.Errorf("unknown skipped strategy %q", name)
			}
		}
		if s.Timeout < 0 {
			return fmt.Errorf("scraping timeout must be >= 0")
		}
	}
	if a := p.Accessibility; a != nil && a.Timeout != nil && *a.Timeout < 0 {
		return fmt.Errorf("accessibility timeout must be >= 0")
	}
	return nil
}

func knownRoute(name string) bool {
	for _, r := range resilient.DefaultRouteOrder {
		if r == name {
			return true
		}
	}
	return false
}

// Merge layers override onto base. Scalars and ScrapingStrategy are shallow
// overrides, Accessibility and Warmup merge field by field, and list fields
// take the override's list whole when it is non-empty.
func Merge(base, override DomainProfile) DomainProfile {
	out := base.clone()
	if override.Family != "" {
		out.Family = override.Family
	}
	if override.ArcSite != "" {
		out.ArcSite = override.ArcSite
	}
	out.SectionFallbacks = pickList(out.SectionFallbacks, override.SectionFallbacks)
	if len(override.AlternateRoutes) > 0 {
		out.AlternateRoutes = append([]RouteRule(nil), override.AlternateRoutes...)
	}
	out.CategoryPatterns = pickList(out.CategoryPatterns, override.CategoryPatterns)
	out.ArticlePatterns = pickList(out.ArticlePatterns, override.ArticlePatterns)
	out.BodySelectors = pickList(out.BodySelectors, override.BodySelectors)
	out.NoiseSelectors = pickList(out.NoiseSelectors, override.NoiseSelectors)

	if a := override.Accessibility; a != nil {
		if out.Accessibility == nil {
			out.Accessibility = &Accessibility{}
		}
		if a.BypassHead != nil {
			v := *a.BypassHead
			out.Accessibility.BypassHead = &v
		}
		if a.Timeout != nil {
			v := *a.Timeout
			out.Accessibility.Timeout = &v
		}
	}
	if w := override.Warmup; w != nil {
		if out.Warmup == nil {
			out.Warmup = &Warmup{}
		}
		if w.Enabled != nil {
			v := *w.Enabled
			out.Warmup.Enabled = &v
		}
		if w.Delay != nil {
			v := *w.Delay
			out.Warmup.Delay = &v
		}
	}
	if s := override.ScrapingStrategy; s != nil {
		cp := *s
		cp.Skip = append([]string(nil), s.Skip...)
		out.ScrapingStrategy = &cp
	}
	return out
}

func pickList(base, override []string) []string {
	if len(override) > 0 {
		return append([]string(nil), override...)
	}
	return base
}

func (p DomainProfile) clone() DomainProfile {
	out := p
	out.SectionFallbacks = append([]string(nil), p.SectionFallbacks...)
	out.AlternateRoutes = append([]RouteRule(nil), p.AlternateRoutes...)
	out.CategoryPatterns = append([]string(nil), p.CategoryPatterns...)
	out.ArticlePatterns = append([]string(nil), p.ArticlePatterns...)
	out.BodySelectors = append([]string(nil), p.BodySelectors...)
	out.NoiseSelectors = append([]string(nil), p.NoiseSelectors...)
	if p.Accessibility != nil {
		a := *p.Accessibility
		out.Accessibility = &a
	}
	if p.Warmup != nil {
		w := *p.Warmup
		out.Warmup = &w
	}
	if p.ScrapingStrategy != nil {
		s := *p.ScrapingStrategy
		s.Skip = append([]string(nil), p.ScrapingStrategy.Skip...)
		out.ScrapingStrategy = &s
	}
	return out
}

// BypassHead reports the accessibility hint.
func (p DomainProfile) BypassHead() bool {
	return p.Accessibility != nil && p.Accessibility.BypassHead != nil && *p.Accessibility.BypassHead
}

// ProbeTimeout returns the accessibility timeout or zero.
func (p DomainProfile) ProbeTimeout() time.Duration {
	if p.Accessibility == nil || p.Accessibility.Timeout == nil {
		return 0
	}
	return *p.Accessibility.Timeout
}

// WarmupEnabled defaults to true.
func (p DomainProfile) WarmupEnabled() bool {
	return p.Warmup == nil || p.Warmup.Enabled == nil || *p.Warmup.Enabled
}

// Routes returns the enabled alternate strategies for a diagnosis, in
// profile order. Rules without conditions always apply.
func (p DomainProfile) Routes(diag crawler.Diagnosis) []string {
	var out []string
	for _, rule := range p.AlternateRoutes {
		if len(rule.Conditions) == 0 {
			out = append(out, rule.Route)
			continue
		}
		for _, c := range rule.Conditions {
			if c == string(diag) {
				out = append(out, rule.Route)
				break
			}
		}
	}
	return out
}

// Strategies returns the discovery order after applying the preferred
// strategy and skip list. The preferred strategy moves to the front.
func (p DomainProfile) Strategies() []string {
	order := append([]string(nil), crawler.StrategyOrder...)
	s := p.ScrapingStrategy
	if s == nil {
		return order
	}
	skip := make(map[string]struct{}, len(s.Skip))
	for _, name := range s.Skip {
		skip[name] = struct{}{}
	}
	out := make([]string, 0, len(order))
	if s.Preferred != "" {
		if _, skipped := skip[s.Preferred]; !skipped {
			out = append(out, s.Preferred)
		}
	}
	for _, name := range order {
		if name == s.Preferred {
			continue
		}
		if _, skipped := skip[name]; skipped {
			continue
		}
		out = append(out, name)
	}
	return out
}
