package crawler

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "mc_cid": {}, "mc_eid": {},
	"ocid": {}, "cmpid": {}, "ito": {}, "dclid": {}, "igshid": {},
}

// NormalizeURL produces the deduplication key for an article URL: the scheme,
// a leading "www.", the fragment, tracking parameters, and any trailing slash
// are removed, the host is lowercased, and the remaining query is sorted.
// Applying it twice yields the same value.
func NormalizeURL(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", fmt.Errorf("parse url: empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse url: missing host in %q", rawURL)
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimPrefix(host, "www.")

	var pairs []string
	for key, values := range u.Query() {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			continue
		}
		if _, drop := trackingParams[lower]; drop {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	sort.Strings(pairs)

	path := strings.TrimRight(u.EscapedPath(), "/")
	out := host + path
	if len(pairs) > 0 {
		out += "?" + strings.Join(pairs, "&")
	}
	return out, nil
}

// NormalizeDomain lowercases a host (or URL) and strips any port and leading
// "www.". It is the key for warm-up hints and profiles.
func NormalizeDomain(hostOrURL string) string {
	value := strings.TrimSpace(strings.ToLower(hostOrURL))
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil {
			value = u.Host
		}
	}
	if i := strings.IndexAny(value, "/?#"); i >= 0 {
		value = value[:i]
	}
	if h, _, err := net.SplitHostPort(value); err == nil {
		value = h
	}
	value = strings.TrimSuffix(value, ".")
	return strings.TrimPrefix(value, "www.")
}

// HostOf returns the lowercase hostname of rawURL without a port.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Origin returns scheme://host of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &ValidationError{URL: rawURL, Reason: "missing scheme or host"}
	}
	return u.Scheme + "://" + u.Host, nil
}

// ResolveReference resolves href against base, returning "" for unusable links.
func ResolveReference(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") ||
		strings.HasPrefix(strings.ToLower(href), "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

// RegistrableDomain returns the eTLD+1 for host, falling back to the
// normalized host when the public suffix list has no answer.
func RegistrableDomain(host string) string {
	host = NormalizeDomain(host)
	if host == "" {
		return ""
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// IsPrivateIP reports loopback, link-local, unspecified, and RFC1918/ULA addresses.
func IsPrivateIP(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsPrivate() {
		return true
	}
	for _, prefix := range privatePrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ValidatePublicURL checks that rawURL is http(s) and does not name a private
// host. Literal IPs are checked directly; names are checked lexically here
// and again at dial time by the fetch client.
func ValidatePublicURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &ValidationError{URL: rawURL, Reason: err.Error()}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, &ValidationError{URL: rawURL, Reason: "scheme must be http or https"}
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, &ValidationError{URL: rawURL, Reason: "missing host"}
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal") {
		return nil, &ValidationError{URL: rawURL, Reason: "local host not allowed"}
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil && endsInNumber(host) {
		// Resolvers accept shorthand, decimal and hex IPv4 forms such as
		// 127.1, 2130706433 and 0x7f000001.
		addr, err = parseIPv4Loose(host)
		if err != nil {
			return nil, &ValidationError{URL: rawURL, Reason: "malformed numeric host"}
		}
	}
	if err == nil && IsPrivateIP(addr) {
		return nil, &ValidationError{URL: rawURL, Reason: "private address not allowed"}
	}
	return u, nil
}

// endsInNumber reports whether the last label of host is a decimal or 0x
// hex number, which makes the whole host an IPv4 address.
func endsInNumber(host string) bool {
	last := host[strings.LastIndex(host, ".")+1:]
	if last == "" {
		return false
	}
	if rest, ok := strings.CutPrefix(last, "0x"); ok {
		_, err := strconv.ParseUint("0"+rest, 16, 64)
		return err == nil
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseIPv4Loose parses the one to four part inet_aton forms, where each
// part may be decimal, octal (leading 0) or hex (0x) and the last part fills
// the remaining bytes.
func parseIPv4Loose(host string) (netip.Addr, error) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return netip.Addr{}, fmt.Errorf("ipv4 %q: too many parts", host)
	}
	var v uint64
	for i, p := range parts {
		n, err := parseIPv4Part(p)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("ipv4 %q: %w", host, err)
		}
		if i < len(parts)-1 {
			if n > 0xff {
				return netip.Addr{}, fmt.Errorf("ipv4 %q: part %d out of range", host, i)
			}
			v = v<<8 | n
			continue
		}
		width := uint(8 * (5 - len(parts)))
		if n >= 1<<width {
			return netip.Addr{}, fmt.Errorf("ipv4 %q: last part out of range", host)
		}
		v = v<<width | n
	}
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), nil
}

func parseIPv4Part(p string) (uint64, error) {
	base := 10
	switch {
	case p == "":
		return 0, fmt.Errorf("empty part")
	case strings.HasPrefix(p, "0x"):
		p, base = p[2:], 16
		if p == "" {
			return 0, nil
		}
	case len(p) > 1 && p[0] == '0':
		p, base = p[1:], 8
	}
	n, err := strconv.ParseUint(p, base, 32)
	if err != nil {
		return 0, fmt.Errorf("part %q: %w", p, err)
	}
	return n, nil
}
