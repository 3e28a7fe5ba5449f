package collyfetcher

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

func newHTTPTransport(cfg Config) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !cfg.AllowPrivateHosts {
		dialer.Control = refusePrivateDestinations
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return transport, nil
}

// refusePrivateDestinations runs after DNS resolution, so a public name that
// resolves to a private address is still refused.
func refusePrivateDestinations(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return &crawler.ValidationError{URL: address, Reason: err.Error()}
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return &crawler.ValidationError{URL: address, Reason: err.Error()}
	}
	if crawler.IsPrivateIP(addr) {
		return &crawler.ValidationError{URL: address, Reason: "resolved to a private address"}
	}
	return nil
}
