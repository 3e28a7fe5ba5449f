// Package resilient is the adaptive retry engine: identity rotation, cookie
// warm-up, ranged fallbacks and alternate URL routes over a single Fetcher.
package resilient
