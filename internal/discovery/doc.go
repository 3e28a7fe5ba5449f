// Package discovery finds and extracts the recent articles of one source.
//
// The Orchestrator probes the source, resolves its domain profile, then runs
// the platform-API, structured-data, feed, sitemap and heuristic strategies
// in order until one yields at least one qualified article.
package discovery
