// Package crawler holds the model shared by the acquisition core: fetch
// identities and retry policies, per-domain warm-up hints, article records,
// scraping results, and the typed error taxonomy used across the fetch,
// discovery, and scheduling layers.
package crawler
