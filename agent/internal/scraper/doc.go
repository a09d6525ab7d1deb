// Package scraper polls line gateways for process measurements.
//
// Each scraper fetches one gateway endpoint and returns a ScrapeResult
// holding Readings already mapped onto SPC parameter ids via the source's
// parameter mappings. Unmapped metrics are ignored.
//
// Implemented scrapers: Prometheus text exposition (prometheus.go) and the
// JSON readings document served by simpler gateways (json.go).
// Factory: New(config.Source) returns the correct Scraper.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the
// shared authRoundTripper in base.go; individual scrapers receive a
// pre-configured *http.Client from New().
package scraper
