// Package store persists the quality records: parameter masters, evaluated
// data points, production batches and certificates of analysis.
//
// Store is implemented by Memory (maps behind an RWMutex) and SQL
// (database/sql over modernc.org/sqlite or pgx). Open picks the driver.
//
// Sources is a separate in-memory registry of agent gateways with TTL
// eviction; it holds reachability reports, not quality data.
package store
