// Package compute turns raw scraper output into measurements ready to ship.
//
// The stateful Engine tracks per-source reachability over a rolling window of
// scrapes and suppresses timestamped samples it has already emitted, so a
// gateway that keeps exposing its last reading does not inflate the data set.
// Engine.Process accepts an injectable time.Time so tests are deterministic.
//
// Source states: reachable, unreachable (after at least one success), unknown.
package compute
