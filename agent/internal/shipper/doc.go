// Package shipper posts measurement batches to spc-server as JSON over HTTP
// (POST /ingest/v1/datapoints).
//
// Shipper.Ship() is non-blocking: results are converted to an IngestRequest
// and placed in an in-memory channel (default capacity 1000). When the buffer
// is full the oldest entry is evicted so the latest readings are preserved.
//
// Shipper.Run() drains the buffer in a loop, backing off with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or server errors.
// 400, 401 and 403 responses discard the request immediately.
//
// Auth reuses the scraper transport: API key header, bearer token, basic
// auth or mTLS client certificates.
package shipper
