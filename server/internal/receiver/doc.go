// Package receiver implements the HTTP ingest endpoint that accepts
// measurement batches (types.IngestRequest) from spc-agent instances.
//
// Receiver.ServeHTTP rejects a body without source_id with 400, then hands
// each point to the quality service. Points that fail evaluation are counted
// in the response and the remainder are stored, so one bad reading never
// drops a whole batch. The sender's reachability state is recorded in the
// store.Sources registry. Authentication is enforced upstream by the HTTP
// middleware in package auth.
package receiver
