// Package types defines the JSON wire types exchanged between spc-agent and
// spc-server over the ingest endpoint.
package types
