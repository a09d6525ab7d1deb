// Package quality applies the SPC engine to stored records.
//
// Service evaluates incoming measurements against their parameter master,
// keeps batch and certificate dispositions in step with their test results,
// and computes process capability over recent data. Every recorded data
// point is handed to the configured Notifiers (alerts, metrics).
package quality
