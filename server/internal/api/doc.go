// Package api implements the HTTP REST API for spc-server.
//
// New(svc, store, alerts, sources) returns an http.Handler that serves:
//
//	GET  /api/v1/health                        record counts, data points per status
//	POST /api/v1/evaluate                      value + limits -> status + zone
//	POST /api/v1/score                         outcomes -> compliance result
//	GET  /api/v1/parameters                    parameter masters
//	GET  /api/v1/parameters/{id}               one parameter; 404 if unknown
//	PUT  /api/v1/parameters/{id}               create or replace a parameter
//	GET  /api/v1/parameters/{id}/capability    Cp/Cpk/Pp/Ppk over recent data points
//	GET  /api/v1/datapoints                    newest first; ?parameter= &batch= &limit=
//	POST /api/v1/datapoints                    record a manual measurement
//	GET  /api/v1/batches                       batches with indicators
//	GET  /api/v1/batches/{id}                  one batch
//	PUT  /api/v1/batches/{id}                  create or replace a batch
//	GET  /api/v1/batches/{id}/compliance       test compliance of a batch
//	POST /api/v1/batches/approve               approve a list of batches
//	POST /api/v1/batches/bulk                  create pending batches for today
//	POST /api/v1/batches/{id}/datapoint        unsaved data point template
//	GET  /api/v1/certificates/{id}             one certificate of analysis
//	PUT  /api/v1/certificates/{id}             create or replace a certificate
//	GET  /api/v1/certificates/{id}/compliance  pooled test + parameter compliance
//	GET  /api/v1/alerts                        firing and recently resolved alerts
//	GET  /api/v1/sources                       agent gateways seen within the TTL
//
// Every response is JSON. Unknown records map to 404, invalid input to 400
// and capability requests without enough usable data to 422. Batch,
// certificate and compliance payloads carry coloured dashboard Indicators.
// Routing uses the method-aware patterns of net/http ServeMux.
package api
