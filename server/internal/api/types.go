package api

import (
	"time"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/store"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State          string             `json:"state"`
	ParameterCount int                `json:"parameter_count"`
	BatchCount     int                `json:"batch_count"`
	SourceCount    int                `json:"source_count"`
	AlertCount     int                `json:"alert_count"`
	DataPoints     map[spc.Status]int `json:"data_points"`
}

// EvaluateRequest is the body of POST /api/v1/evaluate. Margin defaults to
// the server's configured warning margin when omitted.
type EvaluateRequest struct {
	Value  float64    `json:"value"`
	Limits spc.Limits `json:"limits"`
	Margin *float64   `json:"margin,omitempty"`
}

// EvaluateResponse is the payload for POST /api/v1/evaluate.
type EvaluateResponse struct {
	Status        spc.Status `json:"status"`
	Zone          spc.Zone   `json:"zone"`
	LimitsWarning string     `json:"limits_warning,omitempty"`
}

// ScoreRequest is the body of POST /api/v1/score.
type ScoreRequest struct {
	Outcomes []spc.Outcome `json:"outcomes"`
}

// DataPointRequest is the body of POST /api/v1/datapoints.
type DataPointRequest struct {
	ParameterID string    `json:"parameter_id"`
	BatchID     string    `json:"batch_id,omitempty"`
	Value       float64   `json:"value"`
	MeasuredAt  time.Time `json:"measured_at"`
}

// ApproveRequest is the body of POST /api/v1/batches/approve.
type ApproveRequest struct {
	BatchIDs []string `json:"batch_ids"`
}

// ApproveResponse reports how many batches were approved.
type ApproveResponse struct {
	Requested int `json:"requested"`
	Approved  int `json:"approved"`
}

// BulkBatchRequest is the body of POST /api/v1/batches/bulk.
type BulkBatchRequest struct {
	Count    int    `json:"count"`
	ItemCode string `json:"item_code"`
}

// BulkBatchResponse reports how many batches were created.
type BulkBatchResponse struct {
	Requested int `json:"requested"`
	Created   int `json:"created"`
}

// ComplianceResponse is a compliance result with its dashboard indicators.
type ComplianceResponse struct {
	spc.Result
	Indicators []Indicator `json:"indicators"`
}

// BatchResponse is a batch with its dashboard indicators.
type BatchResponse struct {
	store.Batch
	Indicators []Indicator `json:"indicators"`
}

// CertificateResponse is a certificate with its dashboard indicators.
type CertificateResponse struct {
	store.Certificate
	Indicators []Indicator `json:"indicators"`
}

// SourceResponse is one agent gateway in GET /api/v1/sources.
type SourceResponse struct {
	SourceID   string  `json:"source_id"`
	SourceType string  `json:"source_type,omitempty"`
	State      string  `json:"state"`
	UptimePct  float64 `json:"uptime_pct"`
	Points     int     `json:"points"`
	LastSeen   string  `json:"last_seen"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
