package types

import "time"

// IngestRequest is the body of POST /ingest/v1/datapoints.
type IngestRequest struct {
	SourceID   string    `json:"source_id"`
	SourceType string    `json:"source_type"`
	State      string    `json:"state"`
	UptimePct  float64   `json:"uptime_pct"`
	SentAt     time.Time `json:"sent_at"`
	Points     []Point   `json:"points"`
}

// Point is one measurement as read from a line gateway.
type Point struct {
	ParameterID string    `json:"parameter_id"`
	BatchID     string    `json:"batch_id,omitempty"`
	Value       float64   `json:"value"`
	MeasuredAt  time.Time `json:"measured_at"`
}

// IngestResponse reports how many points the server accepted.
type IngestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}
