package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ambspc/spcengine/pkg/spc"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// StatusPending marks a data point that has been created but not measured yet.
const StatusPending spc.Status = "pending"

// QualityPending is the quality status of a batch with no test results.
const QualityPending = "Pending"

// QualityQuarantine holds a batch back from release until it is approved.
const QualityQuarantine = "Quarantine"

// Parameter is the master record of one SPC parameter.
type Parameter struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Unit      string     `json:"unit,omitempty"`
	Limits    spc.Limits `json:"limits"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DataPoint is one evaluated measurement.
type DataPoint struct {
	ID            string     `json:"id"`
	ParameterID   string     `json:"parameter_id"`
	ParameterName string     `json:"parameter_name,omitempty"`
	BatchID       string     `json:"batch_id,omitempty"`
	SourceID      string     `json:"source_id,omitempty"`
	Value         float64    `json:"value"`
	Status        spc.Status `json:"status"`
	Zone          spc.Zone   `json:"zone"`
	MeasuredAt    time.Time  `json:"measured_at"`
	RecordedAt    time.Time  `json:"recorded_at"`
}

// DataPointFilter narrows ListDataPoints. Empty fields match everything;
// a Limit of zero returns every match.
type DataPointFilter struct {
	ParameterID string
	BatchID     string
	Limit       int
}

func (f DataPointFilter) match(dp DataPoint) bool {
	return (f.ParameterID == "" || dp.ParameterID == f.ParameterID) &&
		(f.BatchID == "" || dp.BatchID == f.BatchID)
}

// TestResult is one quality test recorded against a batch or certificate.
type TestResult struct {
	Test    string `json:"test"`
	Status  string `json:"status"`
	Remarks string `json:"remarks,omitempty"`
}

// ParameterRow is one SPC parameter reading recorded against a batch or
// certificate, with the limits it was judged against.
type ParameterRow struct {
	ParameterID   string     `json:"parameter_id"`
	ParameterName string     `json:"parameter_name,omitempty"`
	Value         *float64   `json:"value,omitempty"`
	Limits        spc.Limits `json:"limits"`
	Status        spc.Status `json:"status,omitempty"`
}

// Batch is a production batch with its weights and quality results.
type Batch struct {
	ID             string         `json:"id"`
	ItemCode       string         `json:"item_code"`
	ItemName       string         `json:"item_name,omitempty"`
	ProductionDate time.Time      `json:"production_date"`
	ExpiryDate     time.Time      `json:"expiry_date"`
	Quantity       float64        `json:"quantity"`
	GrossWeight    float64        `json:"gross_weight"`
	TaraWeight     float64        `json:"tara_weight"`
	NetWeight      float64        `json:"net_weight"`
	QualityStatus  string         `json:"quality_status"`
	TestResults    []TestResult   `json:"test_results,omitempty"`
	Parameters     []ParameterRow `json:"parameters,omitempty"`
	Compliance     *spc.Result    `json:"compliance,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Certificate is a certificate of analysis issued for a batch.
type Certificate struct {
	ID            string         `json:"id"`
	BatchID       string         `json:"batch_id"`
	QualityTests  []TestResult   `json:"quality_tests,omitempty"`
	SPCParameters []ParameterRow `json:"spc_parameters,omitempty"`
	CpkValue      *float64       `json:"cpk_value,omitempty"`
	PpkValue      *float64       `json:"ppk_value,omitempty"`
	Compliance    *spc.Result    `json:"compliance,omitempty"`
	IssuedAt      time.Time      `json:"issued_at"`
}

// Store persists parameters, data points, batches and certificates.
// Implementations are safe for concurrent use.
type Store interface {
	PutParameter(ctx context.Context, p Parameter) (Parameter, error)
	GetParameter(ctx context.Context, id string) (Parameter, error)
	ListParameters(ctx context.Context) ([]Parameter, error)

	// AddDataPoint assigns an ID and RecordedAt when they are empty.
	AddDataPoint(ctx context.Context, dp DataPoint) (DataPoint, error)
	// ListDataPoints returns matches newest first by MeasuredAt.
	ListDataPoints(ctx context.Context, f DataPointFilter) ([]DataPoint, error)
	// CountDataPoints returns the number of stored data points per status.
	CountDataPoints(ctx context.Context) (map[spc.Status]int, error)

	PutBatch(ctx context.Context, b Batch) (Batch, error)
	GetBatch(ctx context.Context, id string) (Batch, error)
	ListBatches(ctx context.Context) ([]Batch, error)

	PutCertificate(ctx context.Context, c Certificate) (Certificate, error)
	GetCertificate(ctx context.Context, id string) (Certificate, error)

	Close() error
}

// sortNewestFirst orders data points by MeasuredAt descending; ties keep
// insertion order reversed so the latest write comes first.
func sortNewestFirst(dps []DataPoint) {
	slices.Reverse(dps)
	slices.SortStableFunc(dps, func(a, b DataPoint) int {
		return b.MeasuredAt.Compare(a.MeasuredAt)
	})
}

func cloneBatch(b Batch) Batch {
	b.TestResults = slices.Clone(b.TestResults)
	b.Parameters = slices.Clone(b.Parameters)
	if b.Compliance != nil {
		c := *b.Compliance
		b.Compliance = &c
	}
	return b
}

func cloneCertificate(c Certificate) Certificate {
	c.QualityTests = slices.Clone(c.QualityTests)
	c.SPCParameters = slices.Clone(c.SPCParameters)
	if c.Compliance != nil {
		r := *c.Compliance
		c.Compliance = &r
	}
	return c
}
