package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/config"
	"github.com/ambspc/spcengine/server/internal/store"
)

var (
	// ErrUnknownParameter is returned when a measurement or capability
	// request names a parameter with no master record.
	ErrUnknownParameter = errors.New("quality: unknown parameter")

	// ErrInvalid wraps every validation failure of caller input.
	ErrInvalid = errors.New("quality: invalid input")
)

// Notifier receives every data point the service records.
type Notifier interface {
	Notify(dp store.DataPoint)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(dp store.DataPoint)

// Notify calls f(dp).
func (f NotifierFunc) Notify(dp store.DataPoint) { f(dp) }

// Service is safe for concurrent use when its Store is.
type Service struct {
	store     store.Store
	margin    float64
	window    int
	scorer    *spc.Scorer
	notifiers []Notifier
	now       func() time.Time
}

// New returns a Service over st. cfg supplies the warning margin and the
// capability window.
func New(st store.Store, cfg config.QualityConfig, notifiers ...Notifier) *Service {
	window := cfg.CapabilityWindow
	if window < 2 {
		window = config.DefaultCapabilityWindow
	}
	return &Service{
		store:     st,
		margin:    cfg.WarningMargin,
		window:    window,
		scorer:    spc.NewScorer(),
		notifiers: notifiers,
		now:       time.Now,
	}
}

// WarningMargin is the margin used to classify warning zones.
func (s *Service) WarningMargin() float64 { return s.margin }

// Score pools outcomes with the service's scorer.
func (s *Service) Score(outcomes []spc.Outcome) spc.Result {
	return s.scorer.Score(outcomes)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// RecordMeasurement evaluates m against its parameter's limits, stores the
// resulting data point and notifies every Notifier.
func (s *Service) RecordMeasurement(ctx context.Context, sourceID string, m spc.Measurement) (store.DataPoint, error) {
	if m.ParameterID == "" {
		return store.DataPoint{}, invalid("parameter id is required")
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return store.DataPoint{}, invalid("value of %q is not a finite number", m.ParameterID)
	}

	p, err := s.store.GetParameter(ctx, m.ParameterID)
	if errors.Is(err, store.ErrNotFound) {
		return store.DataPoint{}, fmt.Errorf("%w: %q", ErrUnknownParameter, m.ParameterID)
	}
	if err != nil {
		return store.DataPoint{}, fmt.Errorf("quality: load parameter %q: %w", m.ParameterID, err)
	}

	if m.Time.IsZero() {
		m.Time = s.now().UTC()
	}
	ev := spc.EvaluateMeasurement(m, p.Limits, s.margin)

	dp, err := s.store.AddDataPoint(ctx, store.DataPoint{
		ParameterID:   m.ParameterID,
		ParameterName: p.Name,
		BatchID:       m.BatchID,
		SourceID:      sourceID,
		Value:         m.Value,
		Status:        ev.Status,
		Zone:          ev.Zone,
		MeasuredAt:    m.Time,
	})
	if err != nil {
		return store.DataPoint{}, fmt.Errorf("quality: store data point: %w", err)
	}

	if dp.Status == spc.StatusOutOfControl {
		slog.Warn("quality: parameter out of control",
			"parameter", dp.ParameterID, "batch", dp.BatchID, "value", dp.Value, "source", sourceID)
	}
	for _, n := range s.notifiers {
		n.Notify(dp)
	}
	return dp, nil
}

// SaveParameter validates and stores a parameter master record.
func (s *Service) SaveParameter(ctx context.Context, p store.Parameter) (store.Parameter, error) {
	if p.ID == "" {
		return store.Parameter{}, invalid("parameter id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if err := p.Limits.Validate(); err != nil {
		return store.Parameter{}, fmt.Errorf("%w: parameter %q: %w", ErrInvalid, p.ID, err)
	}
	saved, err := s.store.PutParameter(ctx, p)
	if err != nil {
		return store.Parameter{}, fmt.Errorf("quality: save parameter: %w", err)
	}
	return saved, nil
}

// SaveBatch validates b, derives its net weight, evaluates its parameter
// rows and sets its quality status from its test results before storing it.
func (s *Service) SaveBatch(ctx context.Context, b store.Batch) (store.Batch, error) {
	if b.ItemCode == "" {
		return store.Batch{}, invalid("item code is required")
	}
	if b.ProductionDate.IsZero() {
		return store.Batch{}, invalid("production date is required")
	}
	if !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(b.ProductionDate) {
		return store.Batch{}, invalid("expiry date %s precedes production date %s",
			b.ExpiryDate.Format(time.DateOnly), b.ProductionDate.Format(time.DateOnly))
	}
	if b.Quantity < 0 {
		return store.Batch{}, invalid("quantity must not be negative")
	}
	if b.GrossWeight < 0 || b.TaraWeight < 0 {
		return store.Batch{}, invalid("weights must not be negative")
	}
	if b.TaraWeight > b.GrossWeight {
		return store.Batch{}, invalid("tara weight %.3f exceeds gross weight %.3f", b.TaraWeight, b.GrossWeight)
	}
	b.NetWeight = b.GrossWeight - b.TaraWeight

	rows, err := s.evaluateRows(ctx, b.Parameters)
	if err != nil {
		return store.Batch{}, err
	}
	b.Parameters = rows
	for _, r := range rows {
		if r.Status == spc.StatusOutOfControl {
			slog.Warn("quality: batch parameter out of control",
				"batch", b.ID, "parameter", r.ParameterID)
		}
	}

	if len(b.TestResults) > 0 {
		res := s.scorer.Score(testOutcomes(b.TestResults))
		b.Compliance = &res
		b.QualityStatus = string(res.Disposition)
	} else if b.QualityStatus != store.QualityQuarantine {
		b.Compliance = nil
		b.QualityStatus = store.QualityPending
	} else {
		b.Compliance = nil
	}

	saved, err := s.store.PutBatch(ctx, b)
	if err != nil {
		return store.Batch{}, fmt.Errorf("quality: save batch: %w", err)
	}
	slog.Info("quality: batch saved",
		"batch", saved.ID, "status", saved.QualityStatus, "tests", len(saved.TestResults))
	return saved, nil
}

// BatchCompliance scores a batch's test results.
func (s *Service) BatchCompliance(ctx context.Context, id string) (spc.Result, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return spc.Result{}, fmt.Errorf("quality: batch %q: %w", id, err)
	}
	return s.scorer.Score(testOutcomes(b.TestResults)), nil
}

// SaveCertificate evaluates the certificate's SPC rows, scores tests and
// parameters together and stores it. The batch must exist.
func (s *Service) SaveCertificate(ctx context.Context, c store.Certificate) (store.Certificate, error) {
	if c.BatchID == "" {
		return store.Certificate{}, invalid("batch id is required")
	}
	if _, err := s.store.GetBatch(ctx, c.BatchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Certificate{}, invalid("batch %q does not exist", c.BatchID)
		}
		return store.Certificate{}, fmt.Errorf("quality: load batch %q: %w", c.BatchID, err)
	}

	rows, err := s.evaluateRows(ctx, c.SPCParameters)
	if err != nil {
		return store.Certificate{}, err
	}
	c.SPCParameters = rows

	res := s.scorer.Score(certificateOutcomes(c))
	c.Compliance = &res

	saved, err := s.store.PutCertificate(ctx, c)
	if err != nil {
		return store.Certificate{}, fmt.Errorf("quality: save certificate: %w", err)
	}
	return saved, nil
}

// CertificateCompliance pools a certificate's quality tests and SPC
// parameter rows into one score.
func (s *Service) CertificateCompliance(ctx context.Context, id string) (spc.Result, error) {
	c, err := s.store.GetCertificate(ctx, id)
	if err != nil {
		return spc.Result{}, fmt.Errorf("quality: certificate %q: %w", id, err)
	}
	return s.scorer.Score(certificateOutcomes(c)), nil
}

// CapabilityReport is the capability of one parameter with its ratings.
type CapabilityReport struct {
	ParameterID string `json:"parameter_id"`
	spc.CapabilityIndices
	CpkRating spc.CapabilityRating `json:"cpk_rating"`
	PpkRating spc.CapabilityRating `json:"ppk_rating"`
}

// ParameterCapability computes Cp/Cpk/Pp/Ppk over the most recent data
// points of a parameter, in measurement order.
func (s *Service) ParameterCapability(ctx context.Context, id string) (CapabilityReport, error) {
	p, err := s.store.GetParameter(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return CapabilityReport{}, fmt.Errorf("%w: %q", ErrUnknownParameter, id)
	}
	if err != nil {
		return CapabilityReport{}, fmt.Errorf("quality: load parameter %q: %w", id, err)
	}

	dps, err := s.store.ListDataPoints(ctx, store.DataPointFilter{ParameterID: id, Limit: s.window})
	if err != nil {
		return CapabilityReport{}, fmt.Errorf("quality: load data points: %w", err)
	}
	slices.Reverse(dps)
	values := make([]float64, 0, len(dps))
	for _, dp := range dps {
		if dp.Status != store.StatusPending {
			values = append(values, dp.Value)
		}
	}

	idx, err := spc.Capability(values, p.Limits)
	if err != nil {
		return CapabilityReport{}, fmt.Errorf("%w: parameter %q: %w", ErrInvalid, id, err)
	}
	return CapabilityReport{
		ParameterID:       id,
		CapabilityIndices: idx,
		CpkRating:         spc.RateCapability(idx.Cpk),
		PpkRating:         spc.RateCapability(idx.Ppk),
	}, nil
}

// Approve marks every listed batch Approved and returns how many it
// updated. Unknown ids are skipped.
func (s *Service) Approve(ctx context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		b, err := s.store.GetBatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("quality: approve skipped unknown batch", "batch", id)
			continue
		}
		if err != nil {
			return n, fmt.Errorf("quality: load batch %q: %w", id, err)
		}
		b.QualityStatus = string(spc.DispositionApproved)
		if _, err := s.store.PutBatch(ctx, b); err != nil {
			return n, fmt.Errorf("quality: approve batch %q: %w", id, err)
		}
		n++
	}
	slog.Info("quality: batches approved", "requested", len(ids), "approved", n)
	return n, nil
}

// NewDataPointForBatch returns an unsaved data point template for a batch,
// ready for an operator to fill in the parameter and value.
func (s *Service) NewDataPointForBatch(ctx context.Context, batchID string) (store.DataPoint, error) {
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return store.DataPoint{}, fmt.Errorf("quality: batch %q: %w", batchID, err)
	}
	return store.DataPoint{
		BatchID:    batchID,
		Status:     store.StatusPending,
		Zone:       spc.ZoneUnknown,
		MeasuredAt: s.now().UTC(),
	}, nil
}

// evaluateRows sets each row's status from its value. A row with incomplete
// limits falls back to its parameter master's limits; a row without a value
// keeps the status it was given, or becomes unassessed.
func (s *Service) evaluateRows(ctx context.Context, rows []store.ParameterRow) ([]store.ParameterRow, error) {
	out := slices.Clone(rows)
	for i := range out {
		r := &out[i]
		if r.ParameterID != "" && (!r.Limits.Complete() || r.ParameterName == "") {
			p, err := s.store.GetParameter(ctx, r.ParameterID)
			switch {
			case err == nil:
				if !r.Limits.Complete() {
					r.Limits = p.Limits
				}
				if r.ParameterName == "" {
					r.ParameterName = p.Name
				}
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("quality: load parameter %q: %w", r.ParameterID, err)
			}
		}
		switch {
		case r.Value != nil:
			r.Status = spc.Evaluate(*r.Value, r.Limits)
		case r.Status == "":
			r.Status = spc.StatusUnassessed
		}
	}
	return out, nil
}

func testOutcomes(tests []store.TestResult) []spc.Outcome {
	out := make([]spc.Outcome, 0, len(tests))
	for _, t := range tests {
		out = append(out, spc.Outcome{Kind: spc.KindTest, Status: t.Status})
	}
	return out
}

func certificateOutcomes(c store.Certificate) []spc.Outcome {
	out := testOutcomes(c.QualityTests)
	for _, r := range c.SPCParameters {
		out = append(out, spc.Outcome{Kind: spc.KindParameter, Status: string(r.Status)})
	}
	return out
}

// maxBulkBatches caps a single CreateBatches call.
const maxBulkBatches = 100

// CreateBatches creates count empty batches of itemCode produced today, with
// ids AMB-BATCH-<date>-NNN. Ids already taken and batches that fail to save
// are skipped; the number actually created is returned.
func (s *Service) CreateBatches(ctx context.Context, count int, itemCode string) (int, error) {
	if count < 1 || count > maxBulkBatches {
		return 0, invalid("count must be between 1 and %d", maxBulkBatches)
	}
	if itemCode == "" {
		return 0, invalid("item code is required")
	}

	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	created := 0
	for i := range count {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		id := fmt.Sprintf("AMB-BATCH-%s-%03d", day.Format(time.DateOnly), i+1)
		if _, err := s.store.GetBatch(ctx, id); err == nil {
			slog.Debug("quality: batch id taken, skipping", "batch", id)
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("quality: bulk batch lookup failed", "batch", id, "err", err)
			continue
		}
		_, err := s.SaveBatch(ctx, store.Batch{ID: id, ItemCode: itemCode, ProductionDate: day})
		if err != nil {
			slog.Warn("quality: bulk batch create failed", "batch", id, "err", err)
			continue
		}
		created++
	}
	slog.Info("quality: bulk batches created",
		"item", itemCode, "requested", count, "created", created)
	return created, nil
}
