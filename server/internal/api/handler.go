package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/alerts"
	"github.com/ambspc/spcengine/server/internal/quality"
	"github.com/ambspc/spcengine/server/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 1 << 20
)

// manualSourceID marks data points entered through the API rather than
// shipped by an agent.
const manualSourceID = "manual"

// AlertLister returns the currently active alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// Writes go through the quality service; reads go straight to the store.
type Handler struct {
	svc     *quality.Service
	store   store.Store
	alerts  AlertLister
	sources *store.Sources
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes. al and sources may be nil.
func New(svc *quality.Service, st store.Store, al AlertLister, sources *store.Sources) http.Handler {
	h := &Handler{svc: svc, store: st, alerts: al, sources: sources, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /api/v1/health", h.health)
	h.mux.HandleFunc("POST /api/v1/evaluate", h.evaluate)
	h.mux.HandleFunc("POST /api/v1/score", h.score)

	h.mux.HandleFunc("GET /api/v1/parameters", h.listParameters)
	h.mux.HandleFunc("GET /api/v1/parameters/{id}", h.getParameter)
	h.mux.HandleFunc("PUT /api/v1/parameters/{id}", h.putParameter)
	h.mux.HandleFunc("GET /api/v1/parameters/{id}/capability", h.capability)

	h.mux.HandleFunc("GET /api/v1/datapoints", h.listDataPoints)
	h.mux.HandleFunc("POST /api/v1/datapoints", h.addDataPoint)

	h.mux.HandleFunc("GET /api/v1/batches", h.listBatches)
	h.mux.HandleFunc("POST /api/v1/batches/approve", h.approve)
	h.mux.HandleFunc("POST /api/v1/batches/bulk", h.bulkBatches)
	h.mux.HandleFunc("GET /api/v1/batches/{id}", h.getBatch)
	h.mux.HandleFunc("PUT /api/v1/batches/{id}", h.putBatch)
	h.mux.HandleFunc("GET /api/v1/batches/{id}/compliance", h.batchCompliance)
	h.mux.HandleFunc("POST /api/v1/batches/{id}/datapoint", h.batchDataPoint)

	h.mux.HandleFunc("GET /api/v1/certificates/{id}", h.getCertificate)
	h.mux.HandleFunc("PUT /api/v1/certificates/{id}", h.putCertificate)
	h.mux.HandleFunc("GET /api/v1/certificates/{id}/compliance", h.certificateCompliance)

	h.mux.HandleFunc("GET /api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("GET /api/v1/sources", h.listSources)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: record counts and per-status data point totals.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := h.store.CountDataPoints(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}
	params, err := h.store.ListParameters(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}
	batches, err := h.store.ListBatches(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := HealthResponse{
		State:          "ok",
		ParameterCount: len(params),
		BatchCount:     len(batches),
		DataPoints:     counts,
	}
	if h.sources != nil {
		resp.SourceCount = len(h.sources.List())
	}
	if h.alerts != nil {
		resp.AlertCount = len(h.alerts.Active())
	}
	jsonResp(w, http.StatusOK, resp)
}

// evaluate returns POST /api/v1/evaluate: control status and zone of one value.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	margin := h.svc.WarningMargin()
	if req.Margin != nil {
		margin = *req.Margin
	}
	resp := EvaluateResponse{
		Status: spc.Evaluate(req.Value, req.Limits),
		Zone:   spc.Classify(req.Value, req.Limits, margin),
	}
	// Inverted limits still evaluate (everything is out of control); the
	// problem is reported next to the result rather than refused.
	if err := req.Limits.Validate(); err != nil {
		resp.LimitsWarning = err.Error()
	}
	jsonResp(w, http.StatusOK, resp)
}

// score returns POST /api/v1/score: the compliance result of raw outcomes.
func (h *Handler) score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := h.svc.Score(req.Outcomes)
	jsonResp(w, http.StatusOK, ComplianceResponse{
		Result:     res,
		Indicators: []Indicator{complianceIndicator("Compliance", res)},
	})
}

func (h *Handler) listParameters(w http.ResponseWriter, r *http.Request) {
	params, err := h.store.ListParameters(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, nonNil(params))
}

func (h *Handler) getParameter(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetParameter(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// putParameter creates or replaces a parameter master; the path id wins
// over any id in the body.
func (h *Handler) putParameter(w http.ResponseWriter, r *http.Request) {
	var p store.Parameter
	if !decodeBody(w, r, &p) {
		return
	}
	p.ID = r.PathValue("id")
	saved, err := h.svc.SaveParameter(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, saved)
}

// capability returns GET /api/v1/parameters/{id}/capability.
func (h *Handler) capability(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.ParameterCapability(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, struct {
		quality.CapabilityReport
		Indicators []Indicator `json:"indicators"`
	}{
		CapabilityReport: rep,
		Indicators:       []Indicator{capabilityIndicator("Cpk", rep.Cpk), capabilityIndicator("Ppk", rep.Ppk)},
	})
}

// listDataPoints returns GET /api/v1/datapoints?parameter=&batch=&limit=,
// newest first.
func (h *Handler) listDataPoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	dps, err := h.store.ListDataPoints(r.Context(), store.DataPointFilter{
		ParameterID: q.Get("parameter"),
		BatchID:     q.Get("batch"),
		Limit:       limit,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, nonNil(dps))
}

// addDataPoint records one manually entered measurement.
func (h *Handler) addDataPoint(w http.ResponseWriter, r *http.Request) {
	var req DataPointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dp, err := h.svc.RecordMeasurement(r.Context(), manualSourceID, spc.Measurement{
		ParameterID: req.ParameterID,
		BatchID:     req.BatchID,
		Value:       req.Value,
		Time:        req.MeasuredAt,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, dp)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.store.ListBatches(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, BatchResponse{Batch: b, Indicators: batchIndicators(b)})
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, BatchResponse{Batch: b, Indicators: batchIndicators(b)})
}

func (h *Handler) putBatch(w http.ResponseWriter, r *http.Request) {
	var b store.Batch
	if !decodeBody(w, r, &b) {
		return
	}
	b.ID = r.PathValue("id")
	saved, err := h.svc.SaveBatch(r.Context(), b)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, BatchResponse{Batch: saved, Indicators: batchIndicators(saved)})
}

func (h *Handler) batchCompliance(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.BatchCompliance(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, ComplianceResponse{
		Result:     res,
		Indicators: []Indicator{complianceIndicator("Quality Compliance", res), testsIndicator(res)},
	})
}

// approve returns POST /api/v1/batches/approve. Unknown ids are skipped.
func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.BatchIDs) == 0 {
		jsonErr(w, http.StatusBadRequest, "batch_ids is required")
		return
	}
	n, err := h.svc.Approve(r.Context(), req.BatchIDs)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, ApproveResponse{Requested: len(req.BatchIDs), Approved: n})
}

// bulkBatches creates count pending batches of one item for today.
func (h *Handler) bulkBatches(w http.ResponseWriter, r *http.Request) {
	var req BulkBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := h.svc.CreateBatches(r.Context(), req.Count, req.ItemCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, BulkBatchResponse{Requested: req.Count, Created: n})
}

// batchDataPoint returns an unsaved data point template for the batch.
func (h *Handler) batchDataPoint(w http.ResponseWriter, r *http.Request) {
	dp, err := h.svc.NewDataPointForBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, dp)
}

func (h *Handler) getCertificate(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCertificate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, CertificateResponse{Certificate: c, Indicators: certificateIndicators(c)})
}

func (h *Handler) putCertificate(w http.ResponseWriter, r *http.Request) {
	var c store.Certificate
	if !decodeBody(w, r, &c) {
		return
	}
	c.ID = r.PathValue("id")
	saved, err := h.svc.SaveCertificate(r.Context(), c)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, CertificateResponse{Certificate: saved, Indicators: certificateIndicators(saved)})
}

func (h *Handler) certificateCompliance(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CertificateCompliance(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, ComplianceResponse{
		Result:     res,
		Indicators: []Indicator{complianceIndicator("Quality Compliance", res)},
	})
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, nonNil(h.alerts.Active()))
}

// listSources returns GET /api/v1/sources: gateways that reported within the TTL.
func (h *Handler) listSources(w http.ResponseWriter, _ *http.Request) {
	out := make([]SourceResponse, 0)
	if h.sources != nil {
		for _, s := range h.sources.List() {
			out = append(out, SourceResponse{
				SourceID:   s.SourceID,
				SourceType: s.SourceType,
				State:      s.State,
				UptimePct:  s.UptimePct,
				Points:     s.Points,
				LastSeen:   s.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

// fail maps service and store errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, quality.ErrUnknownParameter):
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, spc.ErrInsufficientData),
		errors.Is(err, spc.ErrIncompleteLimits),
		errors.Is(err, spc.ErrZeroVariation):
		jsonErr(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, quality.ErrInvalid):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
