package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/pkg/types"
	"github.com/ambspc/spcengine/server/internal/quality"
	"github.com/ambspc/spcengine/server/internal/store"
)

// Path is the route agents post measurement batches to.
const Path = "/ingest/v1/datapoints"

// maxBodyBytes caps one ingest request.
const maxBodyBytes = 4 << 20

// maxReportedErrors caps the per-point error messages echoed back.
const maxReportedErrors = 20

// Recorder evaluates and stores one measurement.
type Recorder interface {
	RecordMeasurement(ctx context.Context, sourceID string, m spc.Measurement) (store.DataPoint, error)
}

// FailureCounter is told how many points of a request were rejected.
type FailureCounter interface {
	AddIngestFailures(n int)
}

// Receiver is the HTTP endpoint agents ship data points to.
// It validates each request, records every point and tracks source
// reachability in the Sources registry.
type Receiver struct {
	rec      Recorder
	sources  *store.Sources
	failures FailureCounter
}

// New creates a Receiver. failures may be nil.
func New(rec Recorder, sources *store.Sources, failures FailureCounter) *Receiver {
	return &Receiver{rec: rec, sources: sources, failures: failures}
}

// ServeHTTP handles POST /ingest/v1/datapoints. Authentication is enforced
// upstream by the auth middleware, so the receiver only validates structure.
// Points that fail evaluation are counted and reported; the rest are kept.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body types.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if body.SourceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source_id is required"})
		return
	}

	resp := types.IngestResponse{}
	for i, p := range body.Points {
		_, err := r.rec.RecordMeasurement(req.Context(), body.SourceID, spc.Measurement{
			ParameterID: p.ParameterID,
			BatchID:     p.BatchID,
			Value:       p.Value,
			Time:        p.MeasuredAt,
		})
		if err != nil {
			resp.Rejected++
			if len(resp.Errors) < maxReportedErrors {
				resp.Errors = append(resp.Errors, fmt.Sprintf("points[%d]: %v", i, err))
			}
			level := slog.LevelDebug
			if !isCallerError(err) {
				level = slog.LevelError
			}
			slog.Log(req.Context(), level, "receiver: point rejected",
				"source_id", body.SourceID, "parameter", p.ParameterID, "err", err)
			continue
		}
		resp.Accepted++
	}

	if r.sources != nil {
		r.sources.Put(store.SourceStatus{
			SourceID:   body.SourceID,
			SourceType: body.SourceType,
			State:      body.State,
			UptimePct:  body.UptimePct,
			Points:     len(body.Points),
		})
	}
	if resp.Rejected > 0 && r.failures != nil {
		r.failures.AddIngestFailures(resp.Rejected)
	}

	slog.Debug("receiver: batch ingested",
		"source_id", body.SourceID,
		"state", body.State,
		"accepted", resp.Accepted,
		"rejected", resp.Rejected,
	)
	writeJSON(w, http.StatusOK, resp)
}

// isCallerError reports whether err is a validation failure the agent caused.
func isCallerError(err error) bool {
	return errors.Is(err, quality.ErrInvalid) || errors.Is(err, quality.ErrUnknownParameter)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
