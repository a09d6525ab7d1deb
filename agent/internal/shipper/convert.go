package shipper

import (
	"github.com/ambspc/spcengine/agent/internal/compute"
	"github.com/ambspc/spcengine/pkg/types"
)

// toRequest converts a compute.Result into the ingest wire format.
// Results without measurements are still shipped so the server keeps an
// up-to-date view of source reachability.
func toRequest(r *compute.Result) *types.IngestRequest {
	req := &types.IngestRequest{
		SourceID:   r.SourceID,
		SourceType: r.SourceType,
		State:      r.State,
		UptimePct:  r.UptimePct,
		SentAt:     r.Timestamp.UTC(),
		Points:     make([]types.Point, 0, len(r.Measurements)),
	}
	for _, m := range r.Measurements {
		req.Points = append(req.Points, types.Point{
			ParameterID: m.ParameterID,
			BatchID:     m.BatchID,
			Value:       m.Value,
			MeasuredAt:  m.Time.UTC(),
		})
	}
	return req
}
