package metrics

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/store"
)

// Metric names exposed on /metrics.
const (
	DataPointsTotal     = "spc_datapoints_total"
	DataPointsZoneTotal = "spc_datapoints_zone_total"
	AlertsActive        = "spc_alerts_active"
	IngestFailuresTotal = "spc_ingest_failures_total"
)

// AlertCounter reports how many alerts are currently firing.
type AlertCounter interface {
	FiringCount() int
}

// Registry accumulates SPC counters in memory and renders them in the
// Prometheus text format. It is safe for concurrent use.
type Registry struct {
	alerts AlertCounter

	mu       sync.Mutex
	byStatus map[spc.Status]float64
	byZone   map[spc.Zone]float64
	failures float64
}

// New creates a Registry. al may be nil, in which case spc_alerts_active
// is not exposed.
func New(al AlertCounter) *Registry {
	return &Registry{
		alerts:   al,
		byStatus: make(map[spc.Status]float64),
		byZone:   make(map[spc.Zone]float64),
	}
}

// Notify counts one recorded data point by status and zone.
func (r *Registry) Notify(dp store.DataPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byStatus[dp.Status]++
	r.byZone[dp.Zone]++
}

// AddIngestFailures counts points the receiver rejected.
func (r *Registry) AddIngestFailures(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.failures += float64(n)
	r.mu.Unlock()
}

// Families returns the current metric families ordered by name. Label
// families appear once they have at least one sample.
func (r *Registry) Families() []*dto.MetricFamily {
	r.mu.Lock()
	status := labelled("status", r.byStatus)
	zone := labelled("zone", r.byZone)
	failures := r.failures
	r.mu.Unlock()

	out := []*dto.MetricFamily{
		{
			Name:   proto.String(DataPointsTotal),
			Help:   proto.String("Data points recorded, by control status."),
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: status,
		},
		{
			Name:   proto.String(DataPointsZoneTotal),
			Help:   proto.String("Data points recorded, by control chart zone."),
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: zone,
		},
		{
			Name: proto.String(IngestFailuresTotal),
			Help: proto.String("Data points rejected by the ingest endpoint."),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{
				{Counter: &dto.Counter{Value: proto.Float64(failures)}},
			},
		},
	}
	if r.alerts != nil {
		out = append(out, &dto.MetricFamily{
			Name: proto.String(AlertsActive),
			Help: proto.String("Alerts currently firing."),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{
				{Gauge: &dto.Gauge{Value: proto.Float64(float64(r.alerts.FiringCount()))}},
			},
		})
	}
	// The text format rejects families without samples.
	out = slices.DeleteFunc(out, func(mf *dto.MetricFamily) bool { return len(mf.Metric) == 0 })
	slices.SortFunc(out, func(a, b *dto.MetricFamily) int { return strings.Compare(a.GetName(), b.GetName()) })
	return out
}

// ServeHTTP writes every family in the text exposition format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	for _, mf := range r.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			slog.Warn("metrics: write family failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

// labelled turns a label value -> count map into counter metrics ordered
// by label value.
func labelled[K ~string](label string, counts map[K]float64) []*dto.Metric {
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String(label), Value: proto.String(string(k))}},
			Counter: &dto.Counter{Value: proto.Float64(counts[k])},
		})
	}
	return out
}
