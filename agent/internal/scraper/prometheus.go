package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ambspc/spcengine/agent/internal/config"
)

type promScraper struct {
	src      config.Source
	client   *http.Client
	mappings map[string]config.ParameterMapping
}

// Scrape fetches a gateway's text exposition and turns every sample of a
// mapped metric family into a Reading. The batch reference is read from the
// mapping's batch label; the sample timestamp, when the exporter sets one,
// becomes the reading time.
func (s *promScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := newResult(s.src.ID, "prometheus")

	mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
	if err != nil {
		res.Err = fmt.Errorf("prometheus scrape %q: %w", s.src.ID, err)
		slog.Warn("scraper: prometheus fetch failed", "source", s.src.ID, "err", err)
		return res, nil
	}

	// Iterate in a stable order so results are deterministic.
	names := make([]string, 0, len(s.mappings))
	for name := range s.mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mf, ok := mfs[name]
		if !ok {
			continue
		}
		mapping := s.mappings[name]
		for _, m := range mf.GetMetric() {
			v, ok := sampleValue(m)
			if !ok {
				continue
			}
			r := Reading{
				ParameterID: mapping.ParameterID,
				BatchID:     labelValue(m, mapping.BatchLabel),
				Value:       v,
			}
			if m.TimestampMs != nil {
				r.Timestamp = time.UnixMilli(m.GetTimestampMs()).UTC()
			}
			res.Readings = append(res.Readings, r)
		}
	}

	return res, nil
}
