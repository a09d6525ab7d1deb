package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ambspc/spcengine/agent/internal/config"
)

// gatewayPayload is the document served by JSON line gateways.
type gatewayPayload struct {
	Readings []gatewayReading `json:"readings"`
}

type gatewayReading struct {
	Parameter string    `json:"parameter"`
	Batch     string    `json:"batch"`
	Value     *float64  `json:"value"`
	Time      time.Time `json:"time"`
}

type jsonScraper struct {
	src      config.Source
	client   *http.Client
	mappings map[string]config.ParameterMapping
}

// Scrape fetches the gateway's JSON readings document. Each reading's
// "parameter" is matched against the configured metric names; unmatched
// readings and readings without a value are skipped.
func (s *jsonScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := newResult(s.src.ID, "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.src.Endpoint, nil)
	if err != nil {
		res.Err = fmt.Errorf("json scrape %q: build request: %w", s.src.ID, err)
		return res, nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("json scrape %q: %w", s.src.ID, err)
		slog.Warn("scraper: json gateway fetch failed", "source", s.src.ID, "err", err)
		return res, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		res.Err = fmt.Errorf("json scrape %q: unexpected status %d", s.src.ID, resp.StatusCode)
		return res, nil
	}

	var p gatewayPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		res.Err = fmt.Errorf("json scrape %q: decode JSON: %w", s.src.ID, err)
		return res, nil
	}

	for _, gr := range p.Readings {
		mapping, ok := s.mappings[gr.Parameter]
		if !ok || gr.Value == nil {
			continue
		}
		res.Readings = append(res.Readings, Reading{
			ParameterID: mapping.ParameterID,
			BatchID:     gr.Batch,
			Value:       *gr.Value,
			Timestamp:   gr.Time.UTC(),
		})
	}
	return res, nil
}
