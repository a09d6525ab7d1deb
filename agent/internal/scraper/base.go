package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/ambspc/spcengine/agent/internal/config"
)

const defaultScrapeTimeout = 10 * time.Second

// Reading is one raw measurement pulled from a gateway, already mapped onto
// an SPC parameter id.
type Reading struct {
	ParameterID string
	BatchID     string
	Value       float64

	// Timestamp is the gateway's own sample time. Zero when the gateway
	// did not report one; the compute engine substitutes the scrape time.
	Timestamp time.Time
}

// ScrapeResult is the normalized output of one scrape cycle for a single source.
type ScrapeResult struct {
	SourceID   string
	SourceType string
	ScrapedAt  time.Time

	// Readings holds every mapped sample found in the scrape.
	// Unmapped metrics are ignored.
	Readings []Reading

	// Err is non-nil if the scrape itself failed (connectivity, auth, parse).
	// The compute engine counts a non-nil Err against the source's uptime.
	Err error
}

// Scraper is the common interface implemented by every gateway scraper.
type Scraper interface {
	Scrape(ctx context.Context) (*ScrapeResult, error)
}

// New returns the appropriate Scraper for the given source configuration.
// It builds the HTTP client once and reuses it across scrape calls.
func New(src config.Source) (Scraper, error) {
	client, err := buildHTTPClient(src)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", src.ID, err)
	}
	switch src.Type {
	case "prometheus":
		return &promScraper{src: src, client: client, mappings: indexMappings(src.Parameters)}, nil
	case "json":
		return &jsonScraper{src: src, client: client, mappings: indexMappings(src.Parameters)}, nil
	default:
		return nil, fmt.Errorf("scraper: unsupported type %q", src.Type)
	}
}

// indexMappings keys parameter mappings by metric name. When a metric is
// mapped more than once the last mapping wins.
func indexMappings(ps []config.ParameterMapping) map[string]config.ParameterMapping {
	out := make(map[string]config.ParameterMapping, len(ps))
	for _, p := range ps {
		out[p.Metric] = p
	}
	return out
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.EffectiveHeader(), t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth and TLS settings.
func buildHTTPClient(src config.Source) (*http.Client, error) {
	tlsCfg, err := TLSClientConfig(src.Auth, src.TLS.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: NewAuthTransport(&http.Transport{TLSClientConfig: tlsCfg}, src.Auth),
		Timeout:   defaultScrapeTimeout,
	}, nil
}

// NewAuthTransport wraps base so every request carries the credentials
// described by auth. The shipper reuses it for server authentication.
func NewAuthTransport(base http.RoundTripper, auth config.AuthConfig) http.RoundTripper {
	return &authRoundTripper{base: base, auth: auth}
}

// TLSClientConfig builds a tls.Config, loading the client certificate and CA
// when auth.Mode is "mtls".
func TLSClientConfig(auth config.AuthConfig, insecure bool) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: insecure, //nolint:gosec // user-configured
	}
	if auth.Mode != "mtls" {
		return tlsCfg, nil
	}

	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sampleValue extracts the value of a single gauge, counter or untyped sample.
// Summaries and histograms carry no single measurement and report false.
func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	default:
		return 0, false
	}
}

// labelValue returns the value of the named label on m, or "".
func labelValue(m *dto.Metric, name string) string {
	if name == "" {
		return ""
	}
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// newResult initialises an empty ScrapeResult.
func newResult(sourceID, sourceType string) *ScrapeResult {
	return &ScrapeResult{
		SourceID:   sourceID,
		SourceType: sourceType,
		ScrapedAt:  time.Now().UTC(),
	}
}
