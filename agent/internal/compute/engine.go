package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ambspc/spcengine/agent/internal/scraper"
	"github.com/ambspc/spcengine/pkg/spc"
)

// uptimeWindow is the number of recent scrape outcomes tracked for uptime %.
const uptimeWindow = 20

// seenRetention is how long a sample key is remembered after the gateway last
// exposed it. A sample that drops out of the exposition for longer than this
// ships again if it reappears.
const seenRetention = time.Hour

// Source reachability states.
const (
	StateReachable   = "reachable"
	StateUnreachable = "unreachable"
	StateUnknown     = "unknown"
)

// Result is the per-source outcome of one scrape cycle, ready to be handed to
// the shipper.
type Result struct {
	SourceID     string
	SourceType   string
	Timestamp    time.Time
	State        string
	UptimePct    float64
	Measurements []spc.Measurement
	Duplicates   int    // readings suppressed because they were already shipped
	ErrorMessage string // non-empty when the scrape failed; forwarded to the server
}

// Engine maintains per-source state across scrape cycles: reachability
// history and the set of samples already emitted.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]*sourceState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[string]*sourceState)}
}

// Process ingests a ScrapeResult and returns the measurements to ship.
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
//
// A failed scrape yields no measurements. Its state is "unknown" while the
// source has never answered and "unreachable" afterwards.
func (e *Engine) Process(res *scraper.ScrapeResult, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(res.SourceID)
	success := res.Err == nil
	st.recordScrape(success)
	st.prune(now)

	out := &Result{
		SourceID:   res.SourceID,
		SourceType: res.SourceType,
		Timestamp:  now,
		UptimePct:  st.uptimePct(),
	}

	if !success {
		out.ErrorMessage = res.Err.Error()
		if st.everReached {
			out.State = StateUnreachable
		} else {
			out.State = StateUnknown
		}
		slog.Warn("compute: scrape failed",
			"source", res.SourceID, "state", out.State, "err", res.Err)
		return out
	}

	st.everReached = true
	out.State = StateReachable

	for _, r := range res.Readings {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = now
		} else {
			key := sampleKey{parameter: r.ParameterID, batch: r.BatchID, at: ts.UnixNano()}
			_, dup := st.seen[key]
			st.seen[key] = now // retention runs from the last sighting
			if dup {
				out.Duplicates++
				continue
			}
		}
		out.Measurements = append(out.Measurements, spc.Measurement{
			ParameterID: r.ParameterID,
			BatchID:     r.BatchID,
			Value:       r.Value,
			Time:        ts,
		})
	}

	if out.Duplicates > 0 {
		slog.Debug("compute: suppressed repeated samples",
			"source", res.SourceID, "count", out.Duplicates)
	}
	return out
}

// sampleKey identifies one timestamped gateway sample.
type sampleKey struct {
	parameter string
	batch     string
	at        int64
}

// sourceState holds per-source uptime history and emitted sample keys.
type sourceState struct {
	everReached bool
	history     []bool // circular buffer of scrape outcomes, newest last
	seen        map[sampleKey]time.Time
}

func (e *Engine) stateFor(id string) *sourceState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &sourceState{seen: make(map[sampleKey]time.Time)}
	e.states[id] = st
	return st
}

func (st *sourceState) recordScrape(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *sourceState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}

// prune forgets sample keys not seen within seenRetention.
func (st *sourceState) prune(now time.Time) {
	cutoff := now.Add(-seenRetention)
	for k, last := range st.seen {
		if last.Before(cutoff) {
			delete(st.seen, k)
		}
	}
}
