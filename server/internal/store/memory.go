package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ambspc/spcengine/pkg/spc"
)

// Memory is a thread-safe in-memory Store. Data does not survive a restart.
type Memory struct {
	mu           sync.RWMutex
	parameters   map[string]Parameter
	dataPoints   []DataPoint
	batches      map[string]Batch
	certificates map[string]Certificate
	now          func() time.Time // injectable for deterministic tests
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		parameters:   make(map[string]Parameter),
		batches:      make(map[string]Batch),
		certificates: make(map[string]Certificate),
		now:          time.Now,
	}
}

func (m *Memory) PutParameter(_ context.Context, p Parameter) (Parameter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.now().UTC()
	m.parameters[p.ID] = p
	return p, nil
}

func (m *Memory) GetParameter(_ context.Context, id string) (Parameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parameters[id]
	if !ok {
		return Parameter{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListParameters(_ context.Context) ([]Parameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Parameter, 0, len(m.parameters))
	for _, p := range m.parameters {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Parameter) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) AddDataPoint(_ context.Context, dp DataPoint) (DataPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dp.ID == "" {
		dp.ID = uuid.New().String()
	}
	if dp.RecordedAt.IsZero() {
		dp.RecordedAt = m.now().UTC()
	}
	m.dataPoints = append(m.dataPoints, dp)
	return dp, nil
}

func (m *Memory) ListDataPoints(_ context.Context, f DataPointFilter) ([]DataPoint, error) {
	m.mu.RLock()
	var out []DataPoint
	for _, dp := range m.dataPoints {
		if f.match(dp) {
			out = append(out, dp)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountDataPoints(_ context.Context) (map[spc.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[spc.Status]int)
	for _, dp := range m.dataPoints {
		out[dp.Status]++
	}
	return out, nil
}

func (m *Memory) PutBatch(_ context.Context, b Batch) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.UpdatedAt = m.now().UTC()
	m.batches[b.ID] = cloneBatch(b)
	return b, nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return cloneBatch(b), nil
}

func (m *Memory) ListBatches(_ context.Context) ([]Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, cloneBatch(b))
	}
	slices.SortFunc(out, func(a, b Batch) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) PutCertificate(_ context.Context, c Certificate) (Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = m.now().UTC()
	}
	m.certificates[c.ID] = cloneCertificate(c)
	return c, nil
}

func (m *Memory) GetCertificate(_ context.Context, id string) (Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certificates[id]
	if !ok {
		return Certificate{}, ErrNotFound
	}
	return cloneCertificate(c), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
