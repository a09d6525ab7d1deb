package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/ambspc/spcengine/pkg/spc"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// SQL is a Store backed by database/sql. Both drivers accept the same
// `$n` placeholders and ON CONFLICT upserts, so queries are shared.
type SQL struct {
	db     *sql.DB
	driver Driver
	now    func() time.Time
	seq    atomic.Int64 // insertion order tiebreak for equal measured_at
}

// Open connects to dsn with the given driver and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*SQL, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY under concurrent ingest.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	s := &SQL{db: db, driver: driver, now: time.Now}
	s.seq.Store(time.Now().UnixNano())
	return s, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	schema := schemaPostgres
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("pragma: %w", err)
		}
		schema = schemaSQLite
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS parameters (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  unit TEXT NOT NULL DEFAULT '',
  limits_json TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS datapoints (
  id TEXT PRIMARY KEY,
  parameter_id TEXT NOT NULL,
  parameter_name TEXT NOT NULL DEFAULT '',
  batch_id TEXT NOT NULL DEFAULT '',
  source_id TEXT NOT NULL DEFAULT '',
  value REAL NOT NULL,
  status TEXT NOT NULL,
  zone TEXT NOT NULL,
  measured_at INTEGER NOT NULL,
  recorded_at INTEGER NOT NULL,
  seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS datapoints_parameter ON datapoints (parameter_id, measured_at);

CREATE TABLE IF NOT EXISTS batches (
  id TEXT PRIMARY KEY,
  item_code TEXT NOT NULL,
  item_name TEXT NOT NULL DEFAULT '',
  production_date INTEGER NOT NULL,
  expiry_date INTEGER NOT NULL,
  quantity REAL NOT NULL,
  gross_weight REAL NOT NULL,
  tara_weight REAL NOT NULL,
  net_weight REAL NOT NULL,
  quality_status TEXT NOT NULL,
  tests_json TEXT NOT NULL,
  parameters_json TEXT NOT NULL,
  compliance_json TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS certificates (
  id TEXT PRIMARY KEY,
  batch_id TEXT NOT NULL,
  tests_json TEXT NOT NULL,
  parameters_json TEXT NOT NULL,
  cpk_value REAL,
  ppk_value REAL,
  compliance_json TEXT NOT NULL,
  issued_at INTEGER NOT NULL
)
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS parameters (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  unit TEXT NOT NULL DEFAULT '',
  limits_json TEXT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS datapoints (
  id TEXT PRIMARY KEY,
  parameter_id TEXT NOT NULL,
  parameter_name TEXT NOT NULL DEFAULT '',
  batch_id TEXT NOT NULL DEFAULT '',
  source_id TEXT NOT NULL DEFAULT '',
  value DOUBLE PRECISION NOT NULL,
  status TEXT NOT NULL,
  zone TEXT NOT NULL,
  measured_at BIGINT NOT NULL,
  recorded_at BIGINT NOT NULL,
  seq BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS datapoints_parameter ON datapoints (parameter_id, measured_at);

CREATE TABLE IF NOT EXISTS batches (
  id TEXT PRIMARY KEY,
  item_code TEXT NOT NULL,
  item_name TEXT NOT NULL DEFAULT '',
  production_date BIGINT NOT NULL,
  expiry_date BIGINT NOT NULL,
  quantity DOUBLE PRECISION NOT NULL,
  gross_weight DOUBLE PRECISION NOT NULL,
  tara_weight DOUBLE PRECISION NOT NULL,
  net_weight DOUBLE PRECISION NOT NULL,
  quality_status TEXT NOT NULL,
  tests_json TEXT NOT NULL,
  parameters_json TEXT NOT NULL,
  compliance_json TEXT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS certificates (
  id TEXT PRIMARY KEY,
  batch_id TEXT NOT NULL,
  tests_json TEXT NOT NULL,
  parameters_json TEXT NOT NULL,
  cpk_value DOUBLE PRECISION,
  ppk_value DOUBLE PRECISION,
  compliance_json TEXT NOT NULL,
  issued_at BIGINT NOT NULL
)
`

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) PutParameter(ctx context.Context, p Parameter) (Parameter, error) {
	lj, err := json.Marshal(p.Limits)
	if err != nil {
		return Parameter{}, fmt.Errorf("marshal limits: %w", err)
	}
	p.UpdatedAt = s.now().UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO parameters (id,name,unit,limits_json,updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, unit=EXCLUDED.unit,
		  limits_json=EXCLUDED.limits_json, updated_at=EXCLUDED.updated_at`,
		p.ID, p.Name, p.Unit, string(lj), toNanos(p.UpdatedAt))
	if err != nil {
		return Parameter{}, fmt.Errorf("put parameter %q: %w", p.ID, err)
	}
	return p, nil
}

func (s *SQL) GetParameter(ctx context.Context, id string) (Parameter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,name,unit,limits_json,updated_at FROM parameters WHERE id=$1`, id)
	p, err := scanParameter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Parameter{}, ErrNotFound
	}
	return p, err
}

func (s *SQL) ListParameters(ctx context.Context) ([]Parameter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,name,unit,limits_json,updated_at FROM parameters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	defer rows.Close()

	var out []Parameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQL) AddDataPoint(ctx context.Context, dp DataPoint) (DataPoint, error) {
	if dp.ID == "" {
		dp.ID = uuid.New().String()
	}
	if dp.RecordedAt.IsZero() {
		dp.RecordedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO datapoints
		(id,parameter_id,parameter_name,batch_id,source_id,value,status,zone,measured_at,recorded_at,seq)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		dp.ID, dp.ParameterID, dp.ParameterName, dp.BatchID, dp.SourceID, dp.Value,
		string(dp.Status), string(dp.Zone), toNanos(dp.MeasuredAt), toNanos(dp.RecordedAt), s.seq.Add(1))
	if err != nil {
		return DataPoint{}, fmt.Errorf("add data point: %w", err)
	}
	return dp, nil
}

func (s *SQL) ListDataPoints(ctx context.Context, f DataPointFilter) ([]DataPoint, error) {
	var (
		where []string
		args  []any
	)
	if f.ParameterID != "" {
		args = append(args, f.ParameterID)
		where = append(where, fmt.Sprintf("parameter_id=$%d", len(args)))
	}
	if f.BatchID != "" {
		args = append(args, f.BatchID)
		where = append(where, fmt.Sprintf("batch_id=$%d", len(args)))
	}

	q := `SELECT id,parameter_id,parameter_name,batch_id,source_id,value,status,zone,measured_at,recorded_at
		FROM datapoints`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY measured_at DESC, seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list data points: %w", err)
	}
	defer rows.Close()

	var out []DataPoint
	for rows.Next() {
		var (
			dp               DataPoint
			status, zone     string
			measured, record int64
		)
		if err := rows.Scan(&dp.ID, &dp.ParameterID, &dp.ParameterName, &dp.BatchID, &dp.SourceID,
			&dp.Value, &status, &zone, &measured, &record); err != nil {
			return nil, fmt.Errorf("scan data point: %w", err)
		}
		dp.Status = spc.Status(status)
		dp.Zone = spc.Zone(zone)
		dp.MeasuredAt = fromNanos(measured)
		dp.RecordedAt = fromNanos(record)
		out = append(out, dp)
	}
	return out, rows.Err()
}

func (s *SQL) CountDataPoints(ctx context.Context) (map[spc.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM datapoints GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count data points: %w", err)
	}
	defer rows.Close()

	out := make(map[spc.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[spc.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *SQL) PutBatch(ctx context.Context, b Batch) (Batch, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.UpdatedAt = s.now().UTC()

	tj, pj, cj, err := marshalChildren(b.TestResults, b.Parameters, b.Compliance)
	if err != nil {
		return Batch{}, fmt.Errorf("put batch %q: %w", b.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO batches
		(id,item_code,item_name,production_date,expiry_date,quantity,gross_weight,tara_weight,net_weight,
		 quality_status,tests_json,parameters_json,compliance_json,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET item_code=EXCLUDED.item_code, item_name=EXCLUDED.item_name,
		  production_date=EXCLUDED.production_date, expiry_date=EXCLUDED.expiry_date,
		  quantity=EXCLUDED.quantity, gross_weight=EXCLUDED.gross_weight, tara_weight=EXCLUDED.tara_weight,
		  net_weight=EXCLUDED.net_weight, quality_status=EXCLUDED.quality_status,
		  tests_json=EXCLUDED.tests_json, parameters_json=EXCLUDED.parameters_json,
		  compliance_json=EXCLUDED.compliance_json, updated_at=EXCLUDED.updated_at`,
		b.ID, b.ItemCode, b.ItemName, toNanos(b.ProductionDate), toNanos(b.ExpiryDate),
		b.Quantity, b.GrossWeight, b.TaraWeight, b.NetWeight, b.QualityStatus,
		tj, pj, cj, toNanos(b.UpdatedAt))
	if err != nil {
		return Batch{}, fmt.Errorf("put batch %q: %w", b.ID, err)
	}
	return b, nil
}

const batchColumns = `id,item_code,item_name,production_date,expiry_date,quantity,gross_weight,tara_weight,
	net_weight,quality_status,tests_json,parameters_json,compliance_json,updated_at`

func (s *SQL) GetBatch(ctx context.Context, id string) (Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	return b, err
}

func (s *SQL) ListBatches(ctx context.Context) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQL) PutCertificate(ctx context.Context, c Certificate) (Certificate, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = s.now().UTC()
	}
	tj, pj, cj, err := marshalChildren(c.QualityTests, c.SPCParameters, c.Compliance)
	if err != nil {
		return Certificate{}, fmt.Errorf("put certificate %q: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO certificates
		(id,batch_id,tests_json,parameters_json,cpk_value,ppk_value,compliance_json,issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET batch_id=EXCLUDED.batch_id, tests_json=EXCLUDED.tests_json,
		  parameters_json=EXCLUDED.parameters_json, cpk_value=EXCLUDED.cpk_value,
		  ppk_value=EXCLUDED.ppk_value, compliance_json=EXCLUDED.compliance_json,
		  issued_at=EXCLUDED.issued_at`,
		c.ID, c.BatchID, tj, pj, nullFloat(c.CpkValue), nullFloat(c.PpkValue), cj, toNanos(c.IssuedAt))
	if err != nil {
		return Certificate{}, fmt.Errorf("put certificate %q: %w", c.ID, err)
	}
	return c, nil
}

func (s *SQL) GetCertificate(ctx context.Context, id string) (Certificate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,batch_id,tests_json,parameters_json,cpk_value,ppk_value,
		compliance_json,issued_at FROM certificates WHERE id=$1`, id)

	var (
		c          Certificate
		tj, pj, cj string
		cpk, ppk   sql.NullFloat64
		issued     int64
	)
	if err := row.Scan(&c.ID, &c.BatchID, &tj, &pj, &cpk, &ppk, &cj, &issued); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Certificate{}, ErrNotFound
		}
		return Certificate{}, fmt.Errorf("get certificate %q: %w", id, err)
	}
	if err := unmarshalChildren(tj, pj, cj, &c.QualityTests, &c.SPCParameters, &c.Compliance); err != nil {
		return Certificate{}, fmt.Errorf("get certificate %q: %w", id, err)
	}
	c.CpkValue = floatPtr(cpk)
	c.PpkValue = floatPtr(ppk)
	c.IssuedAt = fromNanos(issued)
	return c, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanParameter(r scanner) (Parameter, error) {
	var (
		p       Parameter
		lj      string
		updated int64
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Unit, &lj, &updated); err != nil {
		return Parameter{}, err
	}
	if err := json.Unmarshal([]byte(lj), &p.Limits); err != nil {
		return Parameter{}, fmt.Errorf("decode limits of %q: %w", p.ID, err)
	}
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}

func scanBatch(r scanner) (Batch, error) {
	var (
		b                     Batch
		prod, expiry, updated int64
		tj, pj, cj            string
	)
	if err := r.Scan(&b.ID, &b.ItemCode, &b.ItemName, &prod, &expiry, &b.Quantity, &b.GrossWeight,
		&b.TaraWeight, &b.NetWeight, &b.QualityStatus, &tj, &pj, &cj, &updated); err != nil {
		return Batch{}, err
	}
	if err := unmarshalChildren(tj, pj, cj, &b.TestResults, &b.Parameters, &b.Compliance); err != nil {
		return Batch{}, fmt.Errorf("decode batch %q: %w", b.ID, err)
	}
	b.ProductionDate = fromNanos(prod)
	b.ExpiryDate = fromNanos(expiry)
	b.UpdatedAt = fromNanos(updated)
	return b, nil
}

// marshalChildren encodes the child tables of a batch or certificate.
func marshalChildren(tests []TestResult, params []ParameterRow, compliance *spc.Result) (string, string, string, error) {
	tj, err := json.Marshal(tests)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal tests: %w", err)
	}
	pj, err := json.Marshal(params)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal parameters: %w", err)
	}
	cj, err := json.Marshal(compliance)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal compliance: %w", err)
	}
	return string(tj), string(pj), string(cj), nil
}

func unmarshalChildren(tj, pj, cj string, tests *[]TestResult, params *[]ParameterRow, compliance **spc.Result) error {
	if err := json.Unmarshal([]byte(tj), tests); err != nil {
		return fmt.Errorf("tests: %w", err)
	}
	if err := json.Unmarshal([]byte(pj), params); err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(cj), compliance); err != nil {
		return fmt.Errorf("compliance: %w", err)
	}
	return nil
}

// toNanos stores the zero time as 0 so it round-trips.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
