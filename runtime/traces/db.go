// Package traces stores the spans of calls in a local sqlite database.
package traces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kanengo/lightrpc/runtime"
	"github.com/kanengo/lightrpc/runtime/retry"
)

// DB is a trace database stored in a local file.
type DB struct {
	fName string
	db    *sql.DB
}

// Span is the stored form of one span.
type Span struct {
	TraceID      string         `cbor:"1,keyasint"`
	SpanID       string         `cbor:"2,keyasint"`
	ParentSpanID string         `cbor:"3,keyasint,omitempty"`
	Name         string         `cbor:"4,keyasint"`
	Kind         string         `cbor:"5,keyasint"`
	StartMicros  int64          `cbor:"6,keyasint"`
	EndMicros    int64          `cbor:"7,keyasint"`
	Status       string         `cbor:"8,keyasint,omitempty"` // empty when OK
	Attributes   map[string]any `cbor:"9,keyasint,omitempty"`
}

// Trace summarizes a trace by its root span.
type Trace struct {
	TraceID     string
	App         string
	Version     string
	Name        string
	StartMicros int64
	EndMicros   int64
	Status      string
}

func OpenDB(ctx context.Context, fName string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(fName), 0700); err != nil {
		return nil, err
	}

	const params = "?_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", fName+params)
	if err != nil {
		return nil, fmt.Errorf("open db %q failed: %w", fName, err)
	}
	db.SetMaxOpenConns(1)

	t := &DB{
		fName: fName,
		db:    db,
	}

	const initDB = `
-- Spans may be stored before the root span of their trace.
PRAGMA foreign_keys=OFF;

CREATE TABLE IF NOT EXISTS traces (
	trace_id TEXT NOT NULL,
	app TEXT NOT NULL,
	version TEXT NOT NULL,
	name TEXT,
	start_time_unix_us INTEGER,
	end_time_unix_us INTEGER,
	status TEXT,
	PRIMARY KEY(trace_id)
);

CREATE TABLE IF NOT EXISTS encoded_spans (
	trace_id TEXT NOT NULL,
	start_time_unix_us INTEGER,
	data BLOB,
	FOREIGN KEY (trace_id) REFERENCES traces (trace_id)
);

-- Garbage-collect traces older than 30 days.
CREATE TRIGGER IF NOT EXISTS expire_traces AFTER INSERT ON traces
BEGIN
	DELETE FROM traces
	WHERE start_time_unix_us < (1000000 * unixepoch('now', '-30 days'));
END;

-- Garbage-collect spans older than 30 days.
CREATE TRIGGER IF NOT EXISTS expire_spans AFTER INSERT ON encoded_spans
BEGIN
	DELETE FROM encoded_spans
	WHERE start_time_unix_us < (1000000 * unixepoch('now', '-30 days'));
END;
`

	if _, err := t.execDB(ctx, initDB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open trace DB %s: %w", fName, err)
	}

	return t, nil
}

func (t *DB) execDB(ctx context.Context, query string, args ...any) (sql.Result, error) {
	for r := retry.Begin(); r.Continue(ctx); {
		res, err := t.db.ExecContext(ctx, query, args...)
		if isLocked(err) {
			continue
		}
		return res, err
	}
	return nil, ctx.Err()
}

// isLocked returns whether the error is a "database is locked" error.
func isLocked(err error) bool {
	sqlError := &sqlite.Error{}
	ok := errors.As(err, &sqlError)

	return ok && (sqlError.Code() == sqlite3.SQLITE_BUSY || sqlError.Code() == sqlite3.SQLITE_LOCKED)
}

func (t *DB) Close() error {
	return t.db.Close()
}

// Store inserts spans in one transaction. Root spans also start a trace.
func (t *DB) Store(ctx context.Context, app, version string, spans []Span) error {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelLinearizable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var errs []error
	for _, span := range spans {
		if span.ParentSpanID == "" {
			const traceStmt = `INSERT OR REPLACE INTO traces VALUES (?,?,?,?,?,?,?)`
			if _, err := tx.ExecContext(ctx, traceStmt, span.TraceID, app, version, span.Name,
				span.StartMicros, span.EndMicros, span.Status); err != nil {
				errs = append(errs, err)
			}
		}

		encoded, err := cbor.Marshal(span)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		const spanStmt = `INSERT INTO encoded_spans VALUES (?,?,?)`
		if _, err := tx.ExecContext(ctx, spanStmt, span.TraceID, span.StartMicros, encoded); err != nil {
			errs = append(errs, err)
		}
	}

	if errs != nil {
		return errors.Join(errs...)
	}

	return tx.Commit()
}

// QueryTraces returns the most recent traces, newest first. An empty app
// matches every application.
func (t *DB) QueryTraces(ctx context.Context, app string, limit int) ([]Trace, error) {
	const query = `
SELECT trace_id, app, version, name, start_time_unix_us, end_time_unix_us, status
FROM traces
WHERE (?1 = '' OR app = ?1)
ORDER BY start_time_unix_us DESC
LIMIT ?2`
	rows, err := t.db.QueryContext(ctx, query, app, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var tr Trace
		if err := rows.Scan(&tr.TraceID, &tr.App, &tr.Version, &tr.Name, &tr.StartMicros, &tr.EndMicros, &tr.Status); err != nil {
			return nil, err
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}

// QuerySpans returns the spans of one trace ordered by start time.
func (t *DB) QuerySpans(ctx context.Context, traceID string) ([]Span, error) {
	const query = `SELECT data FROM encoded_spans WHERE trace_id = ? ORDER BY start_time_unix_us`
	rows, err := t.db.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var span Span
		if err := cbor.Unmarshal(data, &span); err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// Exporter returns a span exporter writing into t. Shutting the exporter down
// closes t.
func (t *DB) Exporter(app, version string) sdktrace.SpanExporter {
	return &exporter{db: t, app: app, version: version}
}

type exporter struct {
	db           *DB
	app, version string
}

func (e *exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	stored := make([]Span, len(spans))
	for i, s := range spans {
		stored[i] = toSpan(s)
	}
	return e.db.Store(ctx, e.app, e.version, stored)
}

func (e *exporter) Shutdown(context.Context) error {
	return e.db.Close()
}

func toSpan(s sdktrace.ReadOnlySpan) Span {
	span := Span{
		TraceID:     s.SpanContext().TraceID().String(),
		SpanID:      s.SpanContext().SpanID().String(),
		Name:        s.Name(),
		Kind:        s.SpanKind().String(),
		StartMicros: s.StartTime().UnixMicro(),
		EndMicros:   s.EndTime().UnixMicro(),
	}
	if s.Parent().HasSpanID() {
		span.ParentSpanID = s.Parent().SpanID().String()
	}
	if st := s.Status(); st.Code == codes.Error {
		span.Status = st.Description
		if span.Status == "" {
			span.Status = "unknown error"
		}
	}
	span.Attributes = toAttributes(s.Attributes())
	return span
}

func toAttributes(kvs []attribute.KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}

// DefaultFile returns the trace database in the lightrpc data directory.
func DefaultFile() (string, error) {
	dir, err := runtime.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "traces.db"), nil
}
