package repository

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"text/template"
	"time"

	"plantmon-server/internal/modules/metrics/types"
	"plantmon-server/internal/timefmt"
)

//go:embed sql/insert-metric.sql
var insertMetricSQL string

//go:embed sql/get-metric-by-id.sql
var getMetricByIDSQL string

//go:embed sql/get-metric-at-time.sql
var getMetricAtTimeSQL string

//go:embed sql/get-metrics-before.sql
var getMetricsBeforeSQL string

//go:embed sql/delete-metric-by-id.sql
var deleteMetricByIDSQL string

//go:embed sql/delete-metrics-before.sql
var deleteMetricsBeforeSQL string

//go:embed sql/get-series.sql.tmpl
var getSeriesTmpl string

// ErrIntegrity is returned when a delete by id matched more than one row.
var ErrIntegrity = errors.New("data integrity violation")

// StorageError wraps any failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

type MetricRepository interface {
	Insert(ctx context.Context, rec types.NewMetricRecord) (types.MetricRecord, error)
	GetByID(ctx context.Context, id int64) (*types.MetricRecord, error)
	GetAtTime(ctx context.Context, t time.Time) (*types.MetricRecord, error)
	GetBeforeOrAtTime(ctx context.Context, t time.Time) ([]types.MetricRecord, error)
	// GetSeries returns the non-null values of one metric. A non-nil after
	// keeps only rows strictly later than it.
	GetSeries(ctx context.Context, metric types.Metric, order types.Order, after *time.Time) ([]types.Row[float64], error)
	DeleteByID(ctx context.Context, id int64) (bool, error)
	DeleteBeforeOrAtTime(ctx context.Context, t time.Time) ([]types.MetricRecord, error)
	// ReadTx runs fn against a repository bound to a single transaction.
	ReadTx(ctx context.Context, fn func(repo MetricRepository) error) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type seriesKey struct {
	metric types.Metric
	order  types.Order
	after  bool
}

var seriesSQL = buildSeriesQueries()

func buildSeriesQueries() map[seriesKey]string {
	tmpl := template.Must(template.New("series").Parse(getSeriesTmpl))
	out := make(map[seriesKey]string)
	for _, m := range types.AllMetrics {
		for _, o := range []types.Order{types.Ascending, types.Descending} {
			for _, after := range []bool{false, true} {
				var buf bytes.Buffer
				err := tmpl.Execute(&buf, struct {
					Column    string
					Direction string
					After     bool
				}{m.Column(), o.SQL(), after})
				if err != nil {
					panic(fmt.Sprintf("render series query: %v", err))
				}
				out[seriesKey{m, o, after}] = buf.String()
			}
		}
	}
	return out
}

type Option func(*repositoryImpl)

// WithClock overrides the source of server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *repositoryImpl) { r.now = now }
}

type repositoryImpl struct {
	db  *sql.DB // nil when bound to a transaction
	q   querier
	now func() time.Time
}

func NewRepository(db *sql.DB, opts ...Option) MetricRepository {
	r := &repositoryImpl{db: db, q: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *repositoryImpl) Insert(ctx context.Context, rec types.NewMetricRecord) (types.MetricRecord, error) {
	recordedAt := r.now()
	if rec.RecordedAt != nil {
		recordedAt = *rec.RecordedAt
	}
	recordedAt = timefmt.Truncate(recordedAt)

	res, err := r.q.ExecContext(ctx, insertMetricSQL,
		timefmt.ToDB(recordedAt),
		floatArg(rec.Temperature),
		floatArg(rec.Humidity),
		intArg(rec.Light),
		intArg(rec.SoilMoisture),
	)
	if err != nil {
		return types.MetricRecord{}, storageErr("insert metric", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.MetricRecord{}, storageErr("insert metric id", err)
	}

	return types.MetricRecord{
		ID:           id,
		RecordedAt:   recordedAt,
		Temperature:  rec.Temperature,
		Humidity:     rec.Humidity,
		Light:        rec.Light,
		SoilMoisture: rec.SoilMoisture,
	}, nil
}

func (r *repositoryImpl) GetByID(ctx context.Context, id int64) (*types.MetricRecord, error) {
	rec, err := scanRecord(r.q.QueryRowContext(ctx, getMetricByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get metric by id", err)
	}
	return &rec, nil
}

func (r *repositoryImpl) GetAtTime(ctx context.Context, t time.Time) (*types.MetricRecord, error) {
	rec, err := scanRecord(r.q.QueryRowContext(ctx, getMetricAtTimeSQL, timefmt.ToDB(t)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get metric at time", err)
	}
	return &rec, nil
}

func (r *repositoryImpl) GetBeforeOrAtTime(ctx context.Context, t time.Time) ([]types.MetricRecord, error) {
	rows, err := r.q.QueryContext(ctx, getMetricsBeforeSQL, timefmt.ToDB(t))
	if err != nil {
		return nil, storageErr("get metrics before", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close metrics before rows", "error", err)
		}
	}()
	out, err := scanRecords(rows)
	if err != nil {
		return nil, storageErr("get metrics before", err)
	}
	return out, nil
}

func (r *repositoryImpl) GetSeries(ctx context.Context, metric types.Metric, order types.Order, after *time.Time) ([]types.Row[float64], error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("get series: unknown metric %d", int(metric))
	}
	query := seriesSQL[seriesKey{metric: metric, order: order, after: after != nil}]

	var args []any
	if after != nil {
		args = append(args, timefmt.ToDB(*after))
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get "+metric.String()+" series", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close series rows", "metric", metric.String(), "error", err)
		}
	}()

	out := []types.Row[float64]{}
	for rows.Next() {
		var ts string
		var v sql.Null[float64]
		if err := rows.Scan(&ts, &v); err != nil {
			return nil, storageErr("scan "+metric.String()+" series", err)
		}
		t, err := timefmt.FromDB(ts)
		if err != nil {
			return nil, storageErr("scan "+metric.String()+" series", err)
		}
		row := types.Row[float64]{RecordedAt: t}
		if v.Valid {
			val := v.V
			row.Value = &val
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get "+metric.String()+" series", err)
	}
	return out, nil
}

func (r *repositoryImpl) DeleteByID(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := r.inTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, deleteMetricByIDSQL, id)
		if err != nil {
			return storageErr("delete metric by id", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storageErr("delete metric rows affected", err)
		}
		if n > 1 {
			return fmt.Errorf("delete metric %d removed %d rows: %w", id, n, ErrIntegrity)
		}
		deleted = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (r *repositoryImpl) DeleteBeforeOrAtTime(ctx context.Context, t time.Time) ([]types.MetricRecord, error) {
	var out []types.MetricRecord
	err := r.inTx(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, deleteMetricsBeforeSQL, timefmt.ToDB(t))
		if err != nil {
			return storageErr("delete metrics before", err)
		}
		out, err = scanRecords(rows)
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return storageErr("delete metrics before", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (r *repositoryImpl) ReadTx(ctx context.Context, fn func(repo MetricRepository) error) error {
	if r.db == nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return storageErr("begin read tx", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("rollback read tx", "error", err)
		}
	}()
	if err := fn(&repositoryImpl{q: tx, now: r.now}); err != nil {
		return err
	}
	return storageErr("commit read tx", tx.Commit())
}

// inTx runs fn in a new transaction, or in the current one when r is
// already bound to a transaction.
func (r *repositoryImpl) inTx(ctx context.Context, fn func(q querier) error) error {
	if r.db == nil {
		return fn(r.q)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback tx", "error", rbErr)
		}
		return err
	}
	return storageErr("commit tx", tx.Commit())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (types.MetricRecord, error) {
	var rec types.MetricRecord
	var ts string
	var temperature, humidity sql.Null[float32]
	var light, soilMoisture sql.Null[int32]
	if err := s.Scan(&rec.ID, &ts, &temperature, &humidity, &light, &soilMoisture); err != nil {
		return types.MetricRecord{}, err
	}
	t, err := timefmt.FromDB(ts)
	if err != nil {
		return types.MetricRecord{}, err
	}
	rec.RecordedAt = t
	rec.Temperature = nullPtr(temperature)
	rec.Humidity = nullPtr(humidity)
	rec.Light = nullPtr(light)
	rec.SoilMoisture = nullPtr(soilMoisture)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]types.MetricRecord, error) {
	out := []types.MetricRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// floatArg and intArg turn optional measurements into plain driver values.
func floatArg(p *float32) any {
	if p == nil {
		return nil
	}
	return float64(*p)
}

func intArg(p *int32) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullPtr[T any](n sql.Null[T]) *T {
	if !n.Valid {
		return nil
	}
	v := n.V
	return &v
}
