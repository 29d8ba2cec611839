package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"plantmon-server/internal/modules/metrics/repository"
	"plantmon-server/internal/modules/metrics/series"
	"plantmon-server/internal/modules/metrics/types"
	"plantmon-server/internal/timefmt"
)

// ErrInvalidInput marks a write that was rejected before reaching the store.
var ErrInvalidInput = errors.New("invalid input")

// Service is the set of read and write operations the transports call. Time
// strings are parsed here; a malformed one fails with *timefmt.TimeFormatError
// before any query runs.
type Service struct {
	repository repository.MetricRepository
	logger     *slog.Logger
}

func NewService(repository repository.MetricRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repository: repository, logger: logger}
}

func (s *Service) CreateMetric(ctx context.Context, in types.MetricInput) (types.MetricRecord, error) {
	if err := validateInput(in); err != nil {
		return types.MetricRecord{}, err
	}
	rec, err := s.repository.Insert(ctx, types.NewMetricRecord{
		Temperature:  &in.Temperature,
		Humidity:     &in.Humidity,
		Light:        &in.Light,
		SoilMoisture: &in.SoilMoisture,
	})
	if err != nil {
		return types.MetricRecord{}, err
	}
	s.logger.Debug("metric created", "id", rec.ID, "recorded_at", timefmt.Render(rec.RecordedAt))
	return rec, nil
}

func (s *Service) ReadByID(ctx context.Context, id int64) (*types.MetricRecord, error) {
	return s.repository.GetByID(ctx, id)
}

func (s *Service) ReadAtTime(ctx context.Context, timeStr string) (*types.MetricRecord, error) {
	t, err := timefmt.Parse(timeStr)
	if err != nil {
		return nil, err
	}
	return s.repository.GetAtTime(ctx, t)
}

func (s *Service) ReadBeforeTime(ctx context.Context, timeStr string) ([]types.MetricRecord, error) {
	t, err := timefmt.Parse(timeStr)
	if err != nil {
		return nil, err
	}
	return s.repository.GetBeforeOrAtTime(ctx, t)
}

func (s *Service) DeleteByID(ctx context.Context, id int64) (bool, error) {
	ok, err := s.repository.DeleteByID(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("metric deleted", "id", id)
	}
	return ok, nil
}

// DeleteBeforeTime removes every record at or before timeStr and returns the
// recorded times of the removed rows in ascending order.
func (s *Service) DeleteBeforeTime(ctx context.Context, timeStr string) ([]string, error) {
	t, err := timefmt.Parse(timeStr)
	if err != nil {
		return nil, err
	}
	deleted, err := s.repository.DeleteBeforeOrAtTime(ctx, t)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(deleted))
	for _, rec := range deleted {
		out = append(out, timefmt.Render(rec.RecordedAt))
	}
	s.logger.Info("metrics deleted", "cutoff", timefmt.Render(t), "count", len(out))
	return out, nil
}

// ReadSeries returns a bundle holding only metric. A non-empty after keeps
// entries strictly later than it.
func (s *Service) ReadSeries(ctx context.Context, metric types.Metric, order types.Order, after string) (types.Bundle, error) {
	if !metric.Valid() {
		return types.Bundle{}, fmt.Errorf("%w: unknown metric %d", ErrInvalidInput, int(metric))
	}
	var cursor *time.Time
	if after != "" {
		t, err := timefmt.Parse(after)
		if err != nil {
			return types.Bundle{}, err
		}
		cursor = &t
	}
	rows, err := s.repository.GetSeries(ctx, metric, order, cursor)
	if err != nil {
		return types.Bundle{}, err
	}
	return series.ShapeBundle([]types.Metric{metric}, map[types.Metric][]types.Row[float64]{metric: rows}), nil
}

// ReadBundle reads every requested metric from one transaction.
func (s *Service) ReadBundle(ctx context.Context, metrics []types.Metric, order types.Order) (types.Bundle, error) {
	requested := dedupe(metrics)
	for _, m := range requested {
		if !m.Valid() {
			return types.Bundle{}, fmt.Errorf("%w: unknown metric %d", ErrInvalidInput, int(m))
		}
	}
	perMetric := make(map[types.Metric][]types.Row[float64], len(requested))
	err := s.repository.ReadTx(ctx, func(repo repository.MetricRepository) error {
		for _, m := range requested {
			rows, err := repo.GetSeries(ctx, m, order, nil)
			if err != nil {
				return err
			}
			perMetric[m] = rows
		}
		return nil
	})
	if err != nil {
		return types.Bundle{}, err
	}
	return series.ShapeBundle(requested, perMetric), nil
}

func validateInput(in types.MetricInput) error {
	for name, v := range map[string]float32{"temperature": in.Temperature, "humidity": in.Humidity} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalidInput, name)
		}
	}
	return nil
}

func dedupe(metrics []types.Metric) []types.Metric {
	seen := make(map[types.Metric]bool, len(metrics))
	out := make([]types.Metric, 0, len(metrics))
	for _, m := range metrics {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
