// Package series turns nullable per-metric rows into compact series and
// assembles them into bundles.
package series

import (
	"plantmon-server/internal/modules/metrics/types"
)

// ShapeOne drops rows without a value and keeps the input order. The result
// is never nil.
func ShapeOne[T types.Number](rows []types.Row[T]) []types.SeriesEntry[T] {
	return shape(rows, func(v T) T { return v })
}

// ShapeAs is ShapeOne for store rows, converting each value to the metric's
// native type.
func ShapeAs[T types.Number](rows []types.Row[float64]) []types.SeriesEntry[T] {
	return shape(rows, func(v float64) T { return T(v) })
}

func shape[S, T types.Number](rows []types.Row[S], conv func(S) T) []types.SeriesEntry[T] {
	out := make([]types.SeriesEntry[T], 0, len(rows))
	for _, r := range rows {
		if r.Value == nil {
			continue
		}
		out = append(out, types.SeriesEntry[T]{Time: r.RecordedAt, Value: conv(*r.Value)})
	}
	return out
}

// ShapeBundle shapes the rows of every requested metric. Metrics outside
// requested stay nil even when rows were supplied for them; a requested metric
// without rows becomes an empty series.
func ShapeBundle(requested []types.Metric, perMetric map[types.Metric][]types.Row[float64]) types.Bundle {
	var b types.Bundle
	for _, m := range requested {
		rows := perMetric[m]
		switch m {
		case types.Temperature:
			s := ShapeAs[float32](rows)
			b.Temperature = &s
		case types.Humidity:
			s := ShapeAs[float32](rows)
			b.Humidity = &s
		case types.Light:
			s := ShapeAs[int32](rows)
			b.Light = &s
		case types.SoilMoisture:
			s := ShapeAs[int32](rows)
			b.SoilMoisture = &s
		}
	}
	return b
}
