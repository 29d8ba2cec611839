package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"plantmon-server/internal/timefmt"
)

// Metric identifies one of the measurement columns.
type Metric int

const (
	Temperature Metric = iota
	Humidity
	Light
	SoilMoisture
)

// AllMetrics lists every metric in column order.
var AllMetrics = []Metric{Temperature, Humidity, Light, SoilMoisture}

func (m Metric) String() string {
	switch m {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Light:
		return "light"
	case SoilMoisture:
		return "soil_moisture"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Column returns the table column holding m. The value is a constant and is
// safe to splice into SQL.
func (m Metric) Column() string {
	return m.String()
}

// Valid reports whether m is one of the known metrics.
func (m Metric) Valid() bool {
	return m >= Temperature && m <= SoilMoisture
}

// ParseMetric accepts the column name, case-insensitively, and the legacy
// "soilmoisture" spelling used by the chart frontend.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temperature":
		return Temperature, nil
	case "humidity":
		return Humidity, nil
	case "light":
		return Light, nil
	case "soil_moisture", "soilmoisture":
		return SoilMoisture, nil
	default:
		return 0, fmt.Errorf("unknown metric %q (allowed: temperature, humidity, light, soil_moisture)", s)
	}
}

// Order is the direction of a series by recorded time.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// SQL returns the ORDER BY keyword for o.
func (o Order) SQL() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

// ParseOrder defaults to Ascending for an empty string.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("invalid order %q (allowed: asc, desc)", s)
	}
}

// MetricInput is the write shape. All four measurements are required;
// recorded_at is never accepted from clients.
type MetricInput struct {
	Temperature  float32 `json:"temperature"`
	Humidity     float32 `json:"humidity"`
	Light        int32   `json:"light"`
	SoilMoisture int32   `json:"soil_moisture"`
}

// NewMetricRecord is a row before the store assigns its id. A nil RecordedAt
// is replaced by the store clock.
type NewMetricRecord struct {
	RecordedAt   *time.Time
	Temperature  *float32
	Humidity     *float32
	Light        *int32
	SoilMoisture *int32
}

// MetricRecord is one persisted reading. Any measurement may be absent.
type MetricRecord struct {
	ID           int64     `json:"id"`
	RecordedAt   time.Time `json:"recorded_at"`
	Temperature  *float32  `json:"temperature"`
	Humidity     *float32  `json:"humidity"`
	Light        *int32    `json:"light"`
	SoilMoisture *int32    `json:"soil_moisture"`
}

func (r MetricRecord) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID           int64    `json:"id"`
		RecordedAt   string   `json:"recorded_at"`
		Temperature  *float32 `json:"temperature"`
		Humidity     *float32 `json:"humidity"`
		Light        *int32   `json:"light"`
		SoilMoisture *int32   `json:"soil_moisture"`
	}
	return json.Marshal(wire{
		ID:           r.ID,
		RecordedAt:   timefmt.Render(r.RecordedAt),
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		Light:        r.Light,
		SoilMoisture: r.SoilMoisture,
	})
}

// Number is the set of measurement value types.
type Number interface {
	~float32 | ~float64 | ~int32
}

// Row is one stored (time, nullable value) pair for a single metric.
type Row[T Number] struct {
	RecordedAt time.Time
	Value      *T
}

// SeriesEntry is a present value of one metric at one instant.
type SeriesEntry[T Number] struct {
	Time  time.Time
	Value T
}

func (e SeriesEntry[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Time  string `json:"time"`
		Value T      `json:"value"`
	}{
		Time:  timefmt.Render(e.Time),
		Value: e.Value,
	})
}

// Bundle holds series for several metrics. A nil field was not requested and
// is omitted from JSON; a requested metric without rows encodes as [].
type Bundle struct {
	Temperature  *[]SeriesEntry[float32] `json:"temperature,omitempty"`
	Humidity     *[]SeriesEntry[float32] `json:"humidity,omitempty"`
	Light        *[]SeriesEntry[int32]   `json:"light,omitempty"`
	SoilMoisture *[]SeriesEntry[int32]   `json:"soil_moisture,omitempty"`
}
