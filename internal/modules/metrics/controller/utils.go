package controller

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"plantmon-server/internal/modules/metrics/types"
	"plantmon-server/internal/utils"
)

const maxBodyBytes = 1 << 20

// metricBody mirrors types.MetricInput with pointers so missing fields can be
// told apart from zero values.
type metricBody struct {
	Temperature  *float32 `json:"temperature"`
	Humidity     *float32 `json:"humidity"`
	Light        *int32   `json:"light"`
	SoilMoisture *int32   `json:"soil_moisture"`
}

func decodeMetricInput(w http.ResponseWriter, r *http.Request) (types.MetricInput, error) {
	var body metricBody
	if err := utils.DecodeStrict(http.MaxBytesReader(w, r.Body, maxBodyBytes), &body); err != nil {
		return types.MetricInput{}, fmt.Errorf("invalid body: %w", err)
	}

	var missing []string
	if body.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if body.Humidity == nil {
		missing = append(missing, "humidity")
	}
	if body.Light == nil {
		missing = append(missing, "light")
	}
	if body.SoilMoisture == nil {
		missing = append(missing, "soil_moisture")
	}
	if len(missing) > 0 {
		return types.MetricInput{}, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	return types.MetricInput{
		Temperature:  *body.Temperature,
		Humidity:     *body.Humidity,
		Light:        *body.Light,
		SoilMoisture: *body.SoilMoisture,
	}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q (expected positive integer)", s)
	}
	return id, nil
}

func metricLocation(id int64) string {
	return "/api/v1/metrics/" + strconv.FormatInt(id, 10)
}

func parseSeriesQuery(r *http.Request) (types.Metric, types.Order, error) {
	metric, err := types.ParseMetric(r.PathValue("metric"))
	if err != nil {
		return 0, 0, err
	}
	order, err := types.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		return 0, 0, err
	}
	return metric, order, nil
}

// parseBundleQuery reads ?metrics=a,b (repeatable). With no metrics given all
// four are returned.
func parseBundleQuery(r *http.Request) ([]types.Metric, types.Order, error) {
	q := r.URL.Query()
	order, err := types.ParseOrder(q.Get("order"))
	if err != nil {
		return nil, 0, err
	}

	var metrics []types.Metric
	for _, v := range q["metrics"] {
		for _, name := range strings.Split(v, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			m, err := types.ParseMetric(name)
			if err != nil {
				return nil, 0, err
			}
			metrics = append(metrics, m)
		}
	}
	if len(metrics) == 0 {
		metrics = append(metrics, types.AllMetrics...)
	}
	return metrics, order, nil
}
