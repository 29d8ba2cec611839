package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"plantmon-server/internal/config"
	"plantmon-server/internal/httpapi"
	"plantmon-server/internal/modules/metrics/repository"
	"plantmon-server/internal/modules/metrics/service"
	"plantmon-server/internal/modules/metrics/types"
	"plantmon-server/internal/timefmt"
)

type mockService struct {
	record    *types.MetricRecord
	records   []types.MetricRecord
	deleted   bool
	deletedTS []string
	bundle    types.Bundle
	err       error

	gotInput   types.MetricInput
	gotID      int64
	gotTime    string
	gotMetric  types.Metric
	gotOrder   types.Order
	gotAfter   string
	gotMetrics []types.Metric
}

func (m *mockService) CreateMetric(_ context.Context, in types.MetricInput) (types.MetricRecord, error) {
	m.gotInput = in
	if m.err != nil {
		return types.MetricRecord{}, m.err
	}
	return *m.record, nil
}

func (m *mockService) ReadByID(_ context.Context, id int64) (*types.MetricRecord, error) {
	m.gotID = id
	return m.record, m.err
}

func (m *mockService) ReadAtTime(_ context.Context, s string) (*types.MetricRecord, error) {
	m.gotTime = s
	if _, err := timefmt.Parse(s); err != nil {
		return nil, err
	}
	return m.record, m.err
}

func (m *mockService) ReadBeforeTime(_ context.Context, s string) ([]types.MetricRecord, error) {
	m.gotTime = s
	return m.records, m.err
}

func (m *mockService) DeleteByID(_ context.Context, id int64) (bool, error) {
	m.gotID = id
	return m.deleted, m.err
}

func (m *mockService) DeleteBeforeTime(_ context.Context, s string) ([]string, error) {
	m.gotTime = s
	if _, err := timefmt.Parse(s); err != nil {
		return nil, err
	}
	return m.deletedTS, m.err
}

func (m *mockService) ReadSeries(_ context.Context, metric types.Metric, order types.Order, after string) (types.Bundle, error) {
	m.gotMetric, m.gotOrder, m.gotAfter = metric, order, after
	return m.bundle, m.err
}

func (m *mockService) ReadBundle(_ context.Context, metrics []types.Metric, order types.Order) (types.Bundle, error) {
	m.gotMetrics, m.gotOrder = metrics, order
	return m.bundle, m.err
}

func serve(t *testing.T, svc MetricService, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewMetricsController(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(mux)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func sampleRecord() *types.MetricRecord {
	temp, hum := float32(20), float32(50)
	light, soil := int32(100), int32(300)
	return &types.MetricRecord{
		ID:           7,
		RecordedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Temperature:  &temp,
		Humidity:     &hum,
		Light:        &light,
		SoilMoisture: &soil,
	}
}

func Test_handleCreate(t *testing.T) {
	t.Run("creates metric and returns 201", func(t *testing.T) {
		svc := &mockService{record: sampleRecord()}
		rec := serve(t, svc, http.MethodPost, "/api/v1/metrics", `{"temperature":20,"humidity":50,"light":100,"soil_moisture":300}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d; want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
		}
		if loc := rec.Header().Get("Location"); loc != "/api/v1/metrics/7" {
			t.Errorf("Location = %q; want /api/v1/metrics/7", loc)
		}
		want := types.MetricInput{Temperature: 20, Humidity: 50, Light: 100, SoilMoisture: 300}
		if svc.gotInput != want {
			t.Errorf("input = %+v; want %+v", svc.gotInput, want)
		}
		var got map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got["recorded_at"] != "2024-01-01T00:00:00Z" {
			t.Errorf("recorded_at = %v; want 2024-01-01T00:00:00Z", got["recorded_at"])
		}
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing field", body: `{"temperature":20,"humidity":50,"light":100}`, want: "soil_moisture"},
		{name: "unknown field", body: `{"temperature":20,"humidity":50,"light":100,"soil_moisture":1,"recorded_at":"2024-01-01T00:00:00Z"}`, want: "invalid body"},
		{name: "not json", body: `temperature=20`, want: "invalid body"},
		{name: "trailing data", body: `{"temperature":20,"humidity":50,"light":100,"soil_moisture":1} {}`, want: "trailing"},
		{name: "light not integer", body: `{"temperature":20,"humidity":50,"light":1.5,"soil_moisture":1}`, want: "invalid body"},
	}
	for _, tt := range tests {
		t.Run("400 on "+tt.name, func(t *testing.T) {
			rec := serve(t, &mockService{record: sampleRecord()}, http.MethodPost, "/api/v1/metrics", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q; want it to mention %q", rec.Body.String(), tt.want)
			}
		})
	}

	t.Run("storage failure is opaque 500", func(t *testing.T) {
		svc := &mockService{err: &repository.StorageError{Op: "insert metric", Err: errors.New("disk I/O error")}}
		rec := serve(t, svc, http.MethodPost, "/api/v1/metrics", `{"temperature":20,"humidity":50,"light":100,"soil_moisture":300}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
		if strings.Contains(rec.Body.String(), "disk") {
			t.Errorf("body leaks storage detail: %q", rec.Body.String())
		}
	})

	t.Run("invalid input from service is 400", func(t *testing.T) {
		svc := &mockService{err: service.ErrInvalidInput}
		rec := serve(t, svc, http.MethodPost, "/api/v1/metrics", `{"temperature":20,"humidity":50,"light":100,"soil_moisture":300}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func Test_handleGetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &mockService{record: sampleRecord()}
		rec := serve(t, svc, http.MethodGet, "/api/v1/metrics/7", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if svc.gotID != 7 {
			t.Errorf("id = %d; want 7", svc.gotID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := serve(t, &mockService{}, http.MethodGet, "/api/v1/metrics/8", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusNotFound)
		}
	})

	for _, id := range []string{"abc", "0", "-3"} {
		t.Run("bad id "+id, func(t *testing.T) {
			rec := serve(t, &mockService{}, http.MethodGet, "/api/v1/metrics/"+id, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func Test_handleDeleteByID(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		rec := serve(t, &mockService{deleted: true}, http.MethodDelete, "/api/v1/metrics/3", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusNoContent)
		}
	})

	t.Run("nothing matched", func(t *testing.T) {
		rec := serve(t, &mockService{deleted: false}, http.MethodDelete, "/api/v1/metrics/3", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("integrity violation is 500", func(t *testing.T) {
		rec := serve(t, &mockService{err: repository.ErrIntegrity}, http.MethodDelete, "/api/v1/metrics/3", "")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func Test_handleGetAtTime(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &mockService{record: sampleRecord()}
		rec := serve(t, svc, http.MethodGet, "/api/v1/metrics/time/2024-01-01T00:00:00Z", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if svc.gotTime != "2024-01-01T00:00:00Z" {
			t.Errorf("time = %q", svc.gotTime)
		}
	})

	t.Run("malformed time is 400 not 404", func(t *testing.T) {
		rec := serve(t, &mockService{}, http.MethodGet, "/api/v1/metrics/time/2024-01-01", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("no match is 404", func(t *testing.T) {
		rec := serve(t, &mockService{}, http.MethodGet, "/api/v1/metrics/time/2024-01-01T00:00:00Z", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func Test_handleGetBefore(t *testing.T) {
	svc := &mockService{records: []types.MetricRecord{*sampleRecord()}}
	rec := serve(t, svc, http.MethodGet, "/api/v1/metrics/before/2024-01-02T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	var got []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != float64(7) {
		t.Errorf("body = %v", got)
	}
}

func Test_handleDeleteBefore(t *testing.T) {
	t.Run("returns deleted timestamps", func(t *testing.T) {
		svc := &mockService{deletedTS: []string{"2024-01-01T00:00:00Z"}}
		rec := serve(t, svc, http.MethodDelete, "/api/v1/metrics/before/2024-01-01T12:00:00Z", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		var got []string
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 1 || got[0] != "2024-01-01T00:00:00Z" {
			t.Errorf("deleted = %v", got)
		}
	})

	t.Run("malformed time is 400", func(t *testing.T) {
		rec := serve(t, &mockService{}, http.MethodDelete, "/api/v1/metrics/before/noon", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func Test_handleSeries(t *testing.T) {
	t.Run("legacy metric name and default order", func(t *testing.T) {
		svc := &mockService{}
		rec := serve(t, svc, http.MethodGet, "/api/v1/data/soilmoisture", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if svc.gotMetric != types.SoilMoisture || svc.gotOrder != types.Ascending || svc.gotAfter != "" {
			t.Errorf("got metric=%v order=%v after=%q", svc.gotMetric, svc.gotOrder, svc.gotAfter)
		}
	})

	t.Run("after cursor and descending", func(t *testing.T) {
		svc := &mockService{}
		rec := serve(t, svc, http.MethodGet, "/api/v1/data/temperature/2024-01-01T00:00:00Z?order=desc", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if svc.gotAfter != "2024-01-01T00:00:00Z" || svc.gotOrder != types.Descending {
			t.Errorf("after=%q order=%v", svc.gotAfter, svc.gotOrder)
		}
	})

	t.Run("unknown metric", func(t *testing.T) {
		rec := serve(t, &mockService{}, http.MethodGet, "/api/v1/data/pressure", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("bad order", func(t *testing.T) {
		rec := serve(t, &mockService{}, http.MethodGet, "/api/v1/data/light?order=sideways", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func Test_handleBundle(t *testing.T) {
	t.Run("defaults to all metrics", func(t *testing.T) {
		svc := &mockService{}
		rec := serve(t, svc, http.MethodGet, "/api/v1/data", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if len(svc.gotMetrics) != 4 {
			t.Errorf("metrics = %v; want all four", svc.gotMetrics)
		}
	})

	t.Run("selected metrics only", func(t *testing.T) {
		empty := []types.SeriesEntry[float32]{}
		svc := &mockService{bundle: types.Bundle{Humidity: &empty}}
		rec := serve(t, svc, http.MethodGet, "/api/v1/data?metrics=humidity,light&metrics=humidity&order=desc", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		want := []types.Metric{types.Humidity, types.Light, types.Humidity}
		if len(svc.gotMetrics) != len(want) {
			t.Fatalf("metrics = %v; want %v", svc.gotMetrics, want)
		}
		for i := range want {
			if svc.gotMetrics[i] != want[i] {
				t.Errorf("metrics[%d] = %v; want %v", i, svc.gotMetrics[i], want[i])
			}
		}
		if body := strings.TrimSpace(rec.Body.String()); body != `{"humidity":[]}` {
			t.Errorf("body = %s; want {\"humidity\":[]}", body)
		}
	})

	t.Run("unknown metric", func(t *testing.T) {
		rec := serve(t, &mockService{}, http.MethodGet, "/api/v1/data?metrics=pressure", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestStorageFailure_LoggedWithRequestID(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	mux := http.NewServeMux()
	svc := &mockService{err: &repository.StorageError{Op: "read bundle", Err: errors.New("disk I/O error")}}
	NewMetricsController(svc, logger).RegisterRoutes(mux)
	handler := httpapi.NewServer(config.Config{}, mux, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler

	req := httptest.NewRequest(http.MethodGet, "/api/v1/data", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
	}
	var entry map[string]any
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", logs.String(), err)
	}
	if entry["request_id"] != "req-42" {
		t.Errorf("request_id = %v; want req-42", entry["request_id"])
	}
	if !strings.Contains(fmt.Sprint(entry["error"]), "disk I/O error") {
		t.Errorf("error = %v; want storage cause", entry["error"])
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["request_id"] != "req-42" || body["message"] != "storage failure" {
		t.Errorf("body = %v", body)
	}
}
