package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-metrics/internal/store"
	"github.com/i474232898/weather-metrics/internal/weather"
)

var testNow = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

type stubIngester struct {
	passes atomic.Int32
}

func (s *stubIngester) RunIngestionPass(_ context.Context, locs []weather.LocationSpec) []weather.Outcome {
	s.passes.Add(1)
	out := make([]weather.Outcome, len(locs))
	for i, l := range locs {
		out[i] = weather.Outcome{Location: l, Skipped: true, Err: weather.ErrProviderUnavailable}
	}
	return out
}

func newTestApp(t *testing.T) (*fiber.App, *store.MemoryStore, *stubIngester) {
	t.Helper()

	st := store.NewMemoryStore()
	ing := &stubIngester{}
	svc := weather.NewService(st, ing,
		[]weather.LocationSpec{{City: "Dublin", Country: "Ireland"}},
		weather.WithClock(func() time.Time { return testNow }),
	)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	RegisterRoutes(app, svc)
	return app, st, ing
}

func seedDUB1(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	_, err := st.InsertReadings(context.Background(), []weather.Reading{
		{StationID: "DUB1", City: "Dublin", Country: "Ireland", Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), Temperature: weather.Float64(10), Humidity: weather.Int(80)},
		{StationID: "DUB1", City: "Dublin", Country: "Ireland", Timestamp: time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), Temperature: weather.Float64(15), Humidity: weather.Int(70)},
	})
	require.NoError(t, err)
}

func doJSON(t *testing.T, app *fiber.App, req *http.Request, out any) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func TestMetricsAverage_DUB1(t *testing.T) {
	app, st, _ := newTestApp(t)
	seedDUB1(t, st)

	var rows []map[string]any
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet,
		"/metrics/average?metrics=Temperature&station_ids=DUB1&start_date=2024-01-01&end_date=2024-01-01", nil), &rows)

	require.Equal(t, http.StatusOK, code)
	require.Len(t, rows, 1)
	assert.Equal(t, "DUB1", rows[0]["station_id"])
	assert.Equal(t, "Dublin", rows[0]["city"])
	assert.InDelta(t, 12.5, rows[0]["avg_Temperature"], 1e-9)
}

func TestRoutes_ServedUnderAPIPrefix(t *testing.T) {
	app, st, _ := newTestApp(t)
	seedDUB1(t, st)

	for _, path := range []string{
		APIPrefix + "/metrics/average?metrics=Temperature&station_ids=DUB1&start_date=2024-01-01&end_date=2024-01-01",
		"/metrics/average?metrics=Temperature&station_ids=DUB1&start_date=2024-01-01&end_date=2024-01-01",
	} {
		var rows []map[string]any
		code := doJSON(t, app, httptest.NewRequest(http.MethodGet, path, nil), &rows)
		require.Equal(t, http.StatusOK, code, path)
		require.Len(t, rows, 1, path)
		assert.InDelta(t, 12.5, rows[0]["avg_Temperature"], 1e-9)
	}

	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/metrics", strings.NewReader(
		`{"station_id":"GAL1","city":"Galway","country":"Ireland","timestamp":"2024-01-02T11:30:00Z"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusCreated, doJSON(t, app, req, nil))
}

func TestMetricsAverage_OutsideRangeIsEmpty(t *testing.T) {
	app, st, _ := newTestApp(t)
	seedDUB1(t, st)

	var rows []map[string]any
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet,
		"/metrics/average?metrics=Temperature&station_ids=DUB1&start_date=2030-01-01&end_date=2030-01-02", nil), &rows)

	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestMetricsAverage_RejectsUnknownMetric(t *testing.T) {
	app, _, _ := newTestApp(t)

	var body map[string]any
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet, "/metrics/average?metrics=Rainfall", nil), &body)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, true, body["error"])
	assert.Contains(t, body["message"], "Rainfall")
}

func TestMetricsAverage_RejectsBadDates(t *testing.T) {
	app, _, _ := newTestApp(t)

	code := doJSON(t, app, httptest.NewRequest(http.MethodGet,
		"/metrics/average?metrics=Temperature&start_date=2024-02-01&end_date=2024-01-01", nil), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, app, httptest.NewRequest(http.MethodGet,
		"/metrics/average?metrics=Temperature&start_date=01/02/2024", nil), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsStat_Get(t *testing.T) {
	app, st, _ := newTestApp(t)
	seedDUB1(t, st)

	var rows []map[string]any
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet,
		"/metrics/stat?metric=Temperature&metric=Humidity&stat=max&city=dublin&start_date=2024-01-01&end_date=2024-01-01", nil), &rows)

	require.Equal(t, http.StatusOK, code)
	require.Len(t, rows, 1)
	assert.InDelta(t, 15, rows[0]["max_Temperature"], 1e-9)
	assert.InDelta(t, 80, rows[0]["max_Humidity"], 1e-9)

	code = doJSON(t, app, httptest.NewRequest(http.MethodGet, "/metrics/stat?metric=Temperature&stat=median", nil), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsStat_Post(t *testing.T) {
	app, st, _ := newTestApp(t)
	seedDUB1(t, st)

	body := `{"metrics":["Temperature","Humidity"],"stat":"min","start_date":"2024-01-01","end_date":"2024-01-01","station_ids":["DUB1"]}`
	req := httptest.NewRequest(http.MethodPost, "/metrics/stat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	var rows []map[string]any
	code := doJSON(t, app, req, &rows)

	require.Equal(t, http.StatusOK, code)
	require.Len(t, rows, 1)
	assert.InDelta(t, 10, rows[0]["min_Temperature"], 1e-9)
	assert.InDelta(t, 70, rows[0]["min_Humidity"], 1e-9)

	req = httptest.NewRequest(http.MethodPost, "/metrics/stat", strings.NewReader(`{"stat":"avg"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, doJSON(t, app, req, nil))
}

func TestInsertReading(t *testing.T) {
	app, st, _ := newTestApp(t)

	body := `{"station_id":"GAL1","city":"Galway","country":"Ireland","timestamp":"2024-01-02T11:30:00Z","temperature":8.5,"humidity":91}`
	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/metrics", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return doJSON(t, app, req, nil)
	}

	assert.Equal(t, http.StatusCreated, post())
	assert.Equal(t, http.StatusConflict, post())

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertReading_Validation(t *testing.T) {
	app, _, _ := newTestApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing station", `{"city":"Galway","country":"Ireland","timestamp":"2024-01-02T11:30:00Z"}`},
		{"missing timestamp", `{"station_id":"GAL1","city":"Galway","country":"Ireland"}`},
		{"humidity out of range", `{"station_id":"GAL1","city":"Galway","country":"Ireland","timestamp":"2024-01-02T11:30:00Z","humidity":140}`},
		{"malformed json", `{"station_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/metrics", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			assert.Equal(t, http.StatusBadRequest, doJSON(t, app, req, nil))
		})
	}
}

func TestSensors_FreshDataSkipsIngestion(t *testing.T) {
	app, st, ing := newTestApp(t)
	_, err := st.InsertReadings(context.Background(), []weather.Reading{
		{StationID: "DUB1", City: "Dublin", Country: "Ireland", Timestamp: testNow.Add(-2 * time.Minute), Temperature: weather.Float64(9)},
		{StationID: "GAL1", City: "Galway", Country: "Ireland", Timestamp: testNow.Add(-3 * time.Minute), Temperature: weather.Float64(7)},
	})
	require.NoError(t, err)

	var readings []weather.Reading
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet, "/sensors?station_ids=GAL1", nil), &readings)

	require.Equal(t, http.StatusOK, code)
	require.Len(t, readings, 1)
	assert.Equal(t, "GAL1", readings[0].StationID)
	assert.Equal(t, int32(0), ing.passes.Load())
}

func TestSensors_UnknownStationWithFreshStore(t *testing.T) {
	app, st, ing := newTestApp(t)
	_, err := st.InsertReadings(context.Background(), []weather.Reading{
		{StationID: "DUB1", City: "Dublin", Country: "Ireland", Timestamp: testNow.Add(-2 * time.Minute), Temperature: weather.Float64(9)},
	})
	require.NoError(t, err)

	var readings []weather.Reading
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet, "/sensors?station_ids=NOPE", nil), &readings)

	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, readings)
	assert.Equal(t, int32(0), ing.passes.Load())
}

func TestSensors_StaleDataFallsBackWhenProviderDown(t *testing.T) {
	app, st, ing := newTestApp(t)
	_, err := st.InsertReadings(context.Background(), []weather.Reading{
		{StationID: "DUB1", City: "Dublin", Country: "Ireland", Timestamp: testNow.Add(-time.Hour), Temperature: weather.Float64(9)},
	})
	require.NoError(t, err)

	var readings []weather.Reading
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet, "/sensors", nil), &readings)

	require.Equal(t, http.StatusOK, code)
	require.Len(t, readings, 1)
	assert.Equal(t, int32(1), ing.passes.Load())
}

type failingStore struct{ weather.Store }

func (failingStore) LatestPerStation(context.Context) ([]weather.Reading, error) {
	return nil, weather.ErrStore
}

func TestErrorHandler_HidesInternalErrors(t *testing.T) {
	svc := weather.NewService(failingStore{}, nil, nil)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	RegisterRoutes(app, svc)

	var body map[string]any
	code := doJSON(t, app, httptest.NewRequest(http.MethodGet, "/sensors", nil), &body)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body["message"])
}
