package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"habitflow/config"
	"habitflow/internal/metrics"
	"habitflow/logger"
	"habitflow/models"
	"habitflow/processor"
)

type stubSource struct{}

func (stubSource) Fetch(ctx context.Context) ([]models.RawRow, error) {
	return nil, nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Columns: config.ColumnsConfig{
			Date:   "Date",
			Wake:   "Wake Up",
			Sleep:  "Sleep",
			Weight: "Weight",
		},
		RollingWindow:    7,
		RollingColumns:   []string{"Weight"},
		DefaultRangeDays: 30,
		MinRangeDays:     7,
		MaxRangeDays:     365,
		Streaks: []config.StreakRuleConfig{
			{Name: "weight_logged", Column: "Weight"},
		},
	}
}

func newDataServer(t *testing.T, refresher *processor.Refresher) (*Server, *gin.Engine, *processor.Engine) {
	t.Helper()

	log := logger.Logger()
	pipeline := testPipelineConfig()
	engine, err := processor.NewEngine(pipeline)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	cfg := config.DashboardConfig{
		Enabled:         true,
		Address:         ":0",
		RefreshInterval: time.Second,
		LogHistory:      10,
		MetricsHistory:  10,
	}
	srv, err := NewServer(cfg, pipeline, engine, refresher, log)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter("habitflow")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	return srv, router, engine
}

func seedSnapshot(t *testing.T, srv *Server, engine *processor.Engine) *models.Snapshot {
	t.Helper()

	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	f := func(v float64) *float64 { return &v }
	records := []models.DailyRecord{
		{Date: day(1), Wake: &models.TimeOfDay{Hour: 7}, Sleep: &models.TimeOfDay{Hour: 23}, Weight: f(80)},
		{Date: day(2), Wake: &models.TimeOfDay{Hour: 7, Minute: 30}, Sleep: &models.TimeOfDay{Hour: 23, Minute: 30}, Weight: f(81)},
		{Date: day(3), Wake: &models.TimeOfDay{Hour: 8}, Weight: f(82)},
	}

	snap := &models.Snapshot{
		ID:          "snap-good",
		RefreshedAt: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC),
		Table:       engine.Derive(records),
		FetchedRows: 3,
		Elapsed:     42 * time.Millisecond,
	}
	srv.ApplySnapshot(snap)
	return snap
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	body := make(map[string]interface{})
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func TestRecordsEndpoint(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	seedSnapshot(t, srv, engine)

	res := doRequest(t, router, http.MethodGet, "/api/records")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	body := decodeBody(t, res)
	if body["count"] != float64(3) {
		t.Fatalf("count = %v, want 3", body["count"])
	}
	if body["days"] != float64(30) {
		t.Fatalf("days = %v, want default 30", body["days"])
	}

	columns := body["columns"].([]interface{})
	if columns[0] != "Date" || columns[len(columns)-1] != models.ColCurrentStreak {
		t.Fatalf("unexpected column layout: %v", columns)
	}

	rows := body["rows"].([]interface{})
	last := rows[2].(map[string]interface{})
	if last["Date"] != "2024-01-03" {
		t.Fatalf("last row date = %v", last["Date"])
	}
	if last["Weight"] != float64(82) {
		t.Fatalf("last row weight = %v", last["Weight"])
	}
	if value, ok := last["Sleep"]; !ok || value != nil {
		t.Fatalf("missing sleep should render as null, got %v (present=%v)", value, ok)
	}
	if last[models.ColCurrentStreak] != float64(3) {
		t.Fatalf("last row streak = %v", last[models.ColCurrentStreak])
	}
}

func TestRecordsEndpointRejectsBadDays(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	seedSnapshot(t, srv, engine)

	res := doRequest(t, router, http.MethodGet, "/api/records?days=soon")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "days must be an integer") {
		t.Fatalf("unexpected error body: %s", res.Body.String())
	}
}

func TestRecordsEndpointClampsDays(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	seedSnapshot(t, srv, engine)

	body := decodeBody(t, doRequest(t, router, http.MethodGet, "/api/records?days=1"))
	if body["days"] != float64(7) {
		t.Fatalf("days below minimum clamped to %v, want 7", body["days"])
	}

	body = decodeBody(t, doRequest(t, router, http.MethodGet, "/api/records?days=100000"))
	if body["days"] != float64(365) {
		t.Fatalf("days above maximum clamped to %v, want 365", body["days"])
	}
}

func TestSummaryEndpoint(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	seedSnapshot(t, srv, engine)

	res := doRequest(t, router, http.MethodGet, "/api/summary")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	body := decodeBody(t, res)
	summary := body["summary"].(map[string]interface{})
	weight := summary["weight"].(map[string]interface{})
	if weight["current"] != float64(82) {
		t.Fatalf("current weight = %v, want 82", weight["current"])
	}
	if weight["change"] != float64(2) {
		t.Fatalf("weight change = %v, want 2", weight["change"])
	}

	streaks := summary["streaks"].(map[string]interface{})
	if streaks["weight_logged"] != float64(3) {
		t.Fatalf("weight_logged streak = %v, want 3", streaks["weight_logged"])
	}
}

func TestStreaksEndpoint(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	seedSnapshot(t, srv, engine)

	res := doRequest(t, router, http.MethodGet, "/api/streaks?column=Weight&condition=greater_than&target=80.5")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	body := decodeBody(t, res)
	if body["current"] != float64(2) {
		t.Fatalf("current streak = %v, want 2", body["current"])
	}
	points := body["points"].([]interface{})
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	first := points[0].(map[string]interface{})
	if first["streak"] != float64(0) {
		t.Fatalf("first point streak = %v, want 0", first["streak"])
	}
}

func TestStreaksEndpointValidation(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	seedSnapshot(t, srv, engine)

	cases := map[string]string{
		"missing column":         "/api/streaks",
		"unknown condition":      "/api/streaks?column=Weight&condition=at_least&target=1",
		"comparison sans target": "/api/streaks?column=Weight&condition=greater_than",
		"bad target":             "/api/streaks?column=Weight&condition=greater_than&target=heavy",
	}

	for name, path := range cases {
		if res := doRequest(t, router, http.MethodGet, path); res.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, res.Code)
		}
	}
}

func TestRefreshEndpoint(t *testing.T) {
	_, router, _ := newDataServer(t, nil)

	res := doRequest(t, router, http.MethodPost, "/api/refresh")
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("status without refresher = %d, want 503", res.Code)
	}

	pipeline := testPipelineConfig()
	engine, err := processor.NewEngine(pipeline)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	refresher := processor.NewRefresher(time.Minute, processor.NewPipeline(pipeline, stubSource{}, engine), make(chan *models.Snapshot, 1))

	_, router, _ = newDataServer(t, refresher)
	res = doRequest(t, router, http.MethodPost, "/api/refresh")
	if res.Code != http.StatusAccepted {
		t.Fatalf("status with refresher = %d, want 202", res.Code)
	}
}

func TestStatusEndpointTracksFailures(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	good := seedSnapshot(t, srv, engine)

	srv.ApplySnapshot(&models.Snapshot{
		ID:          "snap-bad",
		RefreshedAt: time.Date(2024, 1, 3, 13, 0, 0, 0, time.UTC),
		Err:         "sheet unavailable",
	})

	res := doRequest(t, router, http.MethodGet, "/api/status")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	body := decodeBody(t, res)
	if body["rows"] != float64(3) {
		t.Fatalf("rows = %v, want 3 from the previous good table", body["rows"])
	}

	lastRefresh := body["last_refresh"].(map[string]interface{})
	if lastRefresh["error"] != "sheet unavailable" {
		t.Fatalf("last refresh error = %v", lastRefresh["error"])
	}

	lastSuccess := body["last_success"].(map[string]interface{})
	if lastSuccess["snapshot_id"] != good.ID {
		t.Fatalf("last success id = %v, want %s", lastSuccess["snapshot_id"], good.ID)
	}

	// The records endpoint keeps serving the old table.
	records := decodeBody(t, doRequest(t, router, http.MethodGet, "/api/records"))
	if records["count"] != float64(3) {
		t.Fatalf("records count after failed refresh = %v, want 3", records["count"])
	}
}

func TestExportEndpointServesCSV(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)
	seedSnapshot(t, srv, engine)

	res := doRequest(t, router, http.MethodGet, "/export/records.csv")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("content type = %q", got)
	}

	lines := strings.Split(strings.TrimSpace(res.Body.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d lines", len(lines))
	}
	wantHeader := "Date,Wake Up,Sleep,Weight,Sleep Duration (hours),Weight (7-day avg),current_streak"
	if lines[0] != wantHeader {
		t.Fatalf("header = %q, want %q", lines[0], wantHeader)
	}
	wantLast := "2024/01/03,8:00 AM,,82,8.5,81,3"
	if lines[3] != wantLast {
		t.Fatalf("last row = %q, want %q", lines[3], wantLast)
	}
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv, router, _ := newDataServer(t, nil)

	metrics.EmitMetric(logger.Logger(), "refresher", "refresh_rows_total", 5, "gauge", logger.Fields{"snapshot_id": "snap-good"})

	res := doRequest(t, router, http.MethodGet, "/api/metrics")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if len(srv.metricStore.snapshot()) == 0 {
		t.Fatalf("metrics store empty")
	}
}

func TestWebsocketReceivesRefreshBroadcast(t *testing.T) {
	srv, router, engine := newDataServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.run(ctx)

	seedSnapshot(t, srv, engine)

	ts := httptest.NewServer(router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	message := make(map[string]interface{})
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}

	if message["type"] != "refresh" {
		t.Fatalf("message type = %v, want refresh", message["type"])
	}
	if message["snapshot_id"] != "snap-good" {
		t.Fatalf("snapshot id = %v, want snap-good", message["snapshot_id"])
	}
}
