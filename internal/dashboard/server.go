package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"habitflow/config"
	"habitflow/internal/metrics"
	"habitflow/logger"
	"habitflow/models"
	"habitflow/processor"
	"habitflow/writer"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

// apiDateLayout renders dates in the JSON API. The CSV export keeps the
// sheet's native form; the API uses ISO dates so browser code can sort and
// parse them without a format table.
const apiDateLayout = "2006-01-02"

// Server hosts the Gin-powered habit dashboard: the HTML page, the JSON API
// over the latest derived table, the CSV download and the websocket stream
// of refresh notifications.
type Server struct {
	cfg               config.DashboardConfig
	pipeline          config.PipelineConfig
	log               *logger.Log
	engine            *processor.Engine
	refresher         *processor.Refresher
	store             *snapshotStore
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	resourceSampler   *resourceSampler
	hub               *hub
	httpServer        *http.Server
	refreshIntervalMs int
	startedAt         time.Time
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, pipeline config.PipelineConfig, engine *processor.Engine, refresher *processor.Refresher, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	if pipeline.MinRangeDays <= 0 {
		pipeline.MinRangeDays = 1
	}
	if pipeline.MaxRangeDays < pipeline.MinRangeDays {
		pipeline.MaxRangeDays = 365
	}
	if pipeline.DefaultRangeDays <= 0 {
		pipeline.DefaultRangeDays = 30
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log)

	server := &Server{
		cfg:               cfg,
		pipeline:          pipeline,
		log:               log,
		engine:            engine,
		refresher:         refresher,
		store:             newSnapshotStore(),
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     handlerID,
		resourceSampler:   sampler,
		hub:               newHub(log),
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		startedAt:         time.Now(),
	}

	if server.refreshIntervalMs <= 0 {
		server.refreshIntervalMs = int((5 * time.Second) / time.Millisecond)
	}

	return server, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	go s.hub.run(ctx)

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// ApplySnapshot publishes a refresh outcome to the dashboard stores and
// notifies the connected websocket clients.
func (s *Server) ApplySnapshot(snap *models.Snapshot) {
	if s == nil || snap == nil {
		return
	}
	s.store.apply(snap)
	s.hub.publish(refreshMessage(snap))
}

func refreshMessage(snap *models.Snapshot) gin.H {
	message := gin.H{
		"type":         "refresh",
		"snapshot_id":  snap.ID,
		"refreshed_at": snap.RefreshedAt.Format(time.RFC3339Nano),
		"rows":         snap.Table.Len(),
		"fetched_rows": snap.FetchedRows,
		"elapsed_ms":   snap.Elapsed.Milliseconds(),
	}
	if snap.Err != "" {
		message["error"] = snap.Err
	}
	return message
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Allow running behind load balancers and accessing the dashboard from
	// public networks by trusting all proxies by default. Users can
	// override Gin's trusted proxy list via the GIN_TRUSTED_PROXIES
	// environment variable if needed.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
			"DefaultRangeDays":  s.pipeline.DefaultRangeDays,
			"MinRangeDays":      s.pipeline.MinRangeDays,
			"MaxRangeDays":      s.pipeline.MaxRangeDays,
		})
	})

	router.GET("/api/records", func(c *gin.Context) {
		view, days, ok := s.tableView(c)
		if !ok {
			return
		}

		var columns []string
		rows := make([]gin.H, 0, view.Len())
		if view.Len() > 0 {
			columns = view.Header.Columns()
			for _, rec := range view.Records {
				rows = append(rows, recordRow(view.Header, rec))
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"days":    days,
			"count":   len(rows),
			"columns": columns,
			"rows":    rows,
		})
	})

	router.GET("/api/summary", func(c *gin.Context) {
		view, days, ok := s.tableView(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"days":    days,
			"summary": processor.Summarize(view),
		})
	})

	router.GET("/api/streaks", func(c *gin.Context) {
		if s.engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "derivation engine unavailable"})
			return
		}

		column := strings.TrimSpace(c.Query("column"))
		if column == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "column parameter is required"})
			return
		}

		condition, err := processor.ParseCondition(c.Query("condition"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rule := processor.StreakRule{Name: column, Column: column, Condition: condition}
		if raw := strings.TrimSpace(c.Query("target")); raw != "" {
			target, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("target must be a number, got %q", raw)})
				return
			}
			rule.Target = &target
		}
		if condition != processor.ConditionPresent && rule.Target == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("condition %q requires a target", condition)})
			return
		}

		view, days, ok := s.tableView(c)
		if !ok {
			return
		}

		counts := s.engine.ComputeStreaks(view.Records, rule)
		points := make([]gin.H, 0, len(counts))
		for i, count := range counts {
			points = append(points, gin.H{
				"date":   view.Records[i].Date.Format(apiDateLayout),
				"streak": count,
			})
		}
		current := 0
		if len(counts) > 0 {
			current = counts[len(counts)-1]
		}

		c.JSON(http.StatusOK, gin.H{
			"column":    column,
			"condition": string(condition),
			"target":    rule.Target,
			"days":      days,
			"current":   current,
			"points":    points,
		})
	})

	router.POST("/api/refresh", func(c *gin.Context) {
		if s.refresher == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresher unavailable"})
			return
		}
		s.refresher.TriggerRefresh()
		c.JSON(http.StatusAccepted, gin.H{"status": "refresh scheduled"})
	})

	router.GET("/api/status", func(c *gin.Context) {
		last, lastOK := s.store.status()
		table := s.store.currentTable()

		payload := gin.H{
			"app":               appName,
			"uptime_seconds":    int(time.Since(s.startedAt).Seconds()),
			"rows":              table.Len(),
			"refresher_running": s.refresher != nil && s.refresher.IsRunning(),
			"ws_clients":        s.hub.clientCount(),
			"range": gin.H{
				"default_days": s.pipeline.DefaultRangeDays,
				"min_days":     s.pipeline.MinRangeDays,
				"max_days":     s.pipeline.MaxRangeDays,
			},
		}

		if first, ok := table.MinDate(); ok {
			payload["first_date"] = first.Format(apiDateLayout)
		}
		if lastDate, ok := table.MaxDate(); ok {
			payload["last_date"] = lastDate.Format(apiDateLayout)
		}

		if last != nil {
			refresh := gin.H{
				"snapshot_id":  last.ID,
				"refreshed_at": last.RefreshedAt.Format(time.RFC3339Nano),
				"fetched_rows": last.FetchedRows,
				"elapsed_ms":   last.Elapsed.Milliseconds(),
			}
			if last.Err != "" {
				refresh["error"] = last.Err
			}
			payload["last_refresh"] = refresh
		}

		if lastOK != nil && lastOK != last {
			payload["last_success"] = gin.H{
				"snapshot_id":  lastOK.ID,
				"refreshed_at": lastOK.RefreshedAt.Format(time.RFC3339Nano),
			}
		}

		c.JSON(http.StatusOK, payload)
	})

	router.GET("/export/records.csv", func(c *gin.Context) {
		view, _, ok := s.tableView(c)
		if !ok {
			return
		}

		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="records.csv"`)
		if view.Len() == 0 {
			c.Status(http.StatusOK)
			return
		}
		if err := writer.WriteTable(c.Writer, view); err != nil {
			s.log.WithComponent("dashboard").WithError(err).Error("csv download failed")
		}
	})

	router.GET("/ws", func(c *gin.Context) {
		s.hub.serve(c.Writer, c.Request)
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		snapshots := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"disk_used":      snap.DiskUsed,
				"disk_total":     snap.DiskTotal,
				"disk_percent":   snap.DiskPct,
				"goroutines":     snap.Goroutines,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	return router, nil
}

// tableView resolves the requested day range against the current table. On a
// bad days parameter it writes the error response itself and reports false.
func (s *Server) tableView(c *gin.Context) (*models.Table, int, bool) {
	days := s.pipeline.DefaultRangeDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("days must be an integer, got %q", raw)})
			return nil, 0, false
		}
		days = parsed
	}
	days = processor.ClampRangeDays(days, s.pipeline.MinRangeDays, s.pipeline.MaxRangeDays)

	view, err := processor.LastNDays(s.store.currentTable(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, 0, false
	}
	if view == nil {
		view = &models.Table{}
	}
	return view, days, true
}

// recordRow renders one record as a column-name keyed object, mirroring the
// ordering contract of Header.Columns. Null cells become JSON nulls.
func recordRow(hdr models.Header, rec models.DerivedRecord) gin.H {
	row := gin.H{hdr.Date: rec.Date.Format(apiDateLayout)}
	if hdr.Wake != "" {
		row[hdr.Wake] = timeValue(rec.Wake)
	}
	if hdr.Sleep != "" {
		row[hdr.Sleep] = timeValue(rec.Sleep)
	}
	if hdr.Weight != "" {
		row[hdr.Weight] = floatValue(rec.Weight)
	}
	for _, col := range hdr.Numeric {
		row[col] = floatValue(rec.Numeric(col))
	}
	for _, col := range hdr.Extra {
		if value, ok := rec.Extra[col]; ok && strings.TrimSpace(value) != "" {
			row[col] = value
		} else {
			row[col] = nil
		}
	}
	row[models.ColSleepDuration] = floatValue(rec.SleepDuration)
	for _, col := range hdr.Rolling {
		row[hdr.RollingName(col)] = floatValue(rec.RollingAvg[col])
	}
	for _, rule := range hdr.Streaks {
		row[hdr.StreakName(rule)] = rec.Streaks[rule]
	}
	return row
}

func timeValue(t *models.TimeOfDay) interface{} {
	if t == nil {
		return nil
	}
	return t.String()
}

func floatValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
