package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type stageStat struct {
	events int64
	rows   int64
}

var (
	refreshesOK     int64
	refreshesFailed int64
	rowsFetched     int64
	rowsDropped     int64
	fieldsCoerced   int64
	csvExports      int64

	warnCounts  sync.Map // map[string]*int64, keyed by component
	errorCounts sync.Map // map[string]*int64, keyed by component
	stages      sync.Map // map[string]*stageStat
)

func recordWarn(component string) {
	v, _ := warnCounts.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	v, _ := errorCounts.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// IncrementRefresh records the outcome of one refresh cycle.
func IncrementRefresh(ok bool) {
	if ok {
		atomic.AddInt64(&refreshesOK, 1)
	} else {
		atomic.AddInt64(&refreshesFailed, 1)
	}
}

// IncrementRowsFetched records rows received from the data source.
func IncrementRowsFetched(n int) {
	atomic.AddInt64(&rowsFetched, int64(n))
	recordStage("fetch", n)
}

// IncrementRowsDropped records rows removed by the normalizer.
func IncrementRowsDropped(n int) {
	atomic.AddInt64(&rowsDropped, int64(n))
	recordStage("normalize_dropped", n)
}

// IncrementFieldsCoerced records non-date fields that failed to parse and
// were nulled.
func IncrementFieldsCoerced(n int) {
	atomic.AddInt64(&fieldsCoerced, int64(n))
	recordStage("normalize_coerced", n)
}

// IncrementCSVExport records a CSV export and the number of rows written.
func IncrementCSVExport(rows int) {
	atomic.AddInt64(&csvExports, 1)
	recordStage("csv_export", rows)
}

// RecordStageRows tracks arbitrary per-stage row counts.
func RecordStageRows(name string, rows int) {
	recordStage(name, rows)
}

func recordStage(name string, rows int) {
	v, _ := stages.LoadOrStore(name, &stageStat{})
	st := v.(*stageStat)
	atomic.AddInt64(&st.events, 1)
	atomic.AddInt64(&st.rows, int64(rows))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")

	stageData := map[string]map[string]int64{}
	stages.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*stageStat)
		stageData[name] = map[string]int64{
			"events": atomic.LoadInt64(&st.events),
			"rows":   atomic.LoadInt64(&st.rows),
		}
		return true
	})

	warnData := map[string]int64{}
	warnCounts.Range(func(k, v any) bool {
		warnData[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	errorData := map[string]int64{}
	errorCounts.Range(func(k, v any) bool {
		errorData[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	fields := Fields{
		"refreshes_ok":     atomic.LoadInt64(&refreshesOK),
		"refreshes_failed": atomic.LoadInt64(&refreshesFailed),
		"rows_fetched":     atomic.LoadInt64(&rowsFetched),
		"rows_dropped":     atomic.LoadInt64(&rowsDropped),
		"fields_coerced":   atomic.LoadInt64(&fieldsCoerced),
		"csv_exports":      atomic.LoadInt64(&csvExports),
		"warns":            warnData,
		"errors":           errorData,
		"stages":           stageData,
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
	}
	if memStats != nil {
		fields["memory_mb"] = int64(memStats.Used) / 1024 / 1024
	}
	if diskStats != nil {
		fields["disk_mb"] = int64(diskStats.Used) / 1024 / 1024
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
