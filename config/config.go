package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Habitflow HabitflowConfig `yaml:"habitflow"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Export    ExportConfig    `yaml:"export"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type HabitflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SheetsConfig struct {
	SpreadsheetID string          `yaml:"spreadsheet_id"`
	Range         string          `yaml:"range"`
	BaseURL       string          `yaml:"base_url"`
	APIKey        string          `yaml:"api_key"`
	TokenFile     string          `yaml:"token_file"`
	Timeout       time.Duration   `yaml:"timeout"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Retry         RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ColumnsConfig binds the well-known spreadsheet headers to their roles.
type ColumnsConfig struct {
	Date   string `yaml:"date"`
	Wake   string `yaml:"wake"`
	Sleep  string `yaml:"sleep"`
	Weight string `yaml:"weight"`
}

// StreakRuleConfig declares one streak column: the source column, the
// comparison condition and its numeric target. An empty condition counts
// days where the column has any value.
type StreakRuleConfig struct {
	Name      string   `yaml:"name"`
	Column    string   `yaml:"column"`
	Condition string   `yaml:"condition"`
	Target    *float64 `yaml:"target"`
}

type PipelineConfig struct {
	Columns          ColumnsConfig      `yaml:"columns"`
	NumericColumns   []string           `yaml:"numeric_columns"`
	RollingWindow    int                `yaml:"rolling_window"`
	RollingColumns   []string           `yaml:"rolling_columns"`
	DefaultRangeDays int                `yaml:"default_range_days"`
	MinRangeDays     int                `yaml:"min_range_days"`
	MaxRangeDays     int                `yaml:"max_range_days"`
	Streaks          []StreakRuleConfig `yaml:"streaks"`
}

type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type ExportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

type LoggingConfig struct {
	Level          string                 `yaml:"level"`
	Format         string                 `yaml:"format"`
	Output         string                 `yaml:"output"`
	MaxAge         int                    `yaml:"max_age"`
	Fields         map[string]interface{} `yaml:"fields"`
	ReportInterval time.Duration          `yaml:"report_interval"`
}

// Streak condition names accepted by the pipeline. Validation here keeps a
// bad condition from surviving until the first refresh.
var validConditions = map[string]bool{
	"":             true,
	"greater_than": true,
	"less_than":    true,
	"equal":        true,
	"not_equal":    true,
}

func defaultConfig() Config {
	return Config{
		Sheets: SheetsConfig{
			Range:   "Sheet1!A:Z",
			BaseURL: "https://sheets.googleapis.com",
			Timeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 1,
				BurstSize:         1,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
		},
		Pipeline: PipelineConfig{
			Columns: ColumnsConfig{
				Date:   "Date",
				Wake:   "Wake Up",
				Sleep:  "Sleep",
				Weight: "Weight",
			},
			RollingWindow:    7,
			DefaultRangeDays: 30,
			MinRangeDays:     7,
			MaxRangeDays:     365,
		},
		Refresh: RefreshConfig{
			Interval: 15 * time.Minute,
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: time.Minute,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Sheets.SpreadsheetID = strings.TrimSpace(config.Sheets.SpreadsheetID)
	config.Sheets.Range = strings.TrimSpace(config.Sheets.Range)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deployment environments point the same config file
// at a different sheet or credential without editing it.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("GOOGLE_SHEET_ID"); v != "" {
		config.Sheets.SpreadsheetID = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHEET_RANGE"); v != "" {
		config.Sheets.Range = stripInlineComment(v)
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		config.Sheets.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("GOOGLE_TOKEN_FILE"); v != "" {
		config.Sheets.TokenFile = strings.TrimSpace(v)
	}
}

// stripInlineComment drops a trailing "# ..." comment from an env value.
// Sheet ranges in .env files routinely carry one.
func stripInlineComment(v string) string {
	if i := strings.Index(v, "#"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func validateConfig(cfg *Config) error {
	if cfg.Habitflow.Name == "" {
		return fmt.Errorf("habitflow.name is required")
	}

	if cfg.Habitflow.Version == "" {
		return fmt.Errorf("habitflow.version is required")
	}

	if cfg.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("sheets.spreadsheet_id is required")
	}
	if !isValidSpreadsheetID(cfg.Sheets.SpreadsheetID) {
		return fmt.Errorf("sheets.spreadsheet_id '%s' is invalid", cfg.Sheets.SpreadsheetID)
	}
	if cfg.Sheets.Range == "" {
		return fmt.Errorf("sheets.range is required")
	}
	if cfg.Sheets.Timeout <= 0 {
		return fmt.Errorf("sheets.timeout must be greater than 0")
	}
	if cfg.Sheets.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("sheets.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Sheets.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("sheets.retry.max_attempts must be greater than 0")
	}

	if cfg.Pipeline.Columns.Date == "" {
		return fmt.Errorf("pipeline.columns.date is required")
	}
	if cfg.Pipeline.RollingWindow <= 0 {
		return fmt.Errorf("pipeline.rolling_window must be greater than 0")
	}
	if cfg.Pipeline.MinRangeDays <= 0 {
		return fmt.Errorf("pipeline.min_range_days must be greater than 0")
	}
	if cfg.Pipeline.MaxRangeDays < cfg.Pipeline.MinRangeDays {
		return fmt.Errorf("pipeline.max_range_days must not be less than pipeline.min_range_days")
	}
	if cfg.Pipeline.DefaultRangeDays < cfg.Pipeline.MinRangeDays ||
		cfg.Pipeline.DefaultRangeDays > cfg.Pipeline.MaxRangeDays {
		return fmt.Errorf("pipeline.default_range_days must be within [%d, %d]",
			cfg.Pipeline.MinRangeDays, cfg.Pipeline.MaxRangeDays)
	}

	for i, rule := range cfg.Pipeline.Streaks {
		if rule.Name == "" {
			return fmt.Errorf("pipeline.streaks[%d].name is required", i)
		}
		if rule.Column == "" {
			return fmt.Errorf("pipeline.streaks[%d].column is required", i)
		}
		if !validConditions[rule.Condition] {
			return fmt.Errorf("pipeline.streaks[%d].condition '%s' is not supported", i, rule.Condition)
		}
		if rule.Condition != "" && rule.Target == nil {
			return fmt.Errorf("pipeline.streaks[%d].target is required for condition '%s'", i, rule.Condition)
		}
	}

	if cfg.Export.Enabled && cfg.Export.Directory == "" {
		return fmt.Errorf("export.directory is required when export is enabled")
	}

	return nil
}

// Spreadsheet identifiers are the URL-safe id segment of a sheet URL.
var spreadsheetIDRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func isValidSpreadsheetID(id string) bool {
	if len(id) < 10 {
		return false
	}
	return spreadsheetIDRegexp.MatchString(id)
}
