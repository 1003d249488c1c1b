package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// writeTempConfig creates a configuration file with the given content and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `habitflow:
  name: "TestApp"
  version: "1.0"
sheets:
  spreadsheet_id: "1aBcDeFgHiJkLmNoP"
`

func clearSheetEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_SHEET_ID", "")
	t.Setenv("SHEET_RANGE", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_TOKEN_FILE", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearSheetEnv(t)
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Habitflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Habitflow.Name)
	}
	if cfg.Sheets.Range != "Sheet1!A:Z" {
		t.Errorf("default range = %q", cfg.Sheets.Range)
	}
	if cfg.Pipeline.RollingWindow != 7 {
		t.Errorf("default rolling window = %d", cfg.Pipeline.RollingWindow)
	}
	if cfg.Pipeline.DefaultRangeDays != 30 {
		t.Errorf("default range days = %d", cfg.Pipeline.DefaultRangeDays)
	}
	if cfg.Pipeline.Columns.Wake != "Wake Up" {
		t.Errorf("default wake column = %q", cfg.Pipeline.Columns.Wake)
	}
	if cfg.Refresh.Interval != 15*time.Minute {
		t.Errorf("default refresh interval = %v", cfg.Refresh.Interval)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearSheetEnv(t)
	t.Setenv("GOOGLE_SHEET_ID", "  override-sheet-id-123  ")
	t.Setenv("SHEET_RANGE", "Habits!A:F # sheet tab with habit data")

	path := writeTempConfig(t, minimalConfig)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Sheets.SpreadsheetID != "override-sheet-id-123" {
		t.Errorf("spreadsheet id = %q", cfg.Sheets.SpreadsheetID)
	}
	if cfg.Sheets.Range != "Habits!A:F" {
		t.Errorf("range with inline comment = %q", cfg.Sheets.Range)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	clearSheetEnv(t)
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `habitflow:
  version: "1.0"
sheets:
  spreadsheet_id: "1aBcDeFgHiJkLmNoP"
`,
			wantErr: "habitflow.name",
		},
		{
			name: "missing sheet id",
			content: `habitflow:
  name: "TestApp"
  version: "1.0"
`,
			wantErr: "sheets.spreadsheet_id",
		},
		{
			name: "bad sheet id",
			content: `habitflow:
  name: "TestApp"
  version: "1.0"
sheets:
  spreadsheet_id: "no spaces allowed!"
`,
			wantErr: "is invalid",
		},
		{
			name: "bad rolling window",
			content: minimalConfig + `pipeline:
  rolling_window: -1
`,
			wantErr: "rolling_window",
		},
		{
			name: "default range outside bounds",
			content: minimalConfig + `pipeline:
  default_range_days: 500
`,
			wantErr: "default_range_days",
		},
		{
			name: "unknown streak condition",
			content: minimalConfig + `pipeline:
  streaks:
    - name: "wake_logged"
      column: "Wake Up"
      condition: "at_least"
      target: 1
`,
			wantErr: "condition",
		},
		{
			name: "comparison without target",
			content: minimalConfig + `pipeline:
  streaks:
    - name: "weight_below"
      column: "Weight"
      condition: "less_than"
`,
			wantErr: "target is required",
		},
		{
			name: "export without directory",
			content: minimalConfig + `export:
  enabled: true
`,
			wantErr: "export.directory",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeTempConfig(t, c.content)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("expected validation error containing %q", c.wantErr)
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestLoadConfigStreakRule(t *testing.T) {
	clearSheetEnv(t)
	content := minimalConfig + `pipeline:
  streaks:
    - name: "weight_below_80"
      column: "Weight"
      condition: "less_than"
      target: 80
`
	path := writeTempConfig(t, content)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Pipeline.Streaks) != 1 {
		t.Fatalf("expected 1 streak rule, got %d", len(cfg.Pipeline.Streaks))
	}
	rule := cfg.Pipeline.Streaks[0]
	if rule.Target == nil || *rule.Target != 80 {
		t.Fatalf("target = %v", rule.Target)
	}
}

func TestIsValidSpreadsheetID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms", true},
		{"abc_DEF-123456", true},
		{"short", false},
		{"has spaces here", false},
		{"slash/not/allowed", false},
	}
	for _, c := range cases {
		if got := isValidSpreadsheetID(c.id); got != c.valid {
			t.Errorf("isValidSpreadsheetID(%q) = %v, want %v", c.id, got, c.valid)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")

	dir := t.TempDir()
	base := dir + "/config.yaml"
	envSpecific := dir + "/config.production.yaml"
	for _, p := range []string{base, envSpecific} {
		if err := os.WriteFile(p, []byte("habitflow: {}\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	if got := ResolveConfigPath(base); got != envSpecific {
		t.Fatalf("ResolveConfigPath = %q, want %q", got, envSpecific)
	}

	t.Setenv("APP_ENV", "development")
	if got := ResolveConfigPath(base); got != base {
		t.Fatalf("ResolveConfigPath in development = %q, want %q", got, base)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "stag")
	if got := AppEnvironment(); got != EnvironmentStaging {
		t.Fatalf("AppEnvironment() = %q, want %q", got, EnvironmentStaging)
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Fatal("staging must be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Fatal("development must not be production-like")
	}
}
