package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points every config lookup at empty temp directories.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	for _, env := range []string{"JIRA_API_TOKEN", "JIRA_USERNAME", "JIRA_URL", "DATABASE_URL", "SUPABASE_DB_URL"} {
		t.Setenv(env, "")
	}
	t.Chdir(dir)
	t.Cleanup(ResetForTesting)
	return dir
}

func TestDefaults(t *testing.T) {
	isolate(t)
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"json", false, func(k string) interface{} { return GetBool(k) }},
		{"jira.story_points_field", "customfield_10016", func(k string) interface{} { return GetString(k) }},
		{"jira.sprint_field", "customfield_10020", func(k string) interface{} { return GetString(k) }},
		{"jira.page_size", 100, func(k string) interface{} { return GetInt(k) }},
		{"jira.timeout", 30 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"sync.overlap", 5 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{"sync.interval", 15 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{"database.max_conns", 4, func(k string) interface{} { return GetInt(k) }},
		{"log.level", "info", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"SPRINTSYNC_JSON", "json", "true", true, func(k string) interface{} { return GetBool(k) }},
		{"SPRINTSYNC_SYNC_OVERLAP", "sync.overlap", "10m", 10 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{"JIRA_API_TOKEN", "jira.api_token", "tok", "tok", func(k string) interface{} { return GetString(k) }},
		{"JIRA_USERNAME", "jira.username", "me@example.com", "me@example.com", func(k string) interface{} { return GetString(k) }},
		{"DATABASE_URL", "database.url", "postgres://db", "postgres://db", func(k string) interface{} { return GetString(k) }},
		{"SUPABASE_DB_URL", "database.url", "postgres://supa", "postgres://supa", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.envVar, tt.value)
			if err := Initialize(""); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestProjectConfigDiscovery(t *testing.T) {
	dir := isolate(t)
	cfgDir := filepath.Join(dir, DirName)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := `jira:
  url: https://acme.atlassian.net/
  projects: [WEB, API]
sync:
  concurrency: 8
`
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// Discovery walks up from a nested directory.
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if !strings.HasSuffix(ConfigFileUsed(), filepath.Join(DirName, "config.yaml")) {
		t.Errorf("ConfigFileUsed() = %q", ConfigFileUsed())
	}

	j := Jira()
	if j.URL != "https://acme.atlassian.net" {
		t.Errorf("URL = %q, trailing slash should be trimmed", j.URL)
	}
	if len(j.Projects) != 2 || j.Projects[0] != "WEB" || j.Projects[1] != "API" {
		t.Errorf("Projects = %v", j.Projects)
	}
	if got := Sync().Concurrency; got != 8 {
		t.Errorf("Concurrency = %d, want 8", got)
	}
}

func TestExplicitConfigFileMissing(t *testing.T) {
	dir := isolate(t)
	if err := Initialize(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestProjectsFromEnvAreCommaSplit(t *testing.T) {
	isolate(t)
	t.Setenv("SPRINTSYNC_JIRA_PROJECTS", "WEB, API,,OPS")
	if err := Initialize(""); err != nil {
		t.Fatal(err)
	}
	got := GetStringSlice("jira.projects")
	want := []string{"WEB", "API", "OPS"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("GetStringSlice = %v, want %v", got, want)
	}
}

func TestJiraSettingsValidate(t *testing.T) {
	s := JiraSettings{PageSize: 50}
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "jira.url") {
		t.Errorf("expected jira.url error, got %v", err)
	}
	s.URL = "https://acme.atlassian.net"
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "JIRA_API_TOKEN") {
		t.Errorf("expected api token hint, got %v", err)
	}
	s.APIToken = "x"
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	s.PageSize = 500
	if err := s.Validate(); err == nil {
		t.Error("page size above 100 should be rejected")
	}
	s.PageSize = 50
	s.Timezone = "America/Sao_Paulo"
	if loc, err := s.Location(); err != nil || loc.String() != "America/Sao_Paulo" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
	s.Timezone = "Mars/Olympus"
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "jira.timezone") {
		t.Errorf("expected jira.timezone error, got %v", err)
	}
}

func TestSyncSettingsFloors(t *testing.T) {
	isolate(t)
	if err := Initialize(""); err != nil {
		t.Fatal(err)
	}
	Set("sync.interval", "5s")
	Set("sync.concurrency", 0)
	Set("sync.overlap", "-1m")
	s := Sync()
	if s.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m floor", s.Interval)
	}
	if s.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", s.Concurrency)
	}
	if s.Overlap != 0 {
		t.Errorf("Overlap = %v, want 0", s.Overlap)
	}
}
