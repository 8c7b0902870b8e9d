package config

import (
	"fmt"
	"strings"
	"time"
)

// JiraSettings groups the jira.* keys.
type JiraSettings struct {
	URL              string
	Username         string
	APIToken         string
	Projects         []string
	StoryPointsField string
	SprintField      string
	EpicLinkField    string
	PageSize         int
	Timeout          time.Duration
	SearchAPI        string
	// Timezone is the Jira user's profile zone; JQL dates are read in it.
	Timezone string
}

// Jira returns the jira.* settings.
func Jira() JiraSettings {
	return JiraSettings{
		URL:              strings.TrimSuffix(GetString("jira.url"), "/"),
		Username:         GetString("jira.username"),
		APIToken:         GetString("jira.api_token"),
		Projects:         GetStringSlice("jira.projects"),
		StoryPointsField: GetString("jira.story_points_field"),
		SprintField:      GetString("jira.sprint_field"),
		EpicLinkField:    GetString("jira.epic_link_field"),
		PageSize:         GetInt("jira.page_size"),
		Timeout:          GetDuration("jira.timeout"),
		SearchAPI:        GetString("jira.search_api"),
		Timezone:         GetString("jira.timezone"),
	}
}

// Location resolves Timezone, defaulting to UTC.
func (s JiraSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("jira.timezone: %w", err)
	}
	return loc, nil
}

// Validate reports the first missing required Jira key with a hint.
func (s JiraSettings) Validate() error {
	missing := func(key, env string) error {
		return fmt.Errorf("%s not configured\nRun: sprintsync config set %s \"VALUE\"\nOr: export %s=VALUE", key, key, env)
	}
	if s.URL == "" {
		return missing("jira.url", "JIRA_URL")
	}
	if s.APIToken == "" {
		return missing("jira.api_token", "JIRA_API_TOKEN")
	}
	if s.PageSize < 1 || s.PageSize > 100 {
		return fmt.Errorf("jira.page_size must be between 1 and 100, got %d", s.PageSize)
	}
	if s.SearchAPI != "" && s.SearchAPI != "legacy" && s.SearchAPI != "jql" {
		return fmt.Errorf("jira.search_api must be \"legacy\" or \"jql\", got %q", s.SearchAPI)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

// DatabaseSettings groups the database.* keys.
type DatabaseSettings struct {
	URL      string
	MaxConns int
}

// Database returns the database.* settings.
func Database() DatabaseSettings {
	return DatabaseSettings{
		URL:      GetString("database.url"),
		MaxConns: GetInt("database.max_conns"),
	}
}

// Validate checks that a connection string is present.
func (s DatabaseSettings) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("database.url not configured\nRun: sprintsync config set database.url \"postgres://...\"\nOr: export DATABASE_URL=postgres://...")
	}
	return nil
}

// SyncSettings groups the sync.* keys.
type SyncSettings struct {
	Overlap     time.Duration
	Interval    time.Duration
	Concurrency int
}

// Sync returns the sync.* settings with floors applied.
func Sync() SyncSettings {
	s := SyncSettings{
		Overlap:     GetDuration("sync.overlap"),
		Interval:    GetDuration("sync.interval"),
		Concurrency: GetInt("sync.concurrency"),
	}
	if s.Overlap < 0 {
		s.Overlap = 0
	}
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	return s
}

// LogSettings groups the log.* keys.
type LogSettings struct {
	File       string
	Level      string
	Format     string
	MaxSizeMB  int
	MaxBackups int
}

// Log returns the log.* settings.
func Log() LogSettings {
	return LogSettings{
		File:       GetString("log.file"),
		Level:      GetString("log.level"),
		Format:     GetString("log.format"),
		MaxSizeMB:  GetInt("log.max_size_mb"),
		MaxBackups: GetInt("log.max_backups"),
	}
}

// StatusMapPath is the optional TOML status map that extends the built-in one.
func StatusMapPath() string {
	return GetString("status_map.path")
}

// ReportModel is the Anthropic model used by `report --summarize`.
func ReportModel() string {
	return GetString("report.model")
}
