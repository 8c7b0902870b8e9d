package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
		value   string
		check   func(t *testing.T, out map[string]interface{})
	}{
		{
			name:  "empty file",
			key:   "jira.url",
			value: "https://acme.atlassian.net",
			check: func(t *testing.T, out map[string]interface{}) {
				jira := out["jira"].(map[string]interface{})
				if jira["url"] != "https://acme.atlassian.net" {
					t.Errorf("jira.url = %v", jira["url"])
				}
			},
		},
		{
			name:    "update existing nested key",
			content: "jira:\n  url: old\n  username: me\n",
			key:     "jira.url",
			value:   "new",
			check: func(t *testing.T, out map[string]interface{}) {
				jira := out["jira"].(map[string]interface{})
				if jira["url"] != "new" || jira["username"] != "me" {
					t.Errorf("jira = %v", jira)
				}
			},
		},
		{
			name:    "list key",
			content: "sync:\n  overlap: 5m\n",
			key:     "jira.projects",
			value:   "WEB, API",
			check: func(t *testing.T, out map[string]interface{}) {
				projects := out["jira"].(map[string]interface{})["projects"].([]interface{})
				if len(projects) != 2 || projects[0] != "WEB" || projects[1] != "API" {
					t.Errorf("projects = %v", projects)
				}
				if out["sync"].(map[string]interface{})["overlap"] != "5m" {
					t.Errorf("unrelated key lost: %v", out["sync"])
				}
			},
		},
		{
			name:  "top level key",
			key:   "json",
			value: "true",
			check: func(t *testing.T, out map[string]interface{}) {
				if out["json"] != true {
					t.Errorf("json = %#v", out["json"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := updateYamlKey([]byte(tt.content), tt.key, tt.value)
			if err != nil {
				t.Fatalf("updateYamlKey: %v", err)
			}
			var out map[string]interface{}
			if err := yaml.Unmarshal(got, &out); err != nil {
				t.Fatalf("result is not valid yaml: %v\n%s", err, got)
			}
			tt.check(t, out)
		})
	}
}

func TestUpdateYamlKeyPreservesComments(t *testing.T) {
	content := "# sprintsync settings\njira:\n  url: old # cloud site\n"
	got, err := updateYamlKey([]byte(content), "jira.url", "new")
	if err != nil {
		t.Fatal(err)
	}
	s := string(got)
	if !strings.Contains(s, "# sprintsync settings") || !strings.Contains(s, "# cloud site") {
		t.Errorf("comments lost:\n%s", s)
	}
}

func TestUpdateYamlKeyScalarConflict(t *testing.T) {
	if _, err := updateYamlKey([]byte("jira: plain\n"), "jira.url", "x"); err == nil {
		t.Fatal("expected error when a scalar sits where a mapping is needed")
	}
}

func TestSetYamlConfigCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DirName, "config.yaml")
	if err := SetYamlConfig(path, "database.url", "postgres://localhost/metrics"); err != nil {
		t.Fatalf("SetYamlConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config.yaml mode = %v, want 0600", perm)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("jira.api_token", "abcdefgh1234"); got != "********1234" {
		t.Errorf("MaskSecret = %q", got)
	}
	if got := MaskSecret("jira.api_token", "abc"); got != "****" {
		t.Errorf("MaskSecret short = %q", got)
	}
	if got := MaskSecret("jira.url", "https://x"); got != "https://x" {
		t.Errorf("non-secret keys are shown as-is, got %q", got)
	}
}
