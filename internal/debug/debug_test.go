package debug

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEnabled(t *testing.T) {
	tests := []struct {
		name    string
		env     bool
		verbose bool
		want    bool
	}{
		{"env set", true, false, true},
		{"verbose flag", false, true, true},
		{"both off", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled, oldVerbose := enabled, verboseMode
			defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

			enabled = tt.env
			SetVerbose(tt.verbose)

			if got := Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogf(t *testing.T) {
	var out, errOut bytes.Buffer
	restore := SetOutput(&out, &errOut)
	defer restore()

	oldEnabled, oldVerbose := enabled, verboseMode
	defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

	enabled, verboseMode = false, false
	Logf("hidden %d\n", 1)
	if errOut.Len() != 0 {
		t.Fatalf("Logf wrote %q while disabled", errOut.String())
	}

	SetVerbose(true)
	Logf("fetched %d issues\n", 42)
	if got := errOut.String(); got != "fetched 42 issues\n" {
		t.Errorf("Logf output = %q", got)
	}
	if out.Len() != 0 {
		t.Errorf("Logf must not write to stdout, got %q", out.String())
	}
}

func TestTimef(t *testing.T) {
	var errOut bytes.Buffer
	restore := SetOutput(&bytes.Buffer{}, &errOut)
	defer restore()

	oldVerbose := verboseMode
	defer func() { verboseMode = oldVerbose }()
	SetVerbose(true)

	Timef(time.Now().Add(-1500*time.Millisecond), "search page %d", 2)
	got := errOut.String()
	if !strings.HasPrefix(got, "search page 2 (") || !strings.HasSuffix(got, ")\n") {
		t.Errorf("Timef output = %q", got)
	}
}

func TestPrintNormalQuiet(t *testing.T) {
	var out bytes.Buffer
	restore := SetOutput(&out, &bytes.Buffer{})
	defer restore()

	oldQuiet := quietMode
	defer func() { quietMode = oldQuiet }()

	SetQuiet(true)
	PrintNormal("synced %s\n", "PROJ")
	PrintlnNormal("done")
	if out.Len() != 0 {
		t.Fatalf("quiet mode leaked output: %q", out.String())
	}

	SetQuiet(false)
	PrintNormal("synced %s\n", "PROJ")
	PrintlnNormal("done")
	if got := out.String(); got != "synced PROJ\ndone\n" {
		t.Errorf("output = %q", got)
	}
}
