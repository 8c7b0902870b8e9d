package ui

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions configures ToPager.
type PagerOptions struct {
	// NoPager is --no-pager.
	NoPager bool
	// Out receives content that is not paged. Nil means stdout; any other
	// writer also disables the pager.
	Out io.Writer
}

// ToPager shows content through $SPRINTSYNC_PAGER, $PAGER or less when stdout
// is a terminal and the content is taller than the screen. Everything else
// is written straight to Out.
func ToPager(content string, opts PagerOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	argv := pagerArgv()
	if opts.NoPager || out != io.Writer(os.Stdout) || len(argv) == 0 || !IsTerminal() || fitsScreen(content) {
		_, err := io.WriteString(out, content)
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 - operator chosen pager
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if _, ok := os.LookupEnv("LESS"); !ok {
		// Raw colors, quit if one screen, keep the screen on exit.
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	return cmd.Run()
}

// pagerArgv is nil when paging is switched off with SPRINTSYNC_NO_PAGER.
func pagerArgv() []string {
	if os.Getenv("SPRINTSYNC_NO_PAGER") != "" {
		return nil
	}
	for _, env := range []string{"SPRINTSYNC_PAGER", "PAGER"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return strings.Fields(v)
		}
	}
	return []string{"less"}
}

func fitsScreen(content string) bool {
	h := terminalHeight()
	return h > 0 && contentHeight(content) < h
}

func terminalHeight() int {
	_, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return h
}

func contentHeight(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
}
