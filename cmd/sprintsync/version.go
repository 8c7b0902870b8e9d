package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.Version=... -X main.Build=... -X main.Commit=...".
var (
	Version = "0.3.0"
	Build   = "dev"
	Commit  = ""
)

// buildInfo is what `version --json` prints.
type buildInfo struct {
	Version  string `json:"version"`
	Build    string `json:"build"`
	Commit   string `json:"commit,omitempty"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

func currentBuild() buildInfo {
	info := buildInfo{
		Version:  Version,
		Build:    Build,
		Commit:   Commit,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.Commit == "" {
		info.Commit = vcsRevision()
	}
	return info
}

// vcsRevision reads the commit stamped by `go build` in a git checkout.
func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// String renders "0.3.0 (dev: 280fbcf9a253)", or "0.3.0 (dev)" without a commit.
func (b buildInfo) String() string {
	if b.Commit == "" {
		return fmt.Sprintf("%s (%s)", b.Version, b.Build)
	}
	commit := b.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("%s (%s: %s)", b.Version, b.Build, commit)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := currentBuild()
		if jsonOutput {
			outputJSON(info)
			return
		}
		fmt.Printf("sprintsync version %s %s\n", info, info.Platform)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
