package main

import (
	"fmt"
	"os/exec"
	"strings"
)

// Version information. These variables can be set at build time using ldflags:
// go build -ldflags "-X main.Version=1.2.0 -X main.GitCommit=$(git rev-parse --short HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	// Version is the current version of claude-gateway
	Version = "1.0.0"

	// GitCommit is the git commit hash (set by build process)
	GitCommit = "unknown"

	// BuildTime is the build timestamp (set by build process)
	BuildTime = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("Claude Gateway v%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

// GetGitCommit attempts to get the current git commit hash at runtime
// Falls back to build-time value if git is not available
func GetGitCommit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}

	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}

	return strings.TrimSpace(string(output))
}

// GetBuildInfo returns detailed build information
func GetBuildInfo() string {
	commit := GetGitCommit()
	return fmt.Sprintf(`Claude Gateway
Version: %s
Commit: %s
Built: %s`, Version, commit, BuildTime)
}
