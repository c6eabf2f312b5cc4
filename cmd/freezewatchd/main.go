// Package main implements freezewatchd, the collector daemon. Monitored
// processes connect to it over a local socket; each freeze notification
// becomes a report in the spool, and the spool is delivered to the
// configured endpoint.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// resolveVersion returns the ldflags version, else whatever the toolchain
// stamped into the binary.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, _ := debug.ReadBuildInfo()
	return versionFrom(info)
}

// versionFrom derives a version from build info: the module version for
// "go install pkg@vX", otherwise "dev+<short hash>" with a ".dirty" suffix
// for modified trees, otherwise "dev".
func versionFrom(info *debug.BuildInfo) string {
	if info == nil {
		return "dev"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	vcs := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		vcs[s.Key] = s.Value
	}
	rev := vcs["vcs.revision"]
	if rev == "" {
		return "dev"
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if vcs["vcs.modified"] == "true" {
		return "dev+" + rev + ".dirty"
	}
	return "dev+" + rev
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		}
		os.Exit(1)
	}
}
