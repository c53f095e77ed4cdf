package core

import (
	"fmt"
	"runtime/debug"
	"strings"
)

var Version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		Version = "devel"
		return
	}

	if v := info.Main.Version; v != "" && v != "(devel)" {
		Version = v
		return
	}

	// Fall back to VCS info for local builds
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if revision == "" {
		Version = "devel"
		return
	}

	short := revision
	if len(short) > 7 {
		short = short[:7]
	}

	Version = fmt.Sprintf("devel-%s", short)
	if dirty {
		Version += "-dirty"
	}
}

// FormatVersion formats the version string for display. Tagged releases have
// the "v" prefix stripped; devel versions pass through as-is.
func FormatVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}
