// Package buildinfo holds the agent's name and version. Release builds set
// the version fields with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/jeremygit/gummi-nfc/buildinfo.Version=1.0.0 \
//	  -X github.com/jeremygit/gummi-nfc/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/jeremygit/gummi-nfc/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is used for file names and the config directory.
	Name = "gummi-nfc"

	// DirName is the directory under the user config dir.
	DirName = "gummi-nfc"

	// DisplayName is shown in the tray, the shell and mDNS.
	DisplayName = "Gummi NFC"

	Description = "Read and write text to NFC tags through a phone or a desktop reader"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// ProtocolVersion is the phone WebSocket protocol revision. Phones compare it
// against the revision they were built for.
const ProtocolVersion = 1

// FullVersion returns Version, followed by the commit in parentheses when
// one was set.
func FullVersion() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}

// BuildInfo returns the multi-line text printed by -version.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "\n  Protocol: %d", ProtocolVersion)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

// IsDev reports whether this is an unreleased build.
func IsDev() bool {
	return Version == "dev"
}
