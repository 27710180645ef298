// Package version reports build provenance together with the on-disk
// format version this build understands, so a format change (entry layout,
// header width, region encoding) has somewhere to be declared and checked
// against, per the recommendation to "fix [length] to u64 LE and document a
// format version".
package version

import (
	"fmt"
	"runtime"
)

// FormatVersion is the on-disk layout version this build writes and reads:
// the backing-file header, block headers, and the directory-entry and
// metadata-record encodings in internal/vfsdir. Bump it whenever any of
// those encodings change in an incompatible way.
const FormatVersion = 1

// Build-time variables (override via -ldflags -X ...).
// Example:
//
//	go build -ldflags "-X blockvfs/internal/version.Version=0.1.0 -X blockvfs/internal/version.Commit=abcd123 -X blockvfs/internal/version.BuildDate=2026-01-10"
var (
	Version   = "v0.1.0"
	Commit    = ""
	BuildDate = ""
)

type Info struct {
	Version       string `json:"version"`
	Commit        string `json:"commit,omitempty"`
	BuildDate     string `json:"build_date,omitempty"`
	GoVersion     string `json:"go_version"`
	FormatVersion int    `json:"format_version"`
}

func Get() Info {
	return Info{
		Version:       Version,
		Commit:        Commit,
		BuildDate:     BuildDate,
		GoVersion:     runtime.Version(),
		FormatVersion: FormatVersion,
	}
}

func (i Info) String() string {
	// Keep this stable for CLI output.
	s := i.Version
	if s == "" {
		s = "dev"
	}
	if i.Commit != "" {
		s += fmt.Sprintf(" (%s)", i.Commit)
	}
	if i.BuildDate != "" {
		s += fmt.Sprintf(" built %s", i.BuildDate)
	}
	s += fmt.Sprintf(" [%s, format v%d]", i.GoVersion, i.FormatVersion)
	return s
}
