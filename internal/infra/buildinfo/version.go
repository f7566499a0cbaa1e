// Package buildinfo holds version information injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/rollmesh-go/internal/infra/buildinfo.Version=v0.3.0"
package buildinfo

import "runtime"

// Build-time variables (set via ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

// ProtocolVersion is the wire protocol generation spoken by this build.
// Peers on different generations cannot share a session.
const ProtocolVersion = 1

// Info contains build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Protocol  int    `json:"protocol" yaml:"protocol"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		Protocol:  ProtocolVersion,
	}
}

// Runtime fills GoVersion from the running binary when ldflags left it
// unset.
func Runtime() Info {
	info := Get()
	if info.GoVersion == "unknown" {
		info.GoVersion = runtime.Version()
	}
	return info
}

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built at " + BuildTime
}

// UserAgent identifies the binary in HTTP and websocket handshakes.
func UserAgent(binary string) string {
	return binary + "/" + Version
}
