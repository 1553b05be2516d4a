// Package identity reports who the running daemon is: the instance name it
// advertises and the software version.
package identity

import (
	"os"
	"runtime/debug"
	"strings"
)

// DefaultName is used when the hostname cannot be read.
const DefaultName = "settingsd"

// DevVersion marks a build without a stamped version.
const DevVersion = "dev"

// Hostname returns the system hostname without any domain suffix.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return DefaultName
	}
	h, _, _ = strings.Cut(h, ".")
	return h
}

// InstanceName picks the advertised instance name: configured if set,
// otherwise the hostname.
func InstanceName(configured string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	return Hostname()
}

// Version returns stamped when it is a real version, otherwise the module
// version recorded in the binary's build info.
func Version(stamped string) string {
	return versionFrom(stamped, debug.ReadBuildInfo)
}

func versionFrom(stamped string, read func() (*debug.BuildInfo, bool)) string {
	if stamped != "" && stamped != DevVersion {
		return strings.TrimPrefix(stamped, "v")
	}
	if info, ok := read(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return strings.TrimPrefix(v, "v")
		}
	}
	return DevVersion
}
