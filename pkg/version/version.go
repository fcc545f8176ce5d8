// Package version reports the build version of toolgate.
package version

import "runtime/debug"

// Version is set at build time via -ldflags "-X github.com/toolgate/toolgate/pkg/version.Version=v1.2.3".
var Version = ""

// GetVersion returns the build version, falling back to the module version and then "dev".
func GetVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
