// Package version holds the build version string, overridden at release time
// via -ldflags.
package version

var Version = "dev"
