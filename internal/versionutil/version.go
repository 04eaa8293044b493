// Package versionutil normalizes the build version reported by the binary.
package versionutil

import "strings"

// Dev is the version of an unstamped build.
const Dev = "dev"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// Resolve picks the version to report. A stamped version wins; an unstamped
// build falls back to the git description with a "-dev" suffix.
func Resolve(stamped, gitDescribe string) string {
	stamped = strings.TrimSpace(stamped)
	if stamped != "" && stamped != Dev {
		return EnsureVPrefix(stamped)
	}
	if desc := strings.TrimSpace(gitDescribe); desc != "" {
		return EnsureVPrefix(desc) + "-" + Dev
	}
	return Dev
}
