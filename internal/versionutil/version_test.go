package versionutil

import "testing"

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stamped, desc, want string
	}{
		{"1.2.3", "", "v1.2.3"},
		{"v1.2.3", "v1.0.0-4-gabc", "v1.2.3"},
		{"dev", "v1.0.0-4-gabc", "v1.0.0-4-gabc-dev"},
		{"", "abc123", "vabc123-dev"},
		{"dev", "", "dev"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.stamped, tt.desc); got != tt.want {
			t.Fatalf("Resolve(%q, %q) = %q, want %q", tt.stamped, tt.desc, got, tt.want)
		}
	}
}
