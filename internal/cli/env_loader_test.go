package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gatekeep/gatekeeper/internal/config"
)

func clearGatekeeperEnvForTest(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GATEKEEPER_DOMAIN", "GATEKEEPER_DB_PATH", "GATEKEEPER_SESSION_SECRET", "GATEKEEPER_TLS_MODE", "OTHER_VAR"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadGatekeeperEnvLoadsMissingVars(t *testing.T) {
	clearGatekeeperEnvForTest(t)
	path := writeEnvFile(t, "GATEKEEPER_DOMAIN=from-file.example.com\nOTHER_VAR=skip\n")

	loadGatekeeperEnvFromDotEnv(path)

	if got := os.Getenv("GATEKEEPER_DOMAIN"); got != "from-file.example.com" {
		t.Fatalf("expected GATEKEEPER_DOMAIN loaded from file, got %q", got)
	}
	if got := os.Getenv("OTHER_VAR"); got != "" {
		t.Fatalf("expected foreign var not to be loaded, got %q", got)
	}
}

func TestLoadGatekeeperEnvKeepsExistingEnv(t *testing.T) {
	clearGatekeeperEnvForTest(t)
	t.Setenv("GATEKEEPER_DOMAIN", "from-env.example.com")
	path := writeEnvFile(t, "GATEKEEPER_DOMAIN=from-file.example.com\n")

	loadGatekeeperEnvFromDotEnv(path)

	if got := os.Getenv("GATEKEEPER_DOMAIN"); got != "from-env.example.com" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
}

func TestServerConfigPrefersFlagsOverDotEnv(t *testing.T) {
	clearGatekeeperEnvForTest(t)
	path := writeEnvFile(t, "GATEKEEPER_DOMAIN=from-file.example.com\nGATEKEEPER_DB_PATH=./from-file.db\nGATEKEEPER_SESSION_SECRET=0123456789abcdef\n")

	loadGatekeeperEnvFromDotEnv(path)
	cfg, err := config.ParseServerFlags([]string{"--domain", "from-cli.example.com", "--db", "./from-cli.db"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultDomain != "from-cli.example.com" {
		t.Fatalf("expected CLI domain to win, got %q", cfg.DefaultDomain)
	}
	if cfg.DBPath != "./from-cli.db" {
		t.Fatalf("expected CLI db path to win, got %q", cfg.DBPath)
	}
	if cfg.SessionSecret != "0123456789abcdef" {
		t.Fatalf("expected secret from dotenv, got %q", cfg.SessionSecret)
	}
}

func TestParseEnvAssignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line      string
		key, val  string
		wantParse bool
	}{
		{line: "A=b", key: "A", val: "b", wantParse: true},
		{line: "export A = \"quoted value\"", key: "A", val: "quoted value", wantParse: true},
		{line: "A='x'", key: "A", val: "x", wantParse: true},
		{line: "A=\"mismatched'", key: "A", val: "\"mismatched'", wantParse: true},
		{line: "# comment", wantParse: false},
		{line: "", wantParse: false},
		{line: "NOEQUALS", wantParse: false},
		{line: "BAD KEY=1", wantParse: false},
	}
	for _, tt := range tests {
		key, val, ok := parseEnvAssignment(tt.line)
		if ok != tt.wantParse || key != tt.key || val != tt.val {
			t.Fatalf("parseEnvAssignment(%q) = %q, %q, %v", tt.line, key, val, ok)
		}
	}
}
