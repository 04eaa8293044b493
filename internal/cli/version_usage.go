package cli

import (
	"fmt"
	"os/exec"

	"github.com/gatekeep/gatekeeper/internal/versionutil"
)

func printUsage() {
	fmt.Println(`gatekeeper - multi-tenant request gatekeeper

Resolves each request's host to a workspace, enforces domain ownership,
subscription, session and client portal rules, and proxies what passes
to the upstream application with tenant headers attached.

Usage:
  gatekeeper serve                                  Start the gatekeeper
  gatekeeper workspace add --name NAME              Create a workspace
  gatekeeper workspace list                         List workspaces
  gatekeeper domain add --workspace ID --host H     Add a custom domain (prints the TXT challenge)
  gatekeeper domain add --workspace ID --subdomain L
                                                    Add a platform subdomain
  gatekeeper domain verify --host H                 Check the DNS ownership proof
  gatekeeper domain enable|disable --host H         Toggle a custom domain
  gatekeeper domain list --workspace ID             List a workspace's domains
  gatekeeper portal create --workspace ID --slug S  Create a client portal (prints the access token)
  gatekeeper branding set --workspace ID            Store brand colors
  gatekeeper branding css --workspace ID            Print the generated branding CSS
  gatekeeper session mint --user U --workspace ID   Mint a session token
  gatekeeper version                                Print version
  gatekeeper help                                   Show this help

Environment Variables:
  GATEKEEPER_DOMAIN           Platform default domain (e.g. app.example.com)
  GATEKEEPER_UPSTREAM         Upstream application URL
  GATEKEEPER_SESSION_SECRET   HMAC secret for session tokens
  GATEKEEPER_ADMIN_TOKEN      Enables the audit stream for operators
  GATEKEEPER_TLS_MODE         TLS mode: off|auto|static (default: off)
  GATEKEEPER_DB_PATH          SQLite database path (default: ./gatekeeper.db)
  GATEKEEPER_LOG_LEVEL        Log level: debug|info|warn|error (default: info)
  GATEKEEPER_LOG_FORMAT       Log format: text|json (default: text)

Variables are also read from ./.env when not already set.`)
}

// Version is set at build time via -ldflags.
var Version = versionutil.Dev

func init() {
	var desc string
	if Version == versionutil.Dev {
		if out, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			desc = string(out)
		}
	}
	Version = versionutil.Resolve(Version, desc)
}

func printVersion() {
	fmt.Println("gatekeeper", Version)
}
