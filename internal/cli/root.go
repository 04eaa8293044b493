package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch args[0] {
	case "serve", "server":
		return runServe(ctx, args[1:])
	case "workspace":
		return runWorkspaceAdmin(ctx, args[1:])
	case "domain":
		return runDomainAdmin(ctx, args[1:])
	case "portal":
		return runPortalAdmin(ctx, args[1:])
	case "branding":
		return runBrandingAdmin(ctx, args[1:])
	case "session":
		return runSessionAdmin(args[1:])
	case "version", "--version", "-v":
		printVersion()
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", args[0])
		printUsage()
		return 2
	}
}
