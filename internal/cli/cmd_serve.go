package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/gatekeep/gatekeeper/internal/config"
	ilog "github.com/gatekeep/gatekeeper/internal/log"
	"github.com/gatekeep/gatekeeper/internal/server"
	"github.com/gatekeep/gatekeeper/internal/store/sqlite"
)

func runServe(ctx context.Context, args []string) int {
	loadGatekeeperEnvFromDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)

	store, err := sqlite.OpenWithOptions(cfg.DBPath, sqlite.OpenOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	s, err := server.New(cfg, store, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger.Info("gatekeeper starting", "version", Version, "domain", cfg.DefaultDomain, "upstream", cfg.UpstreamURL)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}
