// Command tier3d runs the Tier 3 loyalty decision engine as a standalone
// daemon: the POSLOYALTY framed-XML listener for the forecourt registers and
// the admin HTTP server for operations.
//
// Usage:
//
//	tier3d [-config path/to/config.yaml]
//
// Configuration comes from the YAML file named by -config (or TIER3_CONFIG),
// overridden by TIER3_* environment variables. A .env file in the working
// directory is loaded first. With no config at all the daemon starts on the
// default ports with the in-memory store and a disabled catalog, which is
// enough for protocol smoke tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/RTNSmart/tier3-engine/internal/config"
	"github.com/RTNSmart/tier3-engine/pkg/tier3"
)

// version is stamped at build time:
//
//	go build -ldflags "-X main.version=v1.2.3"
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("tier3d: exiting")
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML config file (default: $TIER3_CONFIG)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tier3d %s\n", version)
		return nil
	}

	// A .env file supplies TIER3_* variables in development; absence is fine.
	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		path = os.Getenv("TIER3_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := tier3.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("assemble app: %w", err)
	}

	if err := app.Start(); err != nil {
		// Release whatever did come up before the failure.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
		return err
	}

	log.Info().
		Str("version", version).
		Str("pos_address", cfg.Server.Address).
		Bool("admin_enabled", cfg.Admin.Enabled).
		Str("admin_address", cfg.Admin.Address).
		Str("storage_backend", cfg.Storage.Backend).
		Str("catalog_source", cfg.Catalog.Source).
		Msg("tier3d: started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("tier3d: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info().Msg("tier3d: shutdown complete")
	return nil
}
