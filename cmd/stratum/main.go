// Package main implements the stratum server binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/stratumdb/stratum/internal/app"
	"github.com/stratumdb/stratum/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile    string
		dataDir       string
		httpAddr      string
		migrationsDir string
		showVersion   bool
		showHelp      bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the catalog and local storage")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&migrationsDir, "migrations-dir", "", "Local migrations directory")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Stratum - Namespaced Row Storage Engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: stratum [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stratum --data-dir /var/lib/stratum\n")
		fmt.Fprintf(os.Stderr, "  stratum --config /etc/stratum/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  STRATUM_DATA_DIR             Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  STRATUM_HTTP_ADDR            HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  STRATUM_MIGRATIONS_SOURCE    Migration source (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  STRATUM_BACKUP_SINK          Backup sink (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("stratum version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line flags take highest priority.
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.Resolve()
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if migrationsDir != "" {
		cfg.Migrations.Dir = migrationsDir
	}

	log.Printf("stratum %s (commit %s)", version, commit)
	log.Printf("  Data Dir:   %s", cfg.DataDir)
	log.Printf("  HTTP:       %s", cfg.HTTP.Addr)
	log.Printf("  Migrations: %s", cfg.Migrations.Source)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.Wait(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
