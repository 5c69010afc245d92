// Package main imports a city seed file (CSV or JSON) into the cities table.
// Rows naming a vendor without a registered adapter are skipped, so a seed
// file can stay ahead of the vendors the service actually supports.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/domain/vendors/civicclerk"
	"github.com/engagic/engagic/domain/vendors/civicplus"
	"github.com/engagic/engagic/domain/vendors/escribe"
	"github.com/engagic/engagic/domain/vendors/granicus"
	"github.com/engagic/engagic/domain/vendors/iqm2"
	"github.com/engagic/engagic/domain/vendors/legistar"
	"github.com/engagic/engagic/domain/vendors/novusagenda"
	"github.com/engagic/engagic/domain/vendors/primegov"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	file := flag.String("file", os.Getenv("CITY_SEED_FILE"), "seed file path (defaults to CITY_SEED_FILE)")
	dsn := flag.String("dsn", os.Getenv("DB_URL"), "PostgreSQL connection string (defaults to DB_URL)")
	flag.Parse()

	if *file == "" || *dsn == "" {
		fmt.Fprintln(os.Stderr, "Usage: import-cities -file <seed.csv|seed.json> [-dsn <url>]")
		os.Exit(1)
	}

	log := logger.NewLogger()

	cfg, err := config.NewConfig(log)
	if err != nil {
		log.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}

	seeds, err := cities.LoadSeedFile(*file)
	if err != nil {
		log.Error("failed to load seed file", logger.Error(err))
		os.Exit(1)
	}

	sqldb, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Error("failed to open database", logger.Error(err))
		os.Exit(1)
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	registry := vendors.NewRegistry(vendors.NewClient(cfg, log), log)
	legistar.Register(registry)
	primegov.Register(registry)
	civicclerk.Register(registry)
	granicus.Register(registry)
	novusagenda.Register(registry)
	civicplus.Register(registry)
	escribe.Register(registry)
	iqm2.Register(registry)

	repo := cities.NewRepository(db, log)
	importer := cities.NewImporter(db, repo, log)

	result, err := importer.Import(context.Background(), seeds, registry.Known)
	if err != nil {
		log.Error("import failed", logger.Error(err))
		os.Exit(1)
	}

	fmt.Printf("imported %d cities, skipped %d\n", result.Imported, result.Skipped)
}
