// Package main is the standalone migration runner. It speaks plain
// database/sql through lib/pq so it works against a database the service
// itself cannot start on (for example one still missing its schema).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/engagic/engagic/internal/migrate"
	"github.com/engagic/engagic/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	dsn := flag.String("dsn", os.Getenv("DB_URL"), "PostgreSQL connection string (defaults to DB_URL)")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-dsn <url>] <up|up-to <version>|down|status|version>")
		fmt.Fprintln(os.Stderr, "DB_URL must be set when -dsn is not given")
		os.Exit(1)
	}

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	sqldb, err := sql.Open("postgres", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, logger.Named("migrate"))
	ctx := context.Background()

	switch command {
	case "up":
		err = migrator.Up(ctx)
	case "up-to":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: migrate up-to <version>")
			os.Exit(1)
		}
		var version int64
		version, err = strconv.ParseInt(flag.Arg(1), 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid version %q\n", flag.Arg(1))
			os.Exit(1)
		}
		err = migrator.UpTo(ctx, version)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "version":
		var version int64
		version, err = migrator.Version(ctx)
		if err == nil {
			fmt.Printf("database version: %d\n", version)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
