// Package main runs the engagic conductor: the cron scheduler, the fetch and
// processing worker pools, and the internal ops HTTP server in one process.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/engagic/engagic/domain/cities"
	"github.com/engagic/engagic/domain/conductor"
	"github.com/engagic/engagic/domain/extract"
	"github.com/engagic/engagic/domain/health"
	"github.com/engagic/engagic/domain/items"
	"github.com/engagic/engagic/domain/matters"
	"github.com/engagic/engagic/domain/meetings"
	"github.com/engagic/engagic/domain/processing"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/domain/search"
	"github.com/engagic/engagic/domain/summarize"
	syncdomain "github.com/engagic/engagic/domain/sync"
	"github.com/engagic/engagic/domain/tracing"
	"github.com/engagic/engagic/domain/vendors"
	"github.com/engagic/engagic/domain/vendors/civicclerk"
	"github.com/engagic/engagic/domain/vendors/civicplus"
	"github.com/engagic/engagic/domain/vendors/escribe"
	"github.com/engagic/engagic/domain/vendors/granicus"
	"github.com/engagic/engagic/domain/vendors/iqm2"
	"github.com/engagic/engagic/domain/vendors/legistar"
	"github.com/engagic/engagic/domain/vendors/novusagenda"
	"github.com/engagic/engagic/domain/vendors/primegov"
	"github.com/engagic/engagic/internal/archive"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/internal/database"
	"github.com/engagic/engagic/internal/jobs"
	"github.com/engagic/engagic/internal/server"
	"github.com/engagic/engagic/pkg/encryption"
	"github.com/engagic/engagic/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		server.Module,
		tracing.Module,
		encryption.Module,
		archive.Module,

		// Repositories
		cities.Module,
		meetings.Module,
		items.Module,
		matters.Module,
		queue.Module,
		search.Module,

		// Vendor adapters register against the shared registry
		vendors.Module,
		legistar.Module,
		primegov.Module,
		civicclerk.Module,
		granicus.Module,
		novusagenda.Module,
		civicplus.Module,
		escribe.Module,
		iqm2.Module,

		// Pipeline: fetch, extract, summarize, persist
		extract.Module,
		summarize.Module,
		processing.Module,
		syncdomain.Module,
		jobs.Module,

		// Scheduler and worker pools
		conductor.Module,

		// Ops surface
		health.Module,
	).Run()
}
