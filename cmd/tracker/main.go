package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/cenkalti/backoff/v4"

	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/feed"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/panel"
	"bus-tracker/internal/paths"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/sim"
	"bus-tracker/internal/traveltime"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB := openSchedule(ctx, cfg)
	defer sqlDB.Close()
	store := db.NewCachedStore(db.NewStore(sqlDB), 256, 10*time.Minute)

	panels, err := config.LoadPanels(cfg.PanelsFile)
	if err != nil {
		log.Fatalf("panels: %v", err)
	}

	var positions sim.Positions
	if cfg.PathsFile != "" {
		set, err := paths.LoadFile(cfg.PathsFile, cfg.Location)
		if err != nil {
			log.Fatalf("paths: %v", err)
		}
		log.Printf("loaded %d vehicle paths from %s", set.Len(), cfg.PathsFile)
		positions = set
	}

	// Metrics setup
	var mcol *metrics.Collector
	var (
		pubMetrics    publisher.PublisherMetrics
		travelMetrics traveltime.Metrics
		panelMetrics  panel.Metrics
		driverMetrics sim.Metrics
	)
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(metrics.ClockSettings{
			Simulated: cfg.Simulated,
			SimStep:   cfg.SimStep,
			TimeTick:  cfg.TimeTick,
			PanelTick: cfg.PanelTick,
			BusTick:   cfg.BusTick,
		})
		pubMetrics, travelMetrics, panelMetrics, driverMetrics = mcol, mcol, mcol, mcol
	}

	// Initialize NATS publisher
	var pub *publisher.NATSPublisher
	err = backoff.Retry(func() error {
		var err error
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, publisher.Options{
			SubjectPrefix: cfg.NATSPrefix,
			KVBucket:      cfg.NATSKVBucket,
			LogSubjects:   cfg.LogNATSSubject,
		}, pubMetrics)
		if err != nil {
			log.Printf("nats connect: %v", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	snapshot := feed.NewSnapshot(cfg.Location)
	sink := publisher.Fanout{pub, snapshot}

	var srv *http.Server
	if mcol != nil {
		srv = mcol.Serve(cfg.MetricsAddr, snapshot.Routes())
	}

	// Travel-time predictions are only fetched with an API key.
	var fetcher traveltime.Fetcher
	if cfg.DirectionsAPIKey != "" {
		dc, err := traveltime.NewDirectionsClient(cfg.DirectionsURL, cfg.DirectionsAPIKey, &http.Client{Timeout: cfg.DirectionsTimeout})
		if err != nil {
			log.Fatalf("directions: %v", err)
		}
		fetcher = dc
	} else {
		log.Printf("DIRECTIONS_API_KEY not set; panels use scheduled times only")
	}
	predictions := traveltime.NewCache(fetcher, store,
		traveltime.WithTimeout(cfg.DirectionsTimeout),
		traveltime.WithMetrics(travelMetrics),
	)
	resolver := panel.NewResolver(store, predictions, cfg.Location, panelMetrics)

	var clock sim.Clock
	if cfg.Simulated {
		clock = sim.NewSimulatedClock(cfg.SimStart, cfg.SimEnd, cfg.SimStep)
		log.Printf("simulating %s .. %s", cfg.SimStart.Format(time.RFC3339), cfg.SimEnd.Format(time.RFC3339))
	} else {
		clock = sim.NewRealClock(cfg.Location)
	}

	driver := sim.NewDriver(clock, resolver, panels, positions, store, sink, cfg.Location, sim.Ticks{
		Time:  cfg.TimeTick,
		Panel: cfg.PanelTick,
		Bus:   cfg.BusTick,
	}, driverMetrics)
	driver.Start(ctx)

	// Block until context cancelled
	<-ctx.Done()
	// Allow graceful shutdown
	driver.Stop()
	predictions.Wait()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

// openSchedule returns a pinged schedule database: Postgres when a DSN is
// configured (optionally resolving the latest import of SCHEDULE_FEED),
// otherwise an SQLite database loaded from GTFS_DIR.
func openSchedule(ctx context.Context, cfg *config.Config) *sql.DB {
	if cfg.DatabaseURL == "" {
		sqlDB, err := db.Open(db.DriverSQLite, cfg.SQLiteDSN)
		if err != nil {
			log.Fatalf("db open (sqlite) error: %v", err)
		}
		if err := db.ImportGTFS(ctx, sqlDB, cfg.GTFSDir); err != nil {
			log.Fatalf("import %s: %v", cfg.GTFSDir, err)
		}
		log.Printf("imported schedule from %s", cfg.GTFSDir)
		return sqlDB
	}

	finalDSN := cfg.DatabaseURL
	if cfg.ScheduleFeed != "" {
		// Connect to the cluster's 'postgres' database to read latest_successful_imports
		rootDSN, err := db.WithDBName(cfg.DatabaseURL, "postgres")
		if err != nil {
			log.Fatalf("invalid base DSN: %v", err)
		}
		metaDB, err := db.Open(db.DriverPostgres, rootDSN)
		if err != nil {
			log.Fatalf("db open (meta) error: %v", err)
		}
		if err := db.PingWithRetry(ctx, metaDB, time.Minute); err != nil {
			log.Fatalf("db ping (meta) error: %v", err)
		}
		name, err := db.ResolveLatestImportDBName(ctx, metaDB, cfg.ScheduleFeed)
		metaDB.Close()
		if err != nil {
			log.Fatalf("resolve latest import for feed %q: %v", cfg.ScheduleFeed, err)
		}
		finalDSN, err = db.WithDBName(cfg.DatabaseURL, name)
		if err != nil {
			log.Fatalf("compose DSN: %v", err)
		}
		log.Printf("Using database %q for feed %q", name, cfg.ScheduleFeed)
	}

	sqlDB, err := db.Open(db.DriverPostgres, finalDSN)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	if err := db.PingWithRetry(ctx, sqlDB, time.Minute); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if cfg.ImportGTFS {
		if err := db.ImportGTFS(ctx, sqlDB, cfg.GTFSDir); err != nil {
			log.Fatalf("import %s: %v", cfg.GTFSDir, err)
		}
		log.Printf("imported schedule from %s", cfg.GTFSDir)
	}
	return sqlDB
}
