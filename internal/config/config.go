package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SimLayout is the format of SIM_START and SIM_END.
const SimLayout = "2006-01-02 15:04"

type Config struct {
	// DatabaseURL selects the Postgres schedule store. When empty the
	// schedule is imported from GTFSDir into SQLite.
	DatabaseURL    string
	ScheduleFeed   string
	SQLiteDSN      string
	GTFSDir        string
	ImportGTFS     bool
	PanelsFile     string
	PathsFile      string
	Location       *time.Location
	Simulated      bool
	SimStart       time.Time
	SimEnd         time.Time
	SimStep        time.Duration
	TimeTick       time.Duration
	PanelTick      time.Duration
	BusTick        time.Duration
	NATSURL        string
	NATSPrefix     string
	NATSKVBucket   string
	LogNATSSubject bool

	DirectionsURL     string
	DirectionsAPIKey  string
	DirectionsTimeout time.Duration

	MetricsAddr string
	LogLevel    slog.Level
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Postgres is opt-in: DATABASE_URL / PG_DSN, or PGDATABASE (or
	// SCHEDULE_FEED) with the usual PG* vars.
	dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	cfg.ScheduleFeed = os.Getenv("SCHEDULE_FEED")
	if dsn == "" {
		db := os.Getenv("PGDATABASE")
		if db == "" && cfg.ScheduleFeed != "" {
			db = "postgres"
		}
		if db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	cfg.SQLiteDSN = getenvDefault("SQLITE_DSN", "file::memory:")
	cfg.GTFSDir = getenvDefault("GTFS_DIR", "gtfs")
	cfg.ImportGTFS = getenvBool("IMPORT_GTFS", false)
	cfg.PanelsFile = getenvDefault("PANELS_FILE", "panels.yaml")
	cfg.PathsFile = os.Getenv("PATHS_FILE")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	cfg.Simulated = getenvBool("SIMULATED", true)
	var err error
	if cfg.SimStart, err = parseSimTime("SIM_START", "2016-05-18 06:00", cfg.Location); err != nil {
		return nil, err
	}
	if cfg.SimEnd, err = parseSimTime("SIM_END", "2016-05-20 18:00", cfg.Location); err != nil {
		return nil, err
	}
	if !cfg.SimEnd.After(cfg.SimStart) {
		return nil, fmt.Errorf("SIM_END must be after SIM_START")
	}

	if cfg.SimStep, err = positiveDuration("SIM_STEP_SEC", 30, time.Second); err != nil {
		return nil, err
	}
	if cfg.TimeTick, err = positiveDuration("TIME_TICK_MS", 1000, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.PanelTick, err = positiveDuration("PANEL_TICK_SEC", 10, time.Second); err != nil {
		return nil, err
	}
	if cfg.BusTick, err = positiveDuration("BUS_TICK_MS", 1000, time.Millisecond); err != nil {
		return nil, err
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "tracker")
	cfg.NATSKVBucket = os.Getenv("NATS_KV_BUCKET")
	// Debug logging for NATS publish subjects
	cfg.LogNATSSubject = getenvBool("LOG_NATS_SUBJECTS", false)

	cfg.DirectionsURL = os.Getenv("DIRECTIONS_URL")
	cfg.DirectionsAPIKey = os.Getenv("DIRECTIONS_API_KEY")
	if cfg.DirectionsTimeout, err = positiveDuration("DIRECTIONS_TIMEOUT_SEC", 10, time.Second); err != nil {
		return nil, err
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the HTTP server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %q", v)
		}
	}

	return cfg, nil
}

func parseSimTime(key, def string, loc *time.Location) (time.Time, error) {
	v := getenvDefault(key, def)
	t, err := time.ParseInLocation(SimLayout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %q", key, v)
	}
	return t, nil
}

func positiveDuration(key string, def int, unit time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * unit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * unit, nil
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
