package db

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bus-tracker/internal/gtfs"
)

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindReal
	kindTime
)

type column struct {
	name string
	kind columnKind
}

type table struct {
	name     string
	required bool
	key      string
	columns  []column
	indexes  []string
}

var scheduleTables = []table{
	{
		name: "agency",
		columns: []column{
			{"agency_id", kindText}, {"agency_name", kindText}, {"agency_url", kindText},
			{"agency_timezone", kindText}, {"agency_lang", kindText},
		},
	},
	{
		name: "calendar_dates", required: true,
		columns: []column{{"service_id", kindText}, {"date", kindText}, {"exception_type", kindInt}},
		indexes: []string{"service_id", "date"},
	},
	{
		name: "routes", required: true, key: "route_id",
		columns: []column{
			{"route_id", kindText}, {"agency_id", kindText}, {"route_short_name", kindText},
			{"route_long_name", kindText}, {"route_type", kindInt}, {"route_color", kindText},
			{"route_text_color", kindText},
		},
	},
	{
		name: "stops", required: true, key: "stop_id",
		columns: []column{
			{"stop_id", kindText}, {"stop_name", kindText}, {"stop_lat", kindReal},
			{"stop_lon", kindReal}, {"location_type", kindInt},
		},
	},
	{
		name: "trips", required: true, key: "trip_id",
		columns: []column{
			{"trip_id", kindText}, {"route_id", kindText}, {"service_id", kindText},
			{"trip_headsign", kindText},
		},
		indexes: []string{"route_id"},
	},
	{
		name: "stop_times", required: true,
		columns: []column{
			{"trip_id", kindText}, {"arrival_time", kindTime}, {"departure_time", kindTime},
			{"stop_id", kindText}, {"stop_sequence", kindInt}, {"pickup_type", kindInt},
			{"drop_off_type", kindInt},
		},
		indexes: []string{"trip_id"},
	},
}

// ImportGTFS (re)creates the schedule tables and fills them from the
// GTFS txt files in dir inside a single transaction.
func ImportGTFS(ctx context.Context, db *sql.DB, dir string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, t := range scheduleTables {
		if err := createTable(ctx, tx, t); err != nil {
			return err
		}
		n, err := loadTable(ctx, tx, t, dir)
		if err != nil {
			return err
		}
		slog.Debug("imported schedule table", "table", t.name, "rows", n)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func createTable(ctx context.Context, tx *sql.Tx, t table) error {
	defs := make([]string, len(t.columns))
	for i, c := range t.columns {
		def := c.name + " " + sqlType(c.kind)
		if c.name == t.key {
			def += " PRIMARY KEY"
		}
		defs[i] = def
	}
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.name, strings.Join(defs, ", ")),
		fmt.Sprintf("DELETE FROM %s", t.name),
	}
	for _, col := range t.indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (%s)", t.name, col, t.name, col))
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("prepare table %s: %w", t.name, err)
		}
	}
	return nil
}

func sqlType(k columnKind) string {
	switch k {
	case kindInt:
		return "INTEGER"
	case kindReal:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func loadTable(ctx context.Context, tx *sql.Tx, t table, dir string) (int, error) {
	f, err := os.Open(filepath.Join(dir, t.name+".txt"))
	if errors.Is(err, os.ErrNotExist) && !t.required {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("open %s: %w", t.name, err)
	}
	defer f.Close()

	names := make([]string, len(t.columns))
	placeholders := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(names, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return 0, fmt.Errorf("prepare insert %s: %w", t.name, err)
	}
	defer stmt.Close()

	n := 0
	err = readRecords(f, func(rec map[string]string, line int) error {
		args := make([]any, len(t.columns))
		for i, c := range t.columns {
			v, err := convert(c.kind, rec[c.name])
			if err != nil {
				return fmt.Errorf("%s.txt line %d column %s: %w", t.name, line, c.name, err)
			}
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%s.txt line %d: %w", t.name, line, err)
		}
		n++
		return nil
	})
	return n, err
}

func convert(k columnKind, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch k {
	case kindInt:
		if raw == "" {
			return 0, nil
		}
		return strconv.Atoi(raw)
	case kindReal:
		if raw == "" {
			return 0.0, nil
		}
		return strconv.ParseFloat(raw, 64)
	case kindTime:
		return gtfs.NormalizeTime(raw), nil
	default:
		return raw, nil
	}
}

// readRecords calls fn for every data row keyed by the header names.
func readRecords(r io.Reader, fn func(rec map[string]string, line int) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	row, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	} else if err != nil {
		return err
	}
	header := make([]string, len(row))
	for i, h := range row {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	rec := make(map[string]string, len(header))
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		clear(rec)
		for i, key := range header {
			if i < len(row) {
				rec[key] = row[i]
			}
		}
		line, _ := cr.FieldPos(0)
		if err := fn(rec, line); err != nil {
			return err
		}
	}
}
