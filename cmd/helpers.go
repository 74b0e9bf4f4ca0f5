package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/store"
)

// openStore builds the configured store backend. Callers own Close.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	}
	return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// parseDay parses a YYYY-MM-DD flag value as a UTC date.
func parseDay(flag, s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Errorf("--%s must be YYYY-MM-DD, got %q", flag, s)
	}
	return t.UTC(), nil
}

// parsePeriod parses and orders the reporting period flags.
func parsePeriod(startStr, endStr string) (start, end time.Time, err error) {
	start, err = parseDay("period-start", startStr)
	if err != nil {
		return
	}
	end, err = parseDay("period-end", endStr)
	if err != nil {
		return
	}
	if end.Before(start) {
		err = eris.Errorf("reporting period end %s precedes start %s", endStr, startStr)
	}
	return
}

// printJSON writes v as indented JSON, the CLI's machine-readable output form.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
