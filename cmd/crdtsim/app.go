package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/daviddao/crdtstore/pkg/journal"
	"github.com/daviddao/crdtstore/pkg/logging"
)

// app holds what every subcommand shares.
type app struct {
	cfg     config
	log     *slog.Logger
	journal journal.JournalInterface // nil when CRDTSIM_JOURNAL is off
}

// newApp builds the logger and opens the journal, creating its directory if
// needed.
func newApp(cfg config) (*app, error) {
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	if !cfg.Journal {
		return a, nil
	}
	if dir := filepath.Dir(cfg.DB); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	j, err := journal.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("cannot open journal %q: %w", cfg.DB, err)
	}
	a.journal = j
	return a, nil
}

// Close releases the journal. It is safe to call more than once.
func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
		a.journal = nil
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
