// Package journal persists the command traffic of a simulation in SQLite.
//
// Every node writes one row per command it emits and one row per command it
// receives, whether the command was accepted or rejected. Reading the table
// back in id order replays the run as the nodes experienced it. The journal
// is an audit trail only; replicas never read their state back from it.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/daviddao/crdtstore/pkg/model"

	_ "modernc.org/sqlite"
)

const defaultLimit = 100

// Journal is a SQLite-backed command journal in WAL mode.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and migrates it.
func Open(path string) (*Journal, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id    TEXT NOT NULL,
		crdt_id    TEXT NOT NULL,
		crdt_type  TEXT NOT NULL,
		kind       TEXT NOT NULL,
		origin     TEXT NOT NULL,
		clock      TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		payload    TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commands_crdt ON commands(crdt_id, id);
	CREATE INDEX IF NOT EXISTS idx_commands_node ON commands(node_id, id);
	CREATE INDEX IF NOT EXISTS idx_commands_outcome ON commands(outcome);
	`
	_, err := j.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Record appends r and returns its row id. A zero CreatedAt is stamped with
// the current time.
func (j *Journal) Record(r *model.Record) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := retryOnContention(func() error {
		res, err := j.db.Exec(
			`INSERT INTO commands (node_id, crdt_id, crdt_type, kind, origin, clock, outcome, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.NodeID, r.CRDTID, r.CRDTType, string(r.Kind), r.Origin, r.Clock,
			string(r.Outcome), r.Payload, r.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record %s on %s: %w", r.Kind, r.NodeID, err)
	}
	r.ID = id
	return id, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

const selectRecords = `SELECT id, node_id, crdt_id, crdt_type, kind, origin, clock, outcome,
	        COALESCE(payload,''), created_at
	 FROM commands`

// ListRecords returns records with id > sinceID in id order.
func (j *Journal) ListRecords(sinceID int64, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := j.db.Query(selectRecords+` WHERE id > ? ORDER BY id ASC LIMIT ?`, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecordsForCRDT returns the records of one CRDT instance with id >
// sinceID, across all nodes, in id order.
func (j *Journal) ListRecordsForCRDT(crdtID string, sinceID int64, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := j.db.Query(selectRecords+` WHERE crdt_id = ? AND id > ? ORDER BY id ASC LIMIT ?`, crdtID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountRecords returns the number of journal rows.
func (j *Journal) CountRecords() int64 {
	var n int64
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM commands`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// CountByOutcome returns the number of rows per outcome.
func (j *Journal) CountByOutcome() (map[model.Outcome]int64, error) {
	rows, err := j.db.Query(`SELECT outcome, COUNT(*) FROM commands GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.Outcome]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[model.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// MaxRecordID returns the highest row id, or 0 if the journal is empty.
func (j *Journal) MaxRecordID() int64 {
	var id int64
	if err := j.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM commands`).Scan(&id); err != nil {
		return 0
	}
	return id
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var records []model.Record
	for rows.Next() {
		var r model.Record
		var kind, outcome, created string
		if err := rows.Scan(&r.ID, &r.NodeID, &r.CRDTID, &r.CRDTType, &kind, &r.Origin,
			&r.Clock, &outcome, &r.Payload, &created); err != nil {
			return nil, err
		}
		r.Kind = model.CommandKind(kind)
		r.Outcome = model.Outcome(outcome)
		var err error
		r.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of record %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
