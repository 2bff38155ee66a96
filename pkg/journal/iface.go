package journal

import "github.com/daviddao/crdtstore/pkg/model"

// JournalInterface is the set of journal operations. The store only needs
// Record; the CLI reads the journal back through the rest.
type JournalInterface interface {
	Close() error

	// Record appends one row and returns its id.
	Record(r *model.Record) (int64, error)

	// ListRecords returns rows with id > sinceID in id order.
	ListRecords(sinceID int64, limit int) ([]model.Record, error)

	// ListRecordsForCRDT returns the rows of one CRDT instance after sinceID
	// in id order.
	ListRecordsForCRDT(crdtID string, sinceID int64, limit int) ([]model.Record, error)

	CountRecords() int64

	CountByOutcome() (map[model.Outcome]int64, error)

	// MaxRecordID returns the highest row id, 0 if empty.
	MaxRecordID() int64
}

var _ JournalInterface = (*Journal)(nil)
