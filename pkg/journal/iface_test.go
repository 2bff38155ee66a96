package journal

import (
	"testing"

	"github.com/daviddao/crdtstore/pkg/model"
)

// TestJournalThroughInterface drives every method through JournalInterface.
func TestJournalThroughInterface(t *testing.T) {
	var j JournalInterface = newTestJournal(t)

	id, err := j.Record(rec("n1", "a", model.KindGraphAddEdge, model.OutcomeEmitted))
	if err != nil || id == 0 {
		t.Fatalf("Record: id=%d err=%v", id, err)
	}
	if _, err := j.ListRecords(0, 10); err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if _, err := j.ListRecordsForCRDT("a", 0, 10); err != nil {
		t.Fatalf("ListRecordsForCRDT: %v", err)
	}
	if _, err := j.CountByOutcome(); err != nil {
		t.Fatalf("CountByOutcome: %v", err)
	}
	if j.CountRecords() != 1 || j.MaxRecordID() != id {
		t.Fatalf("counts: %d records, max id %d", j.CountRecords(), j.MaxRecordID())
	}
}
