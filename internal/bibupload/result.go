package bibupload

import (
	"errors"
	"fmt"
	"time"

	"github.com/runger/bibupload/internal/storage"
)

// Kind is the operation applied to a record.
type Kind string

const (
	KindInserted Kind = "inserted"
	KindUpdated  Kind = "updated"
)

// RecordOutcome is the result of processing one input record.
type RecordOutcome struct {
	Index int   // position in the input file, 1-based
	RecID int64 // 0 when no id could be assigned
	Kind  Kind
	Err   error
}

// OK reports whether the record was processed.
func (o RecordOutcome) OK() bool {
	return o.Err == nil
}

// Stats summarises a task run.
type Stats struct {
	Input    int
	Updated  int
	Inserted int
	Errors   int
	Elapsed  time.Duration
}

// String renders the summary line written at the end of every run.
func (s Stats) String() string {
	return fmt.Sprintf("Task stats: %d input records, %d updated, %d inserted, %d errors. Time %.2f sec.",
		s.Input, s.Updated, s.Inserted, s.Errors, s.Elapsed.Seconds())
}

func (s *Stats) add(o RecordOutcome) {
	switch {
	case o.Err != nil:
		s.Errors++
	case o.Kind == KindInserted:
		s.Inserted++
	case o.Kind == KindUpdated:
		s.Updated++
	}
}

// Result is what a submission or a task run reports back.
type Result struct {
	TaskID  int64
	Status  storage.TaskStatus
	Records []RecordOutcome
	Stats   Stats

	// Out is the console text produced while the result was built. The
	// engine leaves it empty; the CLI fills it from its captured output.
	Out string
}

// RecIDs returns the ids of all records that were assigned one.
func (r *Result) RecIDs() []int64 {
	var ids []int64
	for _, o := range r.Records {
		if o.RecID > 0 {
			ids = append(ids, o.RecID)
		}
	}
	return ids
}

// Err joins the errors of all failed records.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.Records {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", o.Index, o.Err))
		}
	}
	return errors.Join(errs...)
}
