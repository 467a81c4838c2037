// Package uploadtest drives bibupload end to end from Go tests.
//
// A Harness writes a MARC-XML payload to a scoped temporary file, submits it,
// executes the resulting task by id and checks the console contract on the
// way. Rows created for a record are deleted when the test ends, whether or
// not its assertions passed.
package uploadtest

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runger/bibupload/internal/bibupload"
	"github.com/runger/bibupload/internal/marcxml"
)

var (
	submittedRe = regexp.MustCompile(`Task #([0-9]+) submitted`)
	doneRe      = regexp.MustCompile(`Record ([0-9]+) DONE`)
)

// Uploader is the ingestion entry point. argv[0] is the program name.
type Uploader interface {
	Run(ctx context.Context, argv []string) (*bibupload.Result, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, argv []string) (*bibupload.Result, error)

// Run calls f.
func (f UploaderFunc) Run(ctx context.Context, argv []string) (*bibupload.Result, error) {
	return f(ctx, argv)
}

// RecordStore is the part of the record store the harness touches.
type RecordStore interface {
	DeleteRecord(ctx context.Context, recID int64) error
	QueryIDs(ctx context.Context, query string, args ...any) ([]int64, error)
}

// Harness runs uploads against an injected entry point and store.
type Harness struct {
	uploader Uploader
	store    RecordStore
	tmpDir   string
}

// New creates a Harness writing its XML files to tmpDir.
func New(uploader Uploader, store RecordStore, tmpDir string) *Harness {
	return &Harness{uploader: uploader, store: store, tmpDir: tmpDir}
}

// XMLFile is a temporary MARC-XML file.
type XMLFile struct {
	Path string
}

// Close removes the file. Removing a missing file is not an error.
func (f *XMLFile) Close() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CreateXMLFile writes xml to a new file in the temp directory and syncs it.
// The file is removed when t ends.
func (h *Harness) CreateXMLFile(t testing.TB, xml string) *XMLFile {
	t.Helper()

	require.NoError(t, os.MkdirAll(h.tmpDir, 0755))
	f, err := os.CreateTemp(h.tmpDir, "bibupload_test_*.xml")
	require.NoError(t, err)

	file := &XMLFile{Path: f.Name()}
	t.Cleanup(func() {
		if err := file.Close(); err != nil {
			t.Errorf("failed to remove %s: %v", file.Path, err)
		}
	})

	_, err = f.WriteString(xml)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	require.NoError(t, err)
	return file
}

// DeleteRecord removes the bibrec and bibfmt rows of a record. Deleting a
// record that does not exist is not an error.
func (h *Harness) DeleteRecord(ctx context.Context, recID int64) error {
	return h.store.DeleteRecord(ctx, recID)
}

// RecordRows returns how many bibrec rows exist for recID.
func (h *Harness) RecordRows(ctx context.Context, recID int64) (int, error) {
	ids, err := h.store.QueryIDs(ctx, `SELECT id FROM bibrec WHERE id=?`, recID)
	return len(ids), err
}

// FormatRows returns how many bibfmt rows exist for recID.
func (h *Harness) FormatRows(ctx context.Context, recID int64) (int, error) {
	ids, err := h.store.QueryIDs(ctx, `SELECT id FROM bibfmt WHERE id_bibrec=?`, recID)
	return len(ids), err
}

// Upload is the outcome of a submit-then-execute round.
type Upload struct {
	TaskID  int64
	RecID   int64
	Submit  *bibupload.Result
	Execute *bibupload.Result
}

// Summary returns the console output of the execution.
func (u *Upload) Summary() string {
	return u.Execute.Out
}

// Upload writes xml to a temporary file, submits it with flags, then executes
// the submitted task. The record ids involved are deleted when t ends.
func (h *Harness) Upload(ctx context.Context, t testing.TB, xml string, flags ...string) *Upload {
	t.Helper()

	cleaned := make(map[int64]bool)
	cleanup := func(recID int64) {
		if recID <= 0 || cleaned[recID] {
			return
		}
		cleaned[recID] = true
		t.Cleanup(func() {
			if err := h.DeleteRecord(context.WithoutCancel(ctx), recID); err != nil {
				t.Errorf("failed to delete record %d: %v", recID, err)
			}
		})
	}

	if records, err := marcxml.ParseString(xml); err == nil {
		for _, rec := range records {
			if id, ok, err := rec.RecID(); ok && err == nil {
				cleanup(id)
			}
		}
	}

	file := h.CreateXMLFile(t, xml)

	argv := append([]string{"bibupload"}, flags...)
	argv = append(argv, file.Path)
	submitted, err := h.uploader.Run(ctx, argv)
	require.NoError(t, err, "submit %q", strings.Join(argv, " "))
	require.NotNil(t, submitted)

	taskID, ok := SubmittedTaskID(submitted.Out)
	require.True(t, ok, "no submitted task in output:\n%s", submitted.Out)
	require.Equal(t, submitted.TaskID, taskID, "task id in output and result differ")

	executed, err := h.uploader.Run(ctx, []string{"bibupload", strconv.FormatInt(taskID, 10)})
	if executed != nil {
		for _, id := range executed.RecIDs() {
			cleanup(id)
		}
	}
	require.NoError(t, err, "execute task %d", taskID)
	require.NotNil(t, executed)

	recID, ok := DoneRecID(executed.Out)
	require.True(t, ok, "no finished record in output:\n%s", executed.Out)
	require.Contains(t, executed.RecIDs(), recID, "record id in output and result differ")

	return &Upload{TaskID: taskID, RecID: recID, Submit: submitted, Execute: executed}
}

// SubmittedTaskID extracts the task id from "Task #<n> submitted".
func SubmittedTaskID(out string) (int64, bool) {
	return firstID(submittedRe, out)
}

// DoneRecID extracts the record id from the first "Record <n> DONE".
func DoneRecID(out string) (int64, bool) {
	return firstID(doneRe, out)
}

func firstID(re *regexp.Regexp, out string) (int64, bool) {
	m := re.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// String implements fmt.Stringer for failure messages.
func (u *Upload) String() string {
	return fmt.Sprintf("task #%d record %d", u.TaskID, u.RecID)
}
