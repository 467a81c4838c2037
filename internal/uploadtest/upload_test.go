package uploadtest_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/bibupload/internal/bibupload"
	"github.com/runger/bibupload/internal/cmd"
	"github.com/runger/bibupload/internal/config"
	"github.com/runger/bibupload/internal/storage"
	"github.com/runger/bibupload/internal/uploadtest"
)

const xmlWithID = `<?xml version="1.0" encoding="UTF-8"?>
<collection xmlns="http://www.loc.gov/MARC21/slim">
<record>
  <controlfield tag="001">96013</controlfield>
  <datafield tag="100" ind1=" " ind2=" ">
    <subfield code="a">Tester, T</subfield>
  </datafield>
</record>
</collection>`

const xmlWithoutID = `<?xml version="1.0" encoding="UTF-8"?>
<collection xmlns="http://www.loc.gov/MARC21/slim">
<record>
  <datafield tag="100" ind1=" " ind2=" ">
    <subfield code="a">Tester, T</subfield>
  </datafield>
</record>
</collection>`

func newHarness(t *testing.T) *uploadtest.Harness {
	t.Helper()

	paths := config.PathsForRoot(t.TempDir())
	cfg := config.DefaultConfig()

	store, err := storage.NewSQLiteStore(cfg.DatabasePath(paths))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := &cmd.Runner{Paths: paths, Config: cfg}
	return uploadtest.New(runner, store, cfg.TmpDir(paths))
}

func TestUpload_PreassignedID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	n, err := h.RecordRows(ctx, 96013)
	require.NoError(t, err)
	require.Zero(t, n)

	up := h.Upload(ctx, t, xmlWithID, "-i", "-r", "--force")

	assert.Contains(t, up.Summary(), "1 updated")
	assert.Equal(t, int64(96013), up.RecID)
	assert.Equal(t, bibupload.KindUpdated, up.Execute.Records[0].Kind)

	n, err = h.RecordRows(ctx, up.RecID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.FormatRows(ctx, up.RecID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpload_WithoutID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	up := h.Upload(ctx, t, xmlWithoutID, "-i", "-r")

	assert.Contains(t, up.Summary(), "1 inserted")
	assert.Greater(t, up.RecID, int64(0))
	assert.Equal(t, bibupload.KindInserted, up.Execute.Records[0].Kind)

	n, err := h.RecordRows(ctx, up.RecID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.FormatRows(ctx, up.RecID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpload_CleanupDeletesRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	var recID int64
	t.Run("upload", func(t *testing.T) {
		recID = h.Upload(ctx, t, xmlWithoutID, "-i").RecID
	})
	require.Greater(t, recID, int64(0))

	n, err := h.RecordRows(ctx, recID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = h.FormatRows(ctx, recID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteRecord_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.DeleteRecord(ctx, 96013))
	require.NoError(t, h.DeleteRecord(ctx, 96013))
}

func TestCreateXMLFile_ScopedToTest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var path string
	t.Run("write", func(t *testing.T) {
		f := h.CreateXMLFile(t, xmlWithID)
		path = f.Path

		data, err := os.ReadFile(f.Path)
		require.NoError(t, err)
		assert.Equal(t, xmlWithID, string(data))
		assert.True(t, strings.HasSuffix(filepath.Base(f.Path), ".xml"))
	})

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file should be removed after the test, stat error = %v", err)
}

func TestXMLFile_CloseTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	f := h.CreateXMLFile(t, "<record/>")
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestUploaderFunc(t *testing.T) {
	t.Parallel()

	var got []string
	u := uploadtest.UploaderFunc(func(ctx context.Context, argv []string) (*bibupload.Result, error) {
		got = argv
		return &bibupload.Result{TaskID: 3, Out: "Task #3 submitted."}, nil
	})

	res, err := u.Run(context.Background(), []string{"bibupload", "-i", "x.xml"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TaskID)
	assert.Equal(t, []string{"bibupload", "-i", "x.xml"}, got)
}

func TestOutputExtraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		out    string
		taskID int64
		recID  int64
	}{
		{
			name:   "console lines",
			out:    "level=INFO msg=\"Task #12 submitted.\" task_id=12\nlevel=INFO msg=\"Record 96013 DONE\"\n",
			taskID: 12,
			recID:  96013,
		},
		{
			name:  "first record wins",
			out:   "Record 5 DONE\nRecord 6 DONE\n",
			recID: 5,
		},
		{
			name: "nothing",
			out:  "Task # submitted\nRecord x DONE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taskID, ok := uploadtest.SubmittedTaskID(tt.out)
			assert.Equal(t, tt.taskID != 0, ok)
			assert.Equal(t, tt.taskID, taskID)

			recID, ok := uploadtest.DoneRecID(tt.out)
			assert.Equal(t, tt.recID != 0, ok)
			assert.Equal(t, tt.recID, recID)
		})
	}
}
