package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/bibupload/internal/config"
	"github.com/runger/bibupload/internal/storage"
)

const testRecord = `<record>
  <controlfield tag="001">96013</controlfield>
  <datafield tag="100" ind1=" " ind2=" ">
    <subfield code="a">Tester, T</subfield>
  </datafield>
</record>`

func newTestRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	root := t.TempDir()
	return &Runner{Paths: config.PathsForRoot(root), Config: config.DefaultConfig()}, root
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_SubmitThenExecute(t *testing.T) {
	t.Parallel()

	r, root := newTestRunner(t)
	ctx := context.Background()
	path := writeFile(t, root, "in.xml", testRecord)

	submitted, err := r.Run(ctx, []string{"bibupload", "-i", "-r", "--force", path})
	require.NoError(t, err)
	require.NotNil(t, submitted)
	assert.Equal(t, storage.TaskWaiting, submitted.Status)

	m := regexp.MustCompile(`Task #([0-9]+) submitted`).FindStringSubmatch(submitted.Out)
	require.Len(t, m, 2, "output: %s", submitted.Out)
	assert.Equal(t, strconv.FormatInt(submitted.TaskID, 10), m[1])

	executed, err := r.Run(ctx, []string{"bibupload", m[1]})
	require.NoError(t, err)
	require.NotNil(t, executed)
	assert.Equal(t, storage.TaskDone, executed.Status)
	assert.Regexp(t, `Record 96013 DONE`, executed.Out)
	assert.Contains(t, executed.Out, "1 updated")
	assert.NotContains(t, executed.Out, "Task #")

	_, err = os.Stat(filepath.Join(root, "data", "logs", "bibupload_task_"+m[1]+".log"))
	assert.NoError(t, err)
}

func TestRun_TeeOutput(t *testing.T) {
	t.Parallel()

	r, root := newTestRunner(t)
	var tee bytes.Buffer
	r.Out = &tee

	res, err := r.Run(context.Background(), []string{"bibupload", "-i", writeFile(t, root, "in.xml", `<record><oops`)})
	require.Error(t, err)
	assert.Nil(t, res)

	tee.Reset()
	res, err = r.Run(context.Background(), []string{"bibupload", "--insert", "--force", writeFile(t, root, "ok.xml", testRecord)})
	require.NoError(t, err)
	assert.Equal(t, res.Out, tee.String())
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	r, root := newTestRunner(t)
	ctx := context.Background()
	path := writeFile(t, root, "in.xml", testRecord)

	tests := []struct {
		name string
		argv []string
	}{
		{"no args", []string{"bibupload"}},
		{"file without mode", []string{"bibupload", path}},
		{"unknown task", []string{"bibupload", "4242"}},
		{"conflicting modes", []string{"bibupload", "-a", "-c", path}},
		{"missing file", []string{"bibupload", "-i", filepath.Join(root, "missing.xml")}},
		{"two args", []string{"bibupload", "-i", path, path}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(ctx, tt.argv)
			assert.Error(t, err)
		})
	}
}

func TestRun_TasksAndRecords(t *testing.T) {
	t.Parallel()

	r, root := newTestRunner(t)
	ctx := context.Background()
	path := writeFile(t, root, "in.xml", testRecord)

	submitted, err := r.Run(ctx, []string{"bibupload", "-r", "--force", path})
	require.NoError(t, err)
	_, err = r.Run(ctx, []string{"bibupload", strconv.FormatInt(submitted.TaskID, 10)})
	require.NoError(t, err)

	var out bytes.Buffer
	r.Out = &out

	res, err := r.Run(ctx, []string{"bibupload", "tasks", "--status", "done"})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Contains(t, out.String(), "STATUS")
	assert.Contains(t, out.String(), "DONE")
	assert.Contains(t, out.String(), "Done 1 out of 1.")

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "tasks", "--status", "bogus"})
	assert.Error(t, err)

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "record", "find", "100", "a", "Tester, T"})
	require.NoError(t, err)
	assert.Equal(t, "96013\n", out.String())

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "record", "find", "001", "-", "96013"})
	require.NoError(t, err)
	assert.Equal(t, "96013\n", out.String())

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "record", "show", "96013"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `<subfield code="a">Tester, T</subfield>`)

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "record", "show", "--history", "96013"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "#"+strconv.FormatInt(submitted.TaskID, 10))

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "record", "delete", "96013"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Record 96013 deleted.")

	_, err = r.Run(ctx, []string{"bibupload", "record", "show", "96013"})
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	_, err = r.Run(ctx, []string{"bibupload", "record", "delete", "abc"})
	assert.Error(t, err)
}

func TestRun_Config(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	ctx := context.Background()
	var out bytes.Buffer
	r.Out = &out

	_, err := r.Run(ctx, []string{"bibupload", "config", "log.level", "debug"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Saved to: "+r.Paths.ConfigFile())

	saved, err := config.LoadFromFile(r.Paths.ConfigFile())
	require.NoError(t, err)
	assert.Equal(t, "debug", saved.Log.Level)

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "config", "log.level"})
	require.NoError(t, err)
	assert.Equal(t, "debug\n", out.String())

	out.Reset()
	_, err = r.Run(ctx, []string{"bibupload", "config"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "upload.lock_timeout_ms")

	_, err = r.Run(ctx, []string{"bibupload", "config", "log.level", "loud"})
	assert.Error(t, err)
}

func TestRun_Version(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	var out bytes.Buffer
	r.Out = &out

	_, err := r.Run(context.Background(), []string{"bibupload", "version"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "bibupload "+Version)
}

func TestParseTaskID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"12", 12, true},
		{"007", 7, true},
		{"0", 0, false},
		{"", 0, false},
		{"-3", 0, false},
		{"12.xml", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseTaskID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTable_Render(t *testing.T) {
	t.Parallel()

	tbl := &table{header: []string{"ID", "ARGS"}}
	tbl.add("1", "-i /a/very/long/path/that/does/not/fit/in/the/terminal.xml")
	tbl.add("10", "-r x.xml")

	var buf bytes.Buffer
	tbl.render(&buf, 24)
	lines := regexp.MustCompile(`\r?\n`).Split(buf.String(), -1)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[1], "…")
	assert.Contains(t, lines[2], "-r x.xml")
}
