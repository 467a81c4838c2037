// Package cmd implements the bibupload command line.
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/runger/bibupload/internal/bibupload"
	"github.com/runger/bibupload/internal/config"
	"github.com/runger/bibupload/internal/storage"
)

// Runner executes bibupload command lines against one configuration.
type Runner struct {
	Paths  *config.Paths
	Config *config.Config

	// Out additionally receives everything the command prints (optional).
	Out io.Writer
}

// NewRunner loads the configuration from the default locations.
func NewRunner(out io.Writer) (*Runner, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &Runner{Paths: config.DefaultPaths(), Config: cfg, Out: out}, nil
}

// Run executes argv, where argv[0] is the program name, for example
// ["bibupload", "-i", "-r", "/tmp/records.xml"] or ["bibupload", "12"].
// Upload commands return a Result whose Out holds the captured output;
// other commands return a nil Result.
func (r *Runner) Run(ctx context.Context, argv []string) (*bibupload.Result, error) {
	var buf bytes.Buffer
	var out io.Writer = &buf
	if r.Out != nil {
		out = io.MultiWriter(&buf, r.Out)
	}

	a := &app{paths: r.Paths, cfg: r.Config}
	root := newRootCmd(a)
	root.SetOut(out)
	root.SetErr(out)
	if len(argv) > 0 {
		argv = argv[1:]
	}
	root.SetArgs(argv)

	err := root.ExecuteContext(ctx)
	if a.result != nil {
		a.result.Out = buf.String()
	}
	return a.result, err
}

// Run executes argv with the default configuration.
func Run(ctx context.Context, argv []string, out io.Writer) (*bibupload.Result, error) {
	r, err := NewRunner(out)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, argv)
}

// Execute runs the process command line and returns the exit code.
func Execute() int {
	res, err := Run(context.Background(), os.Args, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("Error:"), err)
		return 1
	}
	if res != nil && res.Status == storage.TaskError {
		return 2
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	var (
		mf   bibupload.ModeFlags
		opts bibupload.Options
	)

	root := &cobra.Command{
		Use:   "bibupload [flags] <file|task_id>",
		Short: "Upload MARC-XML records",
		Long: `bibupload - batch upload of MARC-XML records

Given a file, the upload is validated and queued as a task:
  bibupload -i -r --force records.xml     # prints "Task #12 submitted."

Given a task id and no mode flag, the queued task is executed:
  bibupload 12                            # prints "Record <id> DONE" per record

Modes:
  -i          insert new records
  -r          replace existing records
  -i -r       replace when 001 is given, insert otherwise
  -a          append fields to existing records
  -c          replace the given fields of existing records`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUpload(cmd, mf, opts, args[0])
		},
	}
	bibupload.BindFlags(root.Flags(), &mf, &opts)

	root.AddCommand(newTasksCmd(a))
	root.AddCommand(newRecordCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}
