package bibupload

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Mode selects how an uploaded record is merged with the stored one.
type Mode string

const (
	ModeInsert          Mode = "insert"
	ModeReplace         Mode = "replace"
	ModeReplaceOrInsert Mode = "replace_or_insert"
	ModeAppend          Mode = "append"
	ModeCorrect         Mode = "correct"
)

// ErrNoMode is returned when no upload mode flag is given.
var ErrNoMode = errors.New("no upload mode given (use -i, -r, -a or -c)")

// Options describes one upload.
type Options struct {
	Mode    Mode
	Force   bool   // insert with a pre-assigned id, or create a missing record on replace
	Pretend bool   // run everything but roll back
	User    string // task owner
	File    string
}

// ModeFlags is the raw flag set from which a Mode is derived.
type ModeFlags struct {
	Insert  bool
	Replace bool
	Append  bool
	Correct bool
}

// Any reports whether a mode flag is set.
func (f ModeFlags) Any() bool {
	return f.Insert || f.Replace || f.Append || f.Correct
}

// Mode resolves the flags into a single mode. -i and -r together mean
// replace-or-insert; any other combination is rejected.
func (f ModeFlags) Mode() (Mode, error) {
	set := 0
	for _, b := range []bool{f.Insert, f.Replace, f.Append, f.Correct} {
		if b {
			set++
		}
	}
	switch {
	case set == 0:
		return "", ErrNoMode
	case f.Insert && f.Replace && set == 2:
		return ModeReplaceOrInsert, nil
	case set > 1:
		return "", errors.New("conflicting upload modes")
	case f.Insert:
		return ModeInsert, nil
	case f.Replace:
		return ModeReplace, nil
	case f.Append:
		return ModeAppend, nil
	default:
		return ModeCorrect, nil
	}
}

// BindFlags registers the upload flags on fs.
func BindFlags(fs *pflag.FlagSet, mf *ModeFlags, opts *Options) {
	fs.BoolVarP(&mf.Insert, "insert", "i", false, "insert new records")
	fs.BoolVarP(&mf.Replace, "replace", "r", false, "replace existing records")
	fs.BoolVarP(&mf.Append, "append", "a", false, "append fields to existing records")
	fs.BoolVarP(&mf.Correct, "correct", "c", false, "replace the given fields of existing records")
	fs.BoolVar(&opts.Force, "force", false, "allow pre-assigned record ids")
	fs.BoolVar(&opts.Pretend, "pretend", false, "process records without committing")
	fs.StringVarP(&opts.User, "user", "u", "", "task owner")
}

// ParseArgs parses an upload argument vector such as
// ["-i", "-r", "--force", "/tmp/file.xml"].
func ParseArgs(argv []string) (*Options, error) {
	var (
		mf   ModeFlags
		opts Options
	)
	fs := pflag.NewFlagSet("bibupload", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	BindFlags(fs, &mf, &opts)

	if err := fs.Parse(argv); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	mode, err := mf.Mode()
	if err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one input file, got %d", fs.NArg())
	}
	opts.Mode = mode
	opts.File = fs.Arg(0)
	return &opts, nil
}

// Args renders the options back into an argument vector accepted by ParseArgs.
func (o *Options) Args() []string {
	var argv []string
	switch o.Mode {
	case ModeInsert:
		argv = append(argv, "-i")
	case ModeReplace:
		argv = append(argv, "-r")
	case ModeReplaceOrInsert:
		argv = append(argv, "-i", "-r")
	case ModeAppend:
		argv = append(argv, "-a")
	case ModeCorrect:
		argv = append(argv, "-c")
	}
	if o.Force {
		argv = append(argv, "--force")
	}
	if o.Pretend {
		argv = append(argv, "--pretend")
	}
	if o.User != "" {
		argv = append(argv, "--user", o.User)
	}
	return append(argv, "--", o.File)
}

// Validate checks that the options describe a runnable upload.
func (o *Options) Validate() error {
	switch o.Mode {
	case ModeInsert, ModeReplace, ModeReplaceOrInsert, ModeAppend, ModeCorrect:
	case "":
		return ErrNoMode
	default:
		return fmt.Errorf("unknown upload mode %q", o.Mode)
	}
	if o.File == "" {
		return errors.New("input file is required")
	}
	return nil
}
