package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ExitSuccess           = 0
	ExitTaskFailure       = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// DefaultTask runs when no task is named.
const DefaultTask = "default"

// Options are the raw flag values of one command line.
type Options struct {
	Dir     string
	Config  string
	Trace   string
	Debug   bool
	Quiet   bool
	NoColor bool
}

// Invocation is the canonical description of a run.
//
// Dir is absolute; ConfigPath and TracePath are resolved under Dir when given
// as relative paths and empty when not given.
type Invocation struct {
	Dir        string
	ConfigPath string
	TracePath  string
	Tasks      []string
	Debug      bool
	Quiet      bool
	NoColor    bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// NewInvocation canonicalizes opts and the positional task names.
// An empty Dir means the current directory.
func NewInvocation(opts Options, tasks []string) (Invocation, error) {
	if opts.Debug && opts.Quiet {
		return Invocation{}, invalidInvocationf("--debug and --quiet are mutually exclusive")
	}

	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Invocation{}, fmt.Errorf("get working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return Invocation{}, invalidInvocationf("invalid --dir %q: %v", opts.Dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Invocation{}, invalidInvocationf("--dir %q is not a directory", opts.Dir)
	}

	inv := Invocation{
		Dir:     dir,
		Debug:   opts.Debug,
		Quiet:   opts.Quiet,
		NoColor: opts.NoColor,
	}
	if strings.TrimSpace(opts.Config) != "" {
		if inv.ConfigPath, err = resolveUnderDir(dir, opts.Config); err != nil {
			return Invocation{}, err
		}
	}
	if strings.TrimSpace(opts.Trace) != "" {
		if inv.TracePath, err = resolveUnderDir(dir, opts.Trace); err != nil {
			return Invocation{}, err
		}
	}

	for _, t := range tasks {
		if strings.TrimSpace(t) == "" {
			return Invocation{}, invalidInvocationf("task name must not be empty")
		}
		inv.Tasks = append(inv.Tasks, t)
	}
	if len(inv.Tasks) == 0 {
		inv.Tasks = []string{DefaultTask}
	}
	return inv, nil
}

func resolveUnderDir(dir, p string) (string, error) {
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(dir, clean), nil
}

// ExitCode extracts a semantic exit code from an error.
// Errors that are not InvocationErrors map to ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
