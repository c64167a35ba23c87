// Package report prints lint issues and downgrades the run status when any
// are found.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"assetweaver/internal/lint"
)

// Failer is the run status a reporter downgrades.
type Failer interface {
	Fail()
}

// Reporter formats issues as
//
//	[<linter>] <path> [<line>, <column>]: (<code>) <message>
//
// one line per issue. It is safe for concurrent use; lines of one Report call
// are never interleaved with another's.
type Reporter struct {
	out    io.Writer
	logger *zap.Logger

	mu    sync.Mutex
	label *color.Color
	where *color.Color
	what  *color.Color
}

// New creates a reporter writing to out (os.Stdout when nil). Colors are off
// when useColor is false.
func New(out io.Writer, useColor bool, logger *zap.Logger) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		out:    out,
		logger: logger,
		label:  color.New(color.FgCyan),
		where:  color.New(color.FgWhite),
		what:   color.New(color.FgRed),
	}
	for _, c := range []*color.Color{r.label, r.where, r.what} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Report prints issues found by linter in path. A non-empty list marks status
// failed; an empty list leaves it untouched. Report never panics.
func (r *Reporter) Report(status Failer, linter, path string, issues []lint.Issue) {
	if len(issues) == 0 {
		return
	}
	defer r.fail(status)
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("reporter panicked", zap.Any("panic", v))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, issue := range issues {
		p := issue.Path
		if p == "" {
			p = path
		}
		line := r.label.Sprintf("[%s] ", linter) +
			r.where.Sprintf("%s [%d, %d]: ", p, issue.Line, issue.Column) +
			r.what.Sprintf("(%s) %s", issue.Code, issue.Message)
		if _, err := fmt.Fprintln(r.out, line); err != nil {
			r.logger.Warn("write lint report", zap.Error(err))
			return
		}
	}
}

func (r *Reporter) fail(status Failer) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("status update panicked", zap.Any("panic", v))
		}
	}()
	if status != nil {
		status.Fail()
	}
}
