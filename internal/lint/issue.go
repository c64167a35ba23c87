// Package lint checks markup, style and script sources and reports Issues.
//
// The checks are deliberately small: markup structure via the x/net/html
// tokenizer, script syntax via the goja parser, and a handful of style rules
// configured through a .sass-lint.yml file.
package lint

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Severity of an Issue.
type Severity int

const (
	SeverityWarning Severity = 1
	SeverityError   Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Issue is one lint finding. Line and Column are 1-based.
type Issue struct {
	Path     string
	Line     int
	Column   int
	Code     string
	Message  string
	Severity Severity
}

func (i Issue) String() string {
	return fmt.Sprintf("%s [%d, %d]: (%s) %s", i.Path, i.Line, i.Column, i.Code, i.Message)
}

// Linter checks a single source file. An error means the linter itself could
// not run; findings are returned as Issues.
type Linter interface {
	// Name is the label printed in front of every reported line.
	Name() string
	Lint(ctx context.Context, path string, src []byte) ([]Issue, error)
}

// Errors returns the issues of error severity, in order.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Severity >= SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// position converts a byte offset into a 1-based line and column. Columns
// count characters, not bytes.
func position(src []byte, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}
	line, col := 1, 1
	for b := src[:offset]; len(b) > 0; {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
