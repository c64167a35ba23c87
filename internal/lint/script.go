package lint

import (
	"context"
	"errors"
	"strings"

	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// CodeParseError is reported for sources that do not parse.
const CodeParseError = "parse-error"

// ScriptLinter reports syntax errors in JavaScript sources.
type ScriptLinter struct{}

func (ScriptLinter) Name() string { return "eslint" }

func (ScriptLinter) Lint(ctx context.Context, path string, src []byte) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := parser.ParseFile(new(file.FileSet), path, string(src), 0)
	if err == nil {
		return nil, nil
	}

	var list parser.ErrorList
	if errors.As(err, &list) {
		issues := make([]Issue, 0, len(list))
		for _, e := range list {
			issues = append(issues, Issue{
				Path:     path,
				Line:     e.Position.Line,
				Column:   e.Position.Column,
				Code:     CodeParseError,
				Message:  strings.TrimSpace(e.Message),
				Severity: SeverityError,
			})
		}
		return issues, nil
	}

	var single *parser.Error
	if errors.As(err, &single) {
		return []Issue{{
			Path:     path,
			Line:     single.Position.Line,
			Column:   single.Position.Column,
			Code:     CodeParseError,
			Message:  strings.TrimSpace(single.Message),
			Severity: SeverityError,
		}}, nil
	}
	return []Issue{{Path: path, Line: 1, Column: 1, Code: CodeParseError, Message: err.Error(), Severity: SeverityError}}, nil
}
