package transform

import (
	"context"
	"fmt"

	"assetweaver/internal/asset"
	"assetweaver/internal/dag"
	"assetweaver/internal/lint"
	"assetweaver/internal/report"
)

// Lint runs l over every file and stores its findings in File.Issues. Contents
// pass through unchanged.
func Lint(l lint.Linter) Transform {
	return Each(l.Name(), func(ctx context.Context, f *asset.File) (*asset.File, error) {
		issues, err := l.Lint(ctx, f.Path, f.Contents)
		if err != nil {
			return nil, err
		}
		f.Issues = issues
		return f, nil
	})
}

// Report prints the issues of every file through r under the label linter and
// marks the run status in ctx failed when there are any. It never drops files.
func Report(r *report.Reporter, linter string) Transform {
	return Batch("report", func(ctx context.Context, files []*asset.File) ([]*asset.File, error) {
		status := dag.StatusFrom(ctx)
		for _, f := range files {
			r.Report(status, linter, f.Path, f.Issues)
		}
		return files, nil
	})
}

// FailOnIssue drops every file carrying an error-severity issue and fails
// with an Error positioned at its first one. Warnings pass.
func FailOnIssue() Transform {
	return Each("failOnError", func(_ context.Context, f *asset.File) (*asset.File, error) {
		errs := lint.Errors(f.Issues)
		if len(errs) == 0 {
			return f, nil
		}
		first := errs[0]
		return nil, &Error{
			Transform: "failOnError",
			Path:      f.Path,
			Line:      first.Line,
			Column:    first.Column,
			Err:       fmt.Errorf("%d lint error(s), first: (%s) %s", len(errs), first.Code, first.Message),
		}
	})
}
