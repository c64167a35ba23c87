// Package pipeline defines asset tasks (a file selection flowing through a
// transform chain into a destination) and registers the standard task set.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"assetweaver/internal/asset"
	"assetweaver/internal/dag"
	"assetweaver/internal/transform"
)

// AssetTask resolves Selection under Dir, passes the files through Steps and
// writes the survivors to Dest. An empty Dest writes nothing.
type AssetTask struct {
	Name        string
	Dir         string
	Selection   asset.Selection
	Steps       []transform.Transform
	Dest        string
	Concurrency int
	Logger      *zap.Logger
}

// Work adapts t to a dag.Work.
func (t *AssetTask) Work() dag.Work { return t.Run }

// Run executes the task once. Files dropped by a failing step are not written;
// every other file is. Any failure marks the run status failed and is
// returned as an aggregate.
func (t *AssetTask) Run(ctx context.Context) error {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("task", t.Name))

	files, err := t.Selection.Resolve(t.Dir)
	if err != nil {
		dag.StatusFrom(ctx).Fail()
		return fmt.Errorf("%s: resolve selection: %w", t.Name, err)
	}
	logger.Debug("selected files", zap.Int("count", len(files)))

	out, err := transform.Apply(transform.WithConcurrency(ctx, t.Concurrency), files, t.Steps...)
	var merged *multierror.Error
	if err != nil {
		merged = multierror.Append(merged, err)
		logErrors(logger, err)
	}

	if t.Dest != "" && len(out) > 0 && ctx.Err() == nil {
		written, werr := asset.Write(t.Dir, t.Dest, out)
		for _, p := range written {
			logger.Debug("wrote", zap.String("path", p))
		}
		if werr != nil {
			logger.Error("write failed", zap.Error(werr))
			merged = multierror.Append(merged, werr)
		}
	}

	if err := merged.ErrorOrNil(); err != nil {
		dag.StatusFrom(ctx).Fail()
		return err
	}
	return nil
}

// logErrors logs every file-level failure on its own line, the way compiler
// errors are surfaced without stopping the chain.
func logErrors(logger *zap.Logger, err error) {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		logger.Error(err.Error())
		return
	}
	for _, e := range merr.WrappedErrors() {
		var te *transform.Error
		if errors.As(e, &te) {
			logger.Error(te.Err.Error(),
				zap.String("transform", te.Transform),
				zap.String("path", te.Path),
				zap.Int("line", te.Line),
				zap.Int("column", te.Column))
			continue
		}
		logger.Error(e.Error())
	}
}
