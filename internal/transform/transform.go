// Package transform holds the steps an asset task chains together.
//
// A Transform consumes the files that survived the previous step and returns
// the files for the next one. Per-file steps are built with Each: a file whose
// step fails is dropped from the chain and its error is aggregated, while the
// other files keep flowing. Batch steps (concat, source-map write, report) see
// every surviving file at once.
package transform

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"assetweaver/internal/asset"
	"assetweaver/internal/sourcemap"
)

// Transform is one step of an asset chain.
type Transform interface {
	Name() string
	Apply(ctx context.Context, files []*asset.File) ([]*asset.File, error)
}

// Error is the failure of one transform on one file.
type Error struct {
	Transform string
	Path      string
	// Line and Column are 1-based; zero when unknown.
	Line   int
	Column int
	Err    error
}

func (e *Error) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.Path, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: %s: %v", e.Transform, loc, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FileFunc transforms a single file. It may modify f in place and return it.
type FileFunc func(ctx context.Context, f *asset.File) (*asset.File, error)

type concurrencyKey struct{}

// WithConcurrency bounds how many files a per-file step processes at once.
// Zero or less means GOMAXPROCS.
func WithConcurrency(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, concurrencyKey{}, n)
}

func concurrency(ctx context.Context) int {
	if n, ok := ctx.Value(concurrencyKey{}).(int); ok && n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

type each struct {
	name string
	fn   FileFunc
}

// Each lifts fn into a Transform applied to every file independently.
// Output order follows input order.
func Each(name string, fn FileFunc) Transform {
	return &each{name: name, fn: fn}
}

func (e *each) Name() string { return e.name }

func (e *each) Apply(ctx context.Context, files []*asset.File) ([]*asset.File, error) {
	out := make([]*asset.File, len(files))
	errs := make([]error, len(files))

	// The group only caps concurrency. Per-file errors stay in errs so a
	// failing file never cancels its siblings.
	var g errgroup.Group
	g.SetLimit(concurrency(ctx))
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := e.fn(ctx, f)
			if err != nil {
				errs[i] = wrap(e.name, f.Path, err)
				return nil
			}
			out[i] = res
			return nil
		})
	}
	g.Wait()

	var merged *multierror.Error
	survivors := make([]*asset.File, 0, len(files))
	for i := range files {
		if errs[i] != nil {
			merged = multierror.Append(merged, errs[i])
			continue
		}
		if out[i] != nil {
			survivors = append(survivors, out[i])
		}
	}
	return survivors, merged.ErrorOrNil()
}

func wrap(name, path string, err error) error {
	var te *Error
	if errors.As(err, &te) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Transform: name, Path: path, Err: err}
}

type batch struct {
	name string
	fn   func(ctx context.Context, files []*asset.File) ([]*asset.File, error)
}

// Batch wraps fn as a Transform that sees every surviving file at once.
func Batch(name string, fn func(ctx context.Context, files []*asset.File) ([]*asset.File, error)) Transform {
	return &batch{name: name, fn: fn}
}

func (b *batch) Name() string { return b.name }

func (b *batch) Apply(ctx context.Context, files []*asset.File) ([]*asset.File, error) {
	return b.fn(ctx, files)
}

// Apply runs steps in order. Files dropped by a step do not reach later steps;
// errors of every step are aggregated. The returned files are the survivors of
// the last step.
func Apply(ctx context.Context, files []*asset.File, steps ...Transform) ([]*asset.File, error) {
	var merged *multierror.Error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, multierror.Append(merged, err).ErrorOrNil()
		}
		next, err := step.Apply(ctx, files)
		if err != nil {
			merged = multierror.Append(merged, err)
		}
		files = next
	}
	return files, merged.ErrorOrNil()
}

// composeMap replaces f.Map with next composed onto it. Files without a map
// (source maps not initialised) are left alone.
func composeMap(f *asset.File, next []byte) error {
	if f.Map == nil || len(next) == 0 {
		return nil
	}
	m, err := sourcemap.Parse(next)
	if err != nil {
		return err
	}
	return composeParsed(f, m, nil)
}

func composeParsed(f *asset.File, next *sourcemap.Map, through func(string) bool) error {
	if f.Map == nil || next == nil {
		return nil
	}
	composed, err := sourcemap.ComposeFunc(next, f.Map, through)
	if err != nil {
		return err
	}
	composed.File = f.Map.File
	f.Map = composed
	return nil
}
