package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"assetweaver/internal/asset"
)

var targets = map[string]api.Target{
	"env":    api.ES2015,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// ParseTarget maps a transpile preset name to an esbuild target. "env" is the
// default preset and lowers to ES2015.
func ParseTarget(name string) (api.Target, error) {
	if name == "" {
		name = "env"
	}
	t, ok := targets[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown transpile target %q", name)
	}
	return t, nil
}

// Transpile lowers script syntax to target.
func Transpile(target api.Target) Transform {
	return esbuildStep("transpile", api.TransformOptions{
		Loader: api.LoaderJS,
		Target: target,
	})
}

// MinifyScripts minifies scripts: whitespace, identifiers and syntax.
func MinifyScripts(target api.Target) Transform {
	return esbuildStep("uglify", api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            target,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LegalComments:     api.LegalCommentsNone,
	})
}

// MinifyStyles minifies style sheets.
func MinifyStyles() Transform {
	return esbuildStep("cssmin", api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		LegalComments:    api.LegalCommentsNone,
	})
}

func esbuildStep(name string, opts api.TransformOptions) Transform {
	return Each(name, func(_ context.Context, f *asset.File) (*asset.File, error) {
		o := opts
		o.Sourcefile = f.Path
		if f.Map != nil {
			o.Sourcemap = api.SourceMapExternal
		}
		res := api.Transform(string(f.Contents), o)
		if len(res.Errors) > 0 {
			return nil, esbuildError(name, f.Path, res.Errors)
		}
		f.Contents = res.Code
		if err := composeMap(f, res.Map); err != nil {
			return nil, &Error{Transform: name, Path: f.Path, Err: fmt.Errorf("compose source map: %w", err)}
		}
		return f, nil
	})
}

func esbuildError(name, path string, msgs []api.Message) error {
	first := msgs[0]
	e := &Error{Transform: name, Path: path, Err: errors.New(first.Text)}
	if first.Location != nil {
		e.Line = first.Location.Line
		e.Column = first.Location.Column + 1
	}
	if len(msgs) > 1 {
		e.Err = fmt.Errorf("%s (and %d more)", first.Text, len(msgs)-1)
	}
	return e
}
