package transform

import (
	"context"
	"errors"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/parse/v2"

	"assetweaver/internal/asset"
)

// MinifyMarkup minifies HTML. Only whitespace is collapsed; document tags,
// end tags, quotes and default attribute values are kept, so the output stays
// structurally equal to the input. With collapse false whitespace is kept too.
func MinifyMarkup(collapse bool) Transform {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepQuotes:          true,
		KeepDefaultAttrVals: true,
		KeepWhitespace:      !collapse,
	})

	return Each("htmlmin", func(_ context.Context, f *asset.File) (*asset.File, error) {
		out, err := m.Bytes("text/html", f.Contents)
		if err != nil {
			e := &Error{Transform: "htmlmin", Path: f.Path, Err: err}
			var perr *parse.Error
			if errors.As(err, &perr) {
				e.Line, e.Column = perr.Line, perr.Column
			}
			return nil, e
		}
		f.Contents = out
		return f, nil
	})
}
