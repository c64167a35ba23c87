package transform

import (
	"bytes"
	"context"
	"path"

	"assetweaver/internal/asset"
	"assetweaver/internal/sourcemap"
)

// Concat joins every surviving file, in order, into one file called name
// placed in the first file's directory. Contents are separated by a newline.
// Source maps are merged with each input's line offset. No input, no output.
func Concat(name string) Transform {
	return Batch("concat", func(_ context.Context, files []*asset.File) ([]*asset.File, error) {
		if len(files) == 0 {
			return nil, nil
		}
		first := files[0]
		out := &asset.File{
			Path: path.Join(path.Dir(first.Path), name),
			Base: first.Base,
		}

		var buf bytes.Buffer
		parts := make([]sourcemap.Part, 0, len(files))
		mapped := false
		line := 0
		for i, f := range files {
			if i > 0 {
				buf.WriteByte('\n')
			}
			buf.Write(f.Contents)
			n := bytes.Count(f.Contents, []byte("\n")) + 1
			parts = append(parts, sourcemap.Part{Map: f.Map, Line: line, Lines: n})
			line += n
			if f.Map != nil {
				mapped = true
			}
		}
		out.Contents = buf.Bytes()
		if mapped {
			out.Map = sourcemap.Concat(name, parts)
		}
		return []*asset.File{out}, nil
	})
}

// Rename gives every file the base name name.
func Rename(name string) Transform {
	return Each("rename", func(_ context.Context, f *asset.File) (*asset.File, error) {
		f.SetBaseName(name)
		return f, nil
	})
}
