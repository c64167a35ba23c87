package transform

import (
	"context"
	"fmt"
	"path"
	"strings"

	"assetweaver/internal/asset"
	"assetweaver/internal/sourcemap"
)

// Source map output modes.
const (
	MapsFile   = "file"
	MapsInline = "inline"
)

// InitMaps attaches an identity source map to every file.
func InitMaps() Transform {
	return Each("sourcemaps.init", func(_ context.Context, f *asset.File) (*asset.File, error) {
		f.Map = sourcemap.Identity(f.Path, f.Contents)
		f.Map.File = path.Base(f.Path)
		return f, nil
	})
}

// WriteMaps renders the map of every file and appends a sourceMappingURL
// comment. In file mode a "<name>.map" file follows each output; in inline
// mode the map is embedded as a data URL. dest is the directory the files will
// be written to, relative to the project; sources are rooted from there.
func WriteMaps(mode, dest string) Transform {
	root := sourceRoot(dest)
	return Batch("sourcemaps.write", func(_ context.Context, files []*asset.File) ([]*asset.File, error) {
		out := make([]*asset.File, 0, 2*len(files))
		for _, f := range files {
			if f.Map == nil {
				out = append(out, f)
				continue
			}
			m := f.Map.Clone()
			m.File = path.Base(f.Path)
			m.SourceRoot = root
			css := f.Ext() == ".css"
			content, _, _ := sourcemap.Strip(f.Contents)

			switch mode {
			case MapsInline:
				u, err := sourcemap.DataURL(m)
				if err != nil {
					return nil, &Error{Transform: "sourcemaps.write", Path: f.Path, Err: err}
				}
				f.Contents = sourcemap.AppendComment(content, u, css)
				out = append(out, f)
			case MapsFile, "":
				b, err := m.MarshalJSON()
				if err != nil {
					return nil, &Error{Transform: "sourcemaps.write", Path: f.Path, Err: err}
				}
				f.Contents = sourcemap.AppendComment(content, m.File+".map", css)
				out = append(out, f, &asset.File{Path: f.Path + ".map", Base: f.Base, Contents: b})
			default:
				return nil, fmt.Errorf("unknown source map mode %q", mode)
			}
		}
		return out, nil
	})
}

// sourceRoot is the relative path from dest back to the project directory.
func sourceRoot(dest string) string {
	dest = path.Clean(strings.TrimPrefix(dest, "./"))
	if dest == "." || dest == "" {
		return ""
	}
	return strings.Repeat("../", strings.Count(dest, "/")+1)
}
