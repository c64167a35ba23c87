// Package asset models the files flowing through a pipeline: how they are
// selected from the project, carried between transforms and written out.
package asset

import (
	"path"
	"strings"

	"assetweaver/internal/lint"
	"assetweaver/internal/sourcemap"
)

// File is one asset in flight.
//
// Path and Base are slash-separated and relative to the project directory.
// Base is the glob base of the pattern that selected the file; destinations
// keep the part of Path below it.
type File struct {
	Path     string
	Base     string
	Contents []byte

	// Map is the source map from Contents back to the original sources. It is
	// nil until a source-map init step runs.
	Map *sourcemap.Map

	// Issues holds the findings of the last lint step.
	Issues []lint.Issue
}

// Rel returns Path relative to Base.
func (f *File) Rel() string {
	if f.Base == "" || f.Base == "." {
		return f.Path
	}
	if rel, ok := strings.CutPrefix(f.Path, f.Base+"/"); ok {
		return rel
	}
	return path.Base(f.Path)
}

// Ext returns the extension of Path, including the dot.
func (f *File) Ext() string { return path.Ext(f.Path) }

// SetBaseName replaces the last element of Path, keeping its directory.
// The map's file name follows.
func (f *File) SetBaseName(name string) {
	f.Path = path.Join(path.Dir(f.Path), name)
	if f.Map != nil {
		f.Map.File = name
	}
}

// SetExt replaces the extension of Path.
func (f *File) SetExt(ext string) {
	f.SetBaseName(strings.TrimSuffix(path.Base(f.Path), path.Ext(f.Path)) + ext)
}

// Clone returns a deep copy of f.
func (f *File) Clone() *File {
	cp := &File{
		Path:     f.Path,
		Base:     f.Base,
		Contents: append([]byte(nil), f.Contents...),
		Map:      f.Map.Clone(),
	}
	if len(f.Issues) > 0 {
		cp.Issues = append([]lint.Issue(nil), f.Issues...)
	}
	return cp
}
