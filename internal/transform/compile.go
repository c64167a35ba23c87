package transform

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"assetweaver/internal/asset"
	"assetweaver/internal/sourcemap"
)

// Compile runs an external compiler over each file.
//
// The file contents are written to the command's stdin and the compiled output
// is read from stdout. An inline source map at the end of the output is
// stripped and composed onto the file's map. A non-zero exit drops the file
// with an Error carrying the compiler's stderr.
//
// Command may reference {file} and {dir}, replaced by the shell-quoted
// project-relative path of the input and its directory.
type Compile struct {
	// Label names the transform in errors, e.g. "sass".
	Label   string
	Command string
	// Dir is the project directory; the command runs there.
	Dir     string
	Env     map[string]string
	Inherit []string
	// Ext replaces the extension of every compiled file when set.
	Ext string
}

func (c *Compile) Name() string {
	if c.Label == "" {
		return "compile"
	}
	return c.Label
}

func (c *Compile) Apply(ctx context.Context, files []*asset.File) ([]*asset.File, error) {
	return Each(c.Name(), c.compile).Apply(ctx, files)
}

func (c *Compile) compile(ctx context.Context, f *asset.File) (*asset.File, error) {
	command := strings.NewReplacer(
		"{file}", shellQuote(f.Path),
		"{dir}", shellQuote(path.Dir(f.Path)),
	).Replace(c.Command)

	res, err := execCommand(ctx, c.Dir, command, c.Env, c.Inherit, f.Contents)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		e := &Error{Transform: c.Name(), Path: f.Path, Err: commandFailure(res)}
		e.Line, e.Column = compilerPosition(res.Stderr)
		return nil, e
	}

	out, m, err := sourcemap.ExtractInline(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("read compiler source map: %w", err)
	}
	if m != nil {
		out = append(out, '\n')
		for i, s := range m.Sources {
			m.Sources[i] = c.normalizeSource(s, f.Path)
		}
		if err := composeParsed(f, m, func(s string) bool { return s == f.Path }); err != nil {
			return nil, fmt.Errorf("compose source map: %w", err)
		}
	}

	f.Contents = out
	if c.Ext != "" {
		f.SetExt(c.Ext)
	}
	return f, nil
}

// normalizeSource turns a compiler's source URL into a project-relative path.
// The compiled input itself may appear as stdin, a data URL or a file URL.
func (c *Compile) normalizeSource(src, input string) string {
	switch {
	case src == "", src == "-", src == "stdin", strings.HasPrefix(src, "data:"):
		return input
	}
	p := strings.TrimPrefix(src, "file://")
	if filepath.IsAbs(p) {
		if abs, err := filepath.Abs(c.Dir); err == nil {
			if rel, err := filepath.Rel(abs, p); err == nil && !strings.HasPrefix(rel, "..") {
				p = rel
			}
		}
	}
	p = path.Clean(filepath.ToSlash(p))
	if p == path.Base(input) {
		return input
	}
	return p
}

func commandFailure(res *execResult) error {
	msg := strings.TrimSpace(string(res.Stderr))
	if msg == "" {
		return fmt.Errorf("exit status %d", res.ExitCode)
	}
	return fmt.Errorf("exit status %d: %s", res.ExitCode, msg)
}

var (
	sassTracePosition = regexp.MustCompile(`(?m)^\s*-?\s*\S*\s*(\d+):(\d+)\s+root stylesheet`)
	sassLinePosition  = regexp.MustCompile(`on line (\d+)(?: column (\d+))?`)
)

// compilerPosition extracts the 1-based position of the first reported error.
func compilerPosition(stderr []byte) (int, int) {
	if m := sassTracePosition.FindSubmatch(stderr); m != nil {
		return atoi(m[1]), atoi(m[2])
	}
	if m := sassLinePosition.FindSubmatch(stderr); m != nil {
		col := 1
		if len(m[2]) > 0 {
			col = atoi(m[2])
		}
		return atoi(m[1]), col
	}
	return 0, 0
}

func atoi(b []byte) int {
	n, _ := strconv.Atoi(string(bytes.TrimSpace(b)))
	return n
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
