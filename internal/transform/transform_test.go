package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/require"

	"assetweaver/internal/asset"
	"assetweaver/internal/dag"
	"assetweaver/internal/lint"
	"assetweaver/internal/report"
	"assetweaver/internal/sourcemap"
)

func file(p, content string) *asset.File {
	return &asset.File{Path: p, Base: "src", Contents: []byte(content)}
}

func names(files []*asset.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestEach_DropsFailedFilesAndAggregatesInOrder(t *testing.T) {
	ctx := WithConcurrency(context.Background(), 2)
	step := Each("upper", func(_ context.Context, f *asset.File) (*asset.File, error) {
		if strings.Contains(f.Path, "bad") {
			return nil, errors.New("boom")
		}
		f.Contents = bytes.ToUpper(f.Contents)
		return f, nil
	})

	in := []*asset.File{file("src/a.js", "a"), file("src/bad1.js", "x"), file("src/c.js", "c"), file("src/bad2.js", "y")}
	out, err := step.Apply(ctx, in)
	require.Error(t, err)
	require.Equal(t, []string{"src/a.js", "src/c.js"}, names(out))
	require.Equal(t, "A", string(out[0].Contents))

	msg := err.Error()
	require.Less(t, strings.Index(msg, "src/bad1.js"), strings.Index(msg, "src/bad2.js"))

	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, "upper", te.Transform)
	require.Equal(t, "src/bad1.js", te.Path)
}

func TestEach_FailureDoesNotCancelSiblings(t *testing.T) {
	failed := make(chan struct{})
	step := Each("slow", func(ctx context.Context, f *asset.File) (*asset.File, error) {
		if f.Path == "src/bad.js" {
			close(failed)
			return nil, errors.New("boom")
		}
		<-failed
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return f, nil
	})

	in := []*asset.File{file("src/bad.js", "x"), file("src/good.js", "y")}
	out, err := step.Apply(WithConcurrency(context.Background(), 2), in)
	require.Error(t, err)
	require.Equal(t, []string{"src/good.js"}, names(out))
	require.NotErrorIs(t, err, context.Canceled)
}

func TestEach_RespectsConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	step := Each("count", func(_ context.Context, f *asset.File) (*asset.File, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer running.Add(-1)
		return f, nil
	})
	in := make([]*asset.File, 16)
	for i := range in {
		in[i] = file(fmt.Sprintf("src/%02d.js", i), "x")
	}
	out, err := step.Apply(WithConcurrency(context.Background(), 1), in)
	require.NoError(t, err)
	require.Len(t, out, 16)
	require.Equal(t, int32(1), peak.Load())
}

func TestApply_DroppedFilesSkipLaterSteps(t *testing.T) {
	var seen []string
	failB := Each("fail", func(_ context.Context, f *asset.File) (*asset.File, error) {
		if f.Path == "src/b.js" {
			return nil, errors.New("nope")
		}
		return f, nil
	})
	record := Batch("record", func(_ context.Context, files []*asset.File) ([]*asset.File, error) {
		seen = names(files)
		return files, nil
	})

	out, err := Apply(context.Background(), []*asset.File{file("src/a.js", "a"), file("src/b.js", "b")}, failB, record)
	require.Error(t, err)
	require.Equal(t, []string{"src/a.js"}, seen)
	require.Equal(t, []string{"src/a.js"}, names(out))
}

func TestConcat_JoinsAndOffsetsMaps(t *testing.T) {
	ctx := context.Background()
	in := []*asset.File{
		file("src/scripts/a.js", "var a = 1;\nvar b = 2;"),
		file("src/scripts/b.js", "var c = 3;\n"),
	}
	out, err := Apply(ctx, in, InitMaps(), Concat("main.concat.js"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	require.Equal(t, "src/scripts/main.concat.js", got.Path)
	require.Equal(t, "var a = 1;\nvar b = 2;\nvar c = 3;\n", string(got.Contents))

	src, line, _, ok := got.Map.Original(2, 4)
	require.True(t, ok)
	require.Equal(t, "src/scripts/b.js", src)
	require.Equal(t, 0, line)

	src, line, _, ok = got.Map.Original(1, 0)
	require.True(t, ok)
	require.Equal(t, "src/scripts/a.js", src)
	require.Equal(t, 1, line)
}

func TestConcat_NoInputNoOutput(t *testing.T) {
	out, err := Concat("main.concat.js").Apply(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRename_UpdatesMapFile(t *testing.T) {
	out, err := Apply(context.Background(), []*asset.File{file("src/styles/main.css", "a{}")}, InitMaps(), Rename("main.min.css"))
	require.NoError(t, err)
	require.Equal(t, "src/styles/main.min.css", out[0].Path)
	require.Equal(t, "main.min.css", out[0].Map.File)
}

func TestWriteMaps_FileMode(t *testing.T) {
	f := &asset.File{Path: "src/scripts/main.min.js", Base: "src/scripts", Contents: []byte("var a=1;\n")}
	out, err := Apply(context.Background(), []*asset.File{f}, InitMaps(), WriteMaps(MapsFile, "dist/scripts"))
	require.NoError(t, err)
	require.Equal(t, []string{"src/scripts/main.min.js", "src/scripts/main.min.js.map"}, names(out))
	require.Equal(t, "var a=1;\n//# sourceMappingURL=main.min.js.map\n", string(out[0].Contents))
	require.Equal(t, "main.min.js.map", out[1].Rel())

	m, err := sourcemap.Parse(out[1].Contents)
	require.NoError(t, err)
	require.Equal(t, "../../", m.SourceRoot)
	require.Equal(t, "main.min.js", m.File)
	require.Equal(t, []string{"src/scripts/main.min.js"}, m.Sources)
}

func TestWriteMaps_InlineCSSAndUnmappedFiles(t *testing.T) {
	mapped := &asset.File{Path: "src/styles/main.css", Base: "src/styles", Contents: []byte("a{}\n")}
	plain := &asset.File{Path: "src/markup/index.html", Base: "src/markup", Contents: []byte("<p></p>")}

	out, err := InitMaps().Apply(context.Background(), []*asset.File{mapped})
	require.NoError(t, err)
	out, err = WriteMaps(MapsInline, "dist/styles").Apply(context.Background(), append(out, plain))
	require.NoError(t, err)
	require.Len(t, out, 2)

	stripped, m, err := sourcemap.ExtractInline(out[0].Contents)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "a{}", string(stripped))
	require.Contains(t, string(out[0].Contents), "/*# sourceMappingURL=data:application/json")
	require.Equal(t, "<p></p>", string(out[1].Contents))
}

func TestSourceRoot(t *testing.T) {
	require.Equal(t, "", sourceRoot("."))
	require.Equal(t, "../", sourceRoot("dist"))
	require.Equal(t, "../../", sourceRoot("./dist/styles/"))
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("")
	require.NoError(t, err)
	require.Equal(t, api.ES2015, got)

	got, err = ParseTarget("ES2020")
	require.NoError(t, err)
	require.Equal(t, api.ES2020, got)

	_, err = ParseTarget("es3")
	require.Error(t, err)
}

func TestTranspile_LowersSyntaxAndComposesMap(t *testing.T) {
	src := "const p = (a, b) => a ** b;\nconsole.log(p(2, 3));\n"
	out, err := Apply(context.Background(), []*asset.File{file("src/scripts/main.js", src)}, InitMaps(), Transpile(api.ES2015))
	require.NoError(t, err)

	code := string(out[0].Contents)
	require.Contains(t, code, "Math.pow(a, b)")

	lines := strings.Split(code, "\n")
	for i, l := range lines {
		if col := strings.Index(l, "console.log"); col >= 0 {
			source, line, _, ok := out[0].Map.Original(i, col)
			require.True(t, ok)
			require.Equal(t, "src/scripts/main.js", source)
			require.Equal(t, 1, line)
			return
		}
	}
	t.Fatalf("console.log not found in %q", code)
}

func TestTranspile_SyntaxErrorIsPositioned(t *testing.T) {
	out, err := Transpile(api.ES2015).Apply(context.Background(), []*asset.File{file("src/scripts/bad.js", "let x = 1;\nconst = ;\n")})
	require.Empty(t, out)

	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, "transpile", te.Transform)
	require.Equal(t, "src/scripts/bad.js", te.Path)
	require.Equal(t, 2, te.Line)
	require.Greater(t, te.Column, 0)
}

func TestMinifyScriptsAndStyles(t *testing.T) {
	ctx := context.Background()
	js := "function add(first, second) {\n  return first + second;\n}\nconsole.log(add(1, 2));\n"
	out, err := MinifyScripts(api.ES2015).Apply(ctx, []*asset.File{file("src/scripts/main.js", js)})
	require.NoError(t, err)
	require.Less(t, len(out[0].Contents), len(js))
	require.NotContains(t, string(out[0].Contents), "  return")

	out, err = MinifyStyles().Apply(ctx, []*asset.File{file("src/styles/main.css", "a {\n  color: red;\n}\n")})
	require.NoError(t, err)
	require.Contains(t, string(out[0].Contents), "a{color:red}")
}

func TestMinifyMarkup_CollapsesWhitespaceAndIsStable(t *testing.T) {
	src := "<!DOCTYPE html>\n<html>\n  <body>\n    <p>  hi   there </p>\n  </body>\n</html>\n"
	step := MinifyMarkup(true)

	out, err := step.Apply(context.Background(), []*asset.File{file("src/markup/index.html", src)})
	require.NoError(t, err)
	first := string(out[0].Contents)
	require.Contains(t, first, "hi there")
	require.Contains(t, first, "</body>")
	require.NotContains(t, first, "\n    ")

	again, err := step.Apply(context.Background(), []*asset.File{file("src/markup/index.html", src)})
	require.NoError(t, err)
	require.Equal(t, first, string(again[0].Contents))
}

func TestCompile_RunsCommandAndRenames(t *testing.T) {
	c := &Compile{Label: "sass", Command: "tr a-z A-Z", Dir: t.TempDir(), Inherit: []string{"PATH"}, Ext: ".css"}
	out, err := c.Apply(context.Background(), []*asset.File{file("src/styles/main.scss", "a { b: c }\n")})
	require.NoError(t, err)
	require.Equal(t, "src/styles/main.css", out[0].Path)
	require.Equal(t, "A { B: C }\n", string(out[0].Contents))
}

func TestCompile_FailureDropsFileWithPosition(t *testing.T) {
	c := &Compile{
		Label:   "sass",
		Command: `echo 'Error: expected "}".' >&2; echo '  - 3:5  root stylesheet' >&2; exit 65`,
		Dir:     t.TempDir(),
		Ext:     ".css",
	}
	out, err := c.Apply(context.Background(), []*asset.File{file("src/styles/main.scss", "a {")})
	require.Empty(t, out)

	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, "sass", te.Transform)
	require.Equal(t, "src/styles/main.scss", te.Path)
	require.Equal(t, 3, te.Line)
	require.Equal(t, 5, te.Column)
	require.Contains(t, te.Error(), `expected "}"`)
	require.Contains(t, te.Error(), "exit status 65")
}

func TestCompile_EnvironmentIsAllowlisted(t *testing.T) {
	t.Setenv("ASSETWEAVER_SECRET", "leak")
	c := &Compile{
		Command: `printf '%s|%s' "$ASSETWEAVER_SECRET" "$GREETING"`,
		Dir:     t.TempDir(),
		Env:     map[string]string{"GREETING": "hi"},
	}
	out, err := c.Apply(context.Background(), []*asset.File{file("src/a.scss", "")})
	require.NoError(t, err)
	require.Equal(t, "|hi", string(out[0].Contents))
}

func TestCompile_ComposesInlineMap(t *testing.T) {
	// Line 0 of the output comes from the input, line 1 from a partial.
	compiled := &sourcemap.Map{
		Sources: []string{"stdin", "src/styles/_vars.scss"},
		Lines: [][]sourcemap.Segment{
			{{GenCol: 0, Source: 0, Line: 1, Col: 0, Name: -1}},
			{{GenCol: 0, Source: 1, Line: 4, Col: 2, Name: -1}},
		},
	}
	b, err := compiled.MarshalJSON()
	require.NoError(t, err)
	url := "data:application/json;base64," + base64.StdEncoding.EncodeToString(b)

	c := &Compile{
		Label:   "sass",
		Command: fmt.Sprintf("printf '%%s\\n' 'b{c:d}' 'e{f:g}' '/*# sourceMappingURL=%s */'", url),
		Dir:     t.TempDir(),
		Ext:     ".css",
	}
	src := "@use 'vars';\nb { c: d }\n"
	out, err := Apply(context.Background(), []*asset.File{file("src/styles/main.scss", src)}, InitMaps(), c)
	require.NoError(t, err)
	require.Equal(t, "b{c:d}\ne{f:g}\n", string(out[0].Contents))

	m := out[0].Map
	require.Equal(t, "main.css", m.File)
	source, line, _, ok := m.Original(0, 0)
	require.True(t, ok)
	require.Equal(t, "src/styles/main.scss", source)
	require.Equal(t, 1, line)

	source, line, col, ok := m.Original(1, 0)
	require.True(t, ok)
	require.Equal(t, "src/styles/_vars.scss", source)
	require.Equal(t, 4, line)
	require.Equal(t, 2, col)
}

func TestLintReportFail(t *testing.T) {
	var buf bytes.Buffer
	st := &dag.Status{}
	ctx := dag.WithStatus(context.Background(), st)

	bad := file("src/markup/index.html", "<div>\n<p>x</p>\n")
	good := file("src/markup/ok.html", "<p>ok</p>\n")
	linter := lint.MarkupLinter{}

	out, err := Apply(ctx, []*asset.File{bad, good}, Lint(linter), Report(report.New(&buf, false, nil), linter.Name()), FailOnIssue())
	require.Error(t, err)
	require.Equal(t, []string{"src/markup/ok.html"}, names(out))
	require.True(t, st.Failed())
	require.Contains(t, buf.String(), "[htmllint] src/markup/index.html [1, 1]: (tag-close)")

	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, "failOnError", te.Transform)
	require.Equal(t, 1, te.Line)
}

func TestFailOnIssue_WarningsPass(t *testing.T) {
	f := file("src/styles/a.scss", "a { color: red !important; }\n")
	f.Issues = []lint.Issue{{Path: f.Path, Line: 1, Column: 12, Code: "no-important", Severity: lint.SeverityWarning}}
	out, err := FailOnIssue().Apply(context.Background(), []*asset.File{f})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestReport_NoIssuesLeavesStatus(t *testing.T) {
	var buf bytes.Buffer
	st := &dag.Status{}
	ctx := dag.WithStatus(context.Background(), st)
	_, err := Apply(ctx, []*asset.File{file("src/a.js", "var a = 1;\n")}, Lint(lint.ScriptLinter{}), Report(report.New(&buf, false, nil), "eslint"))
	require.NoError(t, err)
	require.False(t, st.Failed())
	require.Empty(t, buf.String())
}
