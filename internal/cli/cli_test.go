package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	icl "assetweaver/internal/cli"
)

// passThroughConfig swaps sass for a shell command that echoes its input and
// fails like sass on a BROKEN marker.
const passThroughConfig = `styles:
  compiler:
    command: |-
      input=$(cat); case "$input" in *BROKEN*) echo 'Error: expected "}".' >&2; echo '  - 2:1  root stylesheet' >&2; exit 65;; esac; printf '%s\n' "$input"
    inherit: [PATH]
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	all := map[string]string{
		"assetweaver.yaml":           passThroughConfig,
		"src/markup/index.html":      "<!DOCTYPE html>\n<html>\n  <body>\n    <p>hi</p>\n  </body>\n</html>\n",
		"src/styles/main.scss":       "a {\n  color: red;\n}\n",
		"src/scripts/a.js":           "const a = 1;\n",
		"src/scripts/b.js":           "console.log(a);\n",
		"src/markup/pages/more.html": "<p>more</p>\n",
	}
	for k, v := range files {
		all[k] = v
	}
	for rel, content := range all {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return dir
}

func run(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--dir", dir, "--no-color"}, args...)
	code := icl.Run(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func exists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	return err == nil
}

func TestRun_DefaultBuildSucceeds(t *testing.T) {
	dir := writeProject(t, nil)
	code, stdout, stderr := run(t, dir)
	if code != icl.ExitSuccess {
		t.Fatalf("expected exit 0, got %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	for _, rel := range []string{
		"index.html",
		"pages/more.html",
		"dist/styles/main.css",
		"dist/styles/main.css.map",
		"dist/scripts/main.concat.js",
		"dist/scripts/main.concat.js.map",
	} {
		if !exists(dir, rel) {
			t.Fatalf("expected %s to be written", rel)
		}
	}
	for _, want := range []string{"Starting 'default'...", "Finished 'build:scripts' after"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected log line %q in:\n%s", want, stdout)
		}
	}
}

func TestRun_RepeatedBuildsAreByteIdentical(t *testing.T) {
	dir := writeProject(t, nil)
	read := func() map[string]string {
		out := map[string]string{}
		for _, rel := range []string{"index.html", "dist/styles/main.css", "dist/styles/main.css.map", "dist/scripts/main.concat.js", "dist/scripts/main.concat.js.map"} {
			b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
			if err != nil {
				t.Fatalf("read %s: %v", rel, err)
			}
			out[rel] = string(b)
		}
		return out
	}

	if code, _, stderr := run(t, dir); code != 0 {
		t.Fatalf("first build failed: %d %s", code, stderr)
	}
	first := read()
	if code, _, stderr := run(t, dir); code != 0 {
		t.Fatalf("second build failed: %d %s", code, stderr)
	}
	second := read()
	for k, v := range first {
		if second[k] != v {
			t.Fatalf("%s changed between identical builds", k)
		}
	}
}

func TestRun_LintUnclosedTagExitsNonZero(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"src/markup/index.html": "<!DOCTYPE html>\n<html>\n<body>\n  <div>\n</body>\n</html>\n",
	})
	code, stdout, _ := run(t, dir, "lint")
	if code != icl.ExitTaskFailure {
		t.Fatalf("expected exit %d, got %d\n%s", icl.ExitTaskFailure, code, stdout)
	}
	want := "[htmllint] src/markup/index.html [4, 3]: (tag-close) <div> is never closed"
	if strings.Count(stdout, "[htmllint]") != 1 || !strings.Contains(stdout, want) {
		t.Fatalf("expected exactly one issue line %q in:\n%s", want, stdout)
	}
}

func TestRun_StyleSyntaxErrorFailsBuild(t *testing.T) {
	dir := writeProject(t, map[string]string{"src/styles/main.scss": "a {\n  BROKEN\n"})
	code, stdout, _ := run(t, dir, "build:styles")
	if code != icl.ExitTaskFailure {
		t.Fatalf("expected exit %d, got %d\n%s", icl.ExitTaskFailure, code, stdout)
	}
	if exists(dir, "dist/styles/main.css") {
		t.Fatalf("main.css must not be written on compile failure")
	}
	if !strings.Contains(stdout, "expected") {
		t.Fatalf("expected compiler error to be logged:\n%s", stdout)
	}
}

func TestRun_StopsAtFirstFailedTask(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"src/markup/index.html": "<div>\n",
	})
	code, _, _ := run(t, dir, "lint:markup", "build:markup")
	if code != icl.ExitTaskFailure {
		t.Fatalf("expected exit %d, got %d", icl.ExitTaskFailure, code)
	}
	if exists(dir, "index.html") {
		t.Fatalf("build:markup must not run after a failed task")
	}
}

func TestRun_UnknownTaskIsInvalidInvocation(t *testing.T) {
	dir := writeProject(t, nil)
	code, _, stderr := run(t, dir, "nope")
	if code != icl.ExitInvalidInvocation {
		t.Fatalf("expected exit %d, got %d", icl.ExitInvalidInvocation, code)
	}
	if !strings.Contains(stderr, "Task never defined: nope") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
	if exists(dir, "index.html") {
		t.Fatalf("no work may start for an unknown task")
	}
}

func TestRun_InvalidFlagsAndConfig(t *testing.T) {
	dir := writeProject(t, nil)

	if code, _, _ := run(t, dir, "--bogus"); code != icl.ExitInvalidInvocation {
		t.Fatalf("unknown flag: expected %d, got %d", icl.ExitInvalidInvocation, code)
	}
	if code, _, _ := run(t, dir, "--debug", "--quiet"); code != icl.ExitInvalidInvocation {
		t.Fatalf("debug+quiet: expected %d, got %d", icl.ExitInvalidInvocation, code)
	}
	if code, _, _ := run(t, dir, "--config", "missing.yaml"); code != icl.ExitConfigError {
		t.Fatalf("missing config: expected %d, got %d", icl.ExitConfigError, code)
	}

	bad := writeProject(t, map[string]string{"assetweaver.yaml": "unknown_key: 1\n"})
	if code, _, _ := run(t, bad); code != icl.ExitConfigError {
		t.Fatalf("unknown key: expected %d, got %d", icl.ExitConfigError, code)
	}
}

func TestRun_TraceIsWritten(t *testing.T) {
	dir := writeProject(t, nil)
	code, _, stderr := run(t, dir, "--trace", "out/trace.json", "build:markup")
	if code != icl.ExitSuccess {
		t.Fatalf("expected success, got %d: %s", code, stderr)
	}
	b, err := os.ReadFile(filepath.Join(dir, "out", "trace.json"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	var tr struct {
		GraphHash string `json:"graphHash"`
		Task      string `json:"task"`
		Status    string `json:"status"`
		Events    []struct {
			Kind   string `json:"kind"`
			TaskID string `json:"taskId"`
		} `json:"events"`
	}
	if err := json.Unmarshal(b, &tr); err != nil {
		t.Fatalf("decode trace: %v", err)
	}
	if tr.GraphHash == "" || tr.Task != "build:markup" || tr.Status != "success" {
		t.Fatalf("unexpected trace header: %+v", tr)
	}
	if len(tr.Events) != 1 || tr.Events[0].Kind != "TaskExecuted" || tr.Events[0].TaskID != "build:markup" {
		t.Fatalf("unexpected events: %+v", tr.Events)
	}
}

func TestRun_TasksListing(t *testing.T) {
	dir := writeProject(t, nil)
	code, stdout, stderr := run(t, dir, "tasks")
	if code != icl.ExitSuccess {
		t.Fatalf("expected success, got %d: %s", code, stderr)
	}
	for _, want := range []string{"lint:markup", "build:scripts:prod", "[series: build:markup, build:styles, build:scripts]", "[parallel: watch:markup, watch:styles, watch:scripts]", "htmlmin"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in listing:\n%s", want, stdout)
		}
	}
	for _, entry := range []string{"* default ", "* production ", "* watch ", "* uglify "} {
		if !strings.Contains(stdout, entry) {
			t.Fatalf("expected entry point %q starred in:\n%s", entry, stdout)
		}
	}
	for _, composed := range []string{"* build:markup", "* lint:styles", "* watch:scripts"} {
		if strings.Contains(stdout, composed) {
			t.Fatalf("composed task %q must not be starred:\n%s", composed, stdout)
		}
	}
}
