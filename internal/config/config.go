// Package config loads assetweaver.yaml and fills in the defaults of the
// standard front-end layout (src/ in, dist/ out).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"assetweaver/internal/logger"
)

// DefaultFileName is looked up in the project directory when no --config is given.
const DefaultFileName = "assetweaver.yaml"

// Selection is a glob include/exclude pair.
type Selection struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Markup configures lint:markup and build:markup.
type Markup struct {
	Lint               Selection `yaml:"lint"`
	Build              Selection `yaml:"build"`
	Watch              []string  `yaml:"watch"`
	Dest               string    `yaml:"dest"`
	CollapseWhitespace bool      `yaml:"collapse_whitespace"`
	// RequireDoctype makes lint:markup report documents not starting with a doctype.
	RequireDoctype bool `yaml:"require_doctype"`
}

// Compiler is an external command reading a stylesheet on stdin and writing
// CSS on stdout.
type Compiler struct {
	Command string `yaml:"command"`
	// Env is set verbatim in the command environment.
	Env map[string]string `yaml:"env"`
	// Inherit names host variables copied into the environment when present.
	Inherit []string `yaml:"inherit"`
}

// Styles configures lint:styles and build:styles[:prod].
type Styles struct {
	Lint      Selection `yaml:"lint"`
	Build     Selection `yaml:"build"`
	Watch     []string  `yaml:"watch"`
	Dest      string    `yaml:"dest"`
	RulesFile string    `yaml:"rules_file"`
	Compiler  Compiler  `yaml:"compiler"`
	MinName   string    `yaml:"min_name"`
}

// Scripts configures lint:scripts and build:scripts[:prod].
type Scripts struct {
	Lint       Selection `yaml:"lint"`
	Build      Selection `yaml:"build"`
	Watch      []string  `yaml:"watch"`
	Dest       string    `yaml:"dest"`
	ConcatName string    `yaml:"concat_name"`
	MinName    string    `yaml:"min_name"`
	// Target is an esbuild target (es2015, es2020, esnext) or the preset "env".
	Target string `yaml:"target"`
}

// SourceMaps selects how maps are written.
type SourceMaps struct {
	// Mode is "file" (write <output>.map next to the output) or "inline"
	// (data URI in the sourceMappingURL comment).
	Mode string `yaml:"mode"`
}

// Config is the whole assetweaver.yaml document.
type Config struct {
	Markup      Markup        `yaml:"markup"`
	Styles      Styles        `yaml:"styles"`
	Scripts     Scripts       `yaml:"scripts"`
	SourceMaps  SourceMaps    `yaml:"sourcemaps"`
	Log         logger.Config `yaml:"log"`
	Color       bool          `yaml:"color"`
	Concurrency int           `yaml:"concurrency"`

	// Dir is the project directory every relative path resolves under. It is
	// set by Load, not read from the file.
	Dir string `yaml:"-"`
}

// Default returns the configuration of the standard layout.
func Default() Config {
	return Config{
		Markup: Markup{
			Lint:               Selection{Include: []string{"src/markup/*.html", "src/markup/**/*.html"}},
			Build:              Selection{Include: []string{"src/markup/*.html", "src/markup/**/*.html"}},
			Watch:              []string{"src/**/*.html"},
			Dest:               ".",
			CollapseWhitespace: true,
		},
		Styles: Styles{
			Lint:      Selection{Include: []string{"src/**/*.{sass,scss}"}},
			Build:     Selection{Include: []string{"src/styles/main.scss"}},
			Watch:     []string{"src/**/*.scss"},
			Dest:      "dist/styles",
			RulesFile: ".sass-lint.yml",
			Compiler: Compiler{
				Command: "sass --stdin --embed-source-map --embed-sources --no-error-css --load-path={dir}",
				Inherit: []string{"PATH", "HOME"},
			},
			MinName: "main.min.css",
		},
		Scripts: Scripts{
			Lint:       Selection{Include: []string{"**/*.js"}, Exclude: []string{"node_modules/**", "dist/**"}},
			Build:      Selection{Include: []string{"src/scripts/*.js"}},
			Watch:      []string{"src/**/*.js"},
			Dest:       "dist/scripts",
			ConcatName: "main.concat.js",
			MinName:    "main.min.js",
			Target:     "env",
		},
		SourceMaps: SourceMaps{Mode: "file"},
		Log:        logger.DefaultConfig(),
		Color:      true,
	}
}

// Load reads the config for the project in dir.
//
// An explicit path must exist. Without one, dir/assetweaver.yaml is used when
// present and the defaults otherwise.
func Load(dir, path string) (Config, error) {
	cfg := Default()
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return cfg, fmt.Errorf("resolve project dir: %w", err)
	}
	cfg.Dir = absDir

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}
	resolved, err := ResolveUnder(absDir, path)
	if err != nil {
		return cfg, err
	}

	b, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decode(bytes.NewReader(b), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(resolved), err)
	}
	cfg.Dir = absDir
	return cfg, cfg.Validate()
}

// Parse decodes a config document over the defaults.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.SourceMaps.Mode {
	case "file", "inline":
	default:
		return fmt.Errorf("sourcemaps.mode must be file or inline, got %q", c.SourceMaps.Mode)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	switch c.Log.Output {
	case "", "stdout", "file", "both":
	default:
		return fmt.Errorf("log.output must be stdout, file or both, got %q", c.Log.Output)
	}
	if strings.TrimSpace(c.Styles.Compiler.Command) == "" {
		return errors.New("styles.compiler.command is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0, got %d", c.Concurrency)
	}
	for key, v := range map[string]string{
		"markup.dest":         c.Markup.Dest,
		"styles.dest":         c.Styles.Dest,
		"scripts.dest":        c.Scripts.Dest,
		"styles.min_name":     c.Styles.MinName,
		"scripts.concat_name": c.Scripts.ConcatName,
		"scripts.min_name":    c.Scripts.MinName,
	} {
		if v == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if _, err := ResolveUnder(".", c.Markup.Dest); err != nil {
		return fmt.Errorf("markup.dest: %w", err)
	}
	if _, err := ResolveUnder(".", c.Styles.Dest); err != nil {
		return fmt.Errorf("styles.dest: %w", err)
	}
	if _, err := ResolveUnder(".", c.Scripts.Dest); err != nil {
		return fmt.Errorf("scripts.dest: %w", err)
	}
	return nil
}

// Path resolves a project-relative path against Dir.
func (c Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Dir, filepath.FromSlash(rel))
}

// ResolveUnder resolves p relative to dir and rejects results outside dir.
// Absolute paths are returned cleaned.
func ResolveUnder(dir, p string) (string, error) {
	if p == "" {
		return "", errors.New("path is empty")
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	joined := filepath.Join(dir, filepath.FromSlash(p))
	rel, err := filepath.Rel(dir, joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project directory", p)
	}
	return joined, nil
}
