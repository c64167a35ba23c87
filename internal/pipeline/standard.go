package pipeline

import (
	"context"
	"errors"
	"path"

	"go.uber.org/zap"

	"assetweaver/internal/asset"
	"assetweaver/internal/config"
	"assetweaver/internal/dag"
	"assetweaver/internal/lint"
	"assetweaver/internal/report"
	"assetweaver/internal/transform"
	"assetweaver/internal/watch"
)

// Task names of the standard set.
const (
	TaskLintMarkup   = "lint:markup"
	TaskBuildMarkup  = "build:markup"
	TaskLintStyles   = "lint:styles"
	TaskBuildStyles  = "build:styles"
	TaskStylesProd   = "build:styles:prod"
	TaskLintScripts  = "lint:scripts"
	TaskBuildScripts = "build:scripts"
	TaskScriptsProd  = "build:scripts:prod"

	TaskSass   = "sass"
	TaskCSSMin = "cssmin"
	TaskConcat = "concat"
	TaskUglify = "uglify"

	TaskProdMarkup  = "production:markup"
	TaskProdStyles  = "production:styles"
	TaskProdScripts = "production:scripts"

	TaskWatchMarkup  = "watch:markup"
	TaskWatchStyles  = "watch:styles"
	TaskWatchScripts = "watch:scripts"

	TaskLint       = "lint"
	TaskDefault    = "default"
	TaskProduction = "production"
	TaskWatch      = "watch"
)

// Env carries what the standard tasks need besides the config.
type Env struct {
	Logger   *zap.Logger
	Reporter *report.Reporter
}

// Register declares the standard task set on reg.
//
// The style rules file is read and the transpile target checked here, so a
// broken setup fails before any task runs.
func Register(reg *dag.Registry, cfg config.Config, env Env) error {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rep := env.Reporter
	if rep == nil {
		rep = report.New(nil, cfg.Color, logger)
	}

	rules, err := lint.LoadStyleRules(cfg.Path(cfg.Styles.RulesFile))
	if err != nil {
		return err
	}
	target, err := transform.ParseTarget(cfg.Scripts.Target)
	if err != nil {
		return err
	}

	task := func(name string, sel config.Selection, dest string, steps ...transform.Transform) dag.Handle {
		t := &AssetTask{
			Name:        name,
			Dir:         cfg.Dir,
			Selection:   asset.Selection{Include: sel.Include, Exclude: sel.Exclude},
			Steps:       steps,
			Dest:        dest,
			Concurrency: cfg.Concurrency,
			Logger:      logger,
		}
		return reg.Register(name, t.Work())
	}
	compile := &transform.Compile{
		Label:   "sass",
		Command: cfg.Styles.Compiler.Command,
		Dir:     cfg.Dir,
		Env:     cfg.Styles.Compiler.Env,
		Inherit: cfg.Styles.Compiler.Inherit,
		Ext:     ".css",
	}
	maps := cfg.SourceMaps.Mode

	markupLinter := lint.MarkupLinter{RequireDoctype: cfg.Markup.RequireDoctype}
	lintMarkup := reg.Describe(task(TaskLintMarkup, cfg.Markup.Lint, "",
		transform.Lint(markupLinter),
		transform.Report(rep, markupLinter.Name()),
	), "Lint markup and report every issue")
	buildMarkup := reg.Describe(task(TaskBuildMarkup, cfg.Markup.Build, cfg.Markup.Dest,
		transform.MinifyMarkup(cfg.Markup.CollapseWhitespace),
	), "Minify markup into "+cfg.Markup.Dest)

	styleLinter := lint.StyleLinter{Rules: rules}
	lintStyles := reg.Describe(task(TaskLintStyles, cfg.Styles.Lint, "",
		transform.Lint(styleLinter),
		transform.Report(rep, styleLinter.Name()),
		transform.FailOnIssue(),
	), "Lint styles, failing on errors")
	buildStyles := reg.Describe(task(TaskBuildStyles, cfg.Styles.Build, cfg.Styles.Dest,
		transform.InitMaps(),
		compile,
		transform.WriteMaps(maps, cfg.Styles.Dest),
	), "Compile styles with source maps")
	stylesProd := reg.Describe(task(TaskStylesProd, cfg.Styles.Build, cfg.Styles.Dest,
		transform.InitMaps(),
		compile,
		transform.MinifyStyles(),
		transform.Rename(cfg.Styles.MinName),
		transform.WriteMaps(maps, cfg.Styles.Dest),
	), "Compile and minify styles")

	scriptLinter := lint.ScriptLinter{}
	lintScripts := reg.Describe(task(TaskLintScripts, cfg.Scripts.Lint, "",
		transform.Lint(scriptLinter),
		transform.Report(rep, scriptLinter.Name()),
		transform.FailOnIssue(),
	), "Lint scripts, failing on errors")
	buildScripts := reg.Describe(task(TaskBuildScripts, cfg.Scripts.Build, cfg.Scripts.Dest,
		transform.InitMaps(),
		transform.Concat(cfg.Scripts.ConcatName),
		transform.Transpile(target),
		transform.WriteMaps(maps, cfg.Scripts.Dest),
	), "Concatenate and transpile scripts")
	scriptsProd := reg.Describe(task(TaskScriptsProd, cfg.Scripts.Build, cfg.Scripts.Dest,
		transform.InitMaps(),
		transform.Concat(cfg.Scripts.ConcatName),
		transform.Transpile(target),
		transform.MinifyScripts(target),
		transform.Rename(cfg.Scripts.MinName),
		transform.WriteMaps(maps, cfg.Scripts.Dest),
	), "Concatenate, transpile and minify scripts")

	// Single-step tasks working on the development outputs.
	reg.Describe(task(TaskSass, cfg.Styles.Build, cfg.Styles.Dest,
		transform.InitMaps(),
		compile,
		transform.WriteMaps(maps, cfg.Styles.Dest),
	), "Compile styles")
	reg.Describe(task(TaskCSSMin, config.Selection{Include: []string{path.Join(cfg.Styles.Dest, "main.css")}}, cfg.Styles.Dest,
		transform.MinifyStyles(),
		transform.Rename(cfg.Styles.MinName),
	), "Minify the compiled style sheet")
	reg.Describe(task(TaskConcat, cfg.Scripts.Build, cfg.Scripts.Dest,
		transform.InitMaps(),
		transform.Concat(cfg.Scripts.ConcatName),
		transform.Transpile(target),
		transform.WriteMaps(maps, cfg.Scripts.Dest),
	), "Concatenate and transpile scripts")
	reg.Describe(task(TaskUglify, config.Selection{Include: []string{path.Join(cfg.Scripts.Dest, cfg.Scripts.ConcatName)}}, cfg.Scripts.Dest,
		transform.MinifyScripts(target),
		transform.Rename(cfg.Scripts.MinName),
	), "Minify the concatenated script")

	prodMarkup := reg.Series(TaskProdMarkup, lintMarkup, buildMarkup)
	prodStyles := reg.Series(TaskProdStyles, lintStyles, stylesProd)
	prodScripts := reg.Series(TaskProdScripts, lintScripts, scriptsProd)

	watcher := func(name string, patterns []string, build dag.Handle) dag.Handle {
		return reg.Register(name, func(ctx context.Context) error {
			r, ok := dag.RunnerFrom(ctx)
			if !ok {
				return errors.New("watch tasks need a runner")
			}
			w := &watch.Watcher{
				Dir:       cfg.Dir,
				Selection: asset.Selection{Include: patterns},
				Task:      build.Name(),
				Runner:    r,
				Logger:    logger,
			}
			return w.Watch(ctx)
		})
	}
	watchMarkup := watcher(TaskWatchMarkup, cfg.Markup.Watch, buildMarkup)
	watchStyles := watcher(TaskWatchStyles, cfg.Styles.Watch, buildStyles)
	watchScripts := watcher(TaskWatchScripts, cfg.Scripts.Watch, buildScripts)

	reg.Describe(reg.Series(TaskLint, lintMarkup, lintStyles, lintScripts), "Lint markup, styles and scripts")
	reg.Describe(reg.Series(TaskDefault, buildMarkup, buildStyles, buildScripts), "Development build")
	reg.Describe(reg.Series(TaskProduction, prodMarkup, prodStyles, prodScripts), "Lint, then production build")
	reg.Describe(reg.Parallel(TaskWatch, watchMarkup, watchStyles, watchScripts), "Rebuild on change")

	for _, a := range []struct {
		name string
		to   dag.Handle
	}{
		{"htmlLint", lintMarkup},
		{"sassLint", lintStyles},
		{"eslint", lintScripts},
		{"htmlmin", buildMarkup},
	} {
		reg.Describe(reg.Series(a.name, a.to), "Alias of "+a.to.Name())
	}
	return nil
}
