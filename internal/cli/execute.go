package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"assetweaver/internal/config"
	"assetweaver/internal/dag"
	"assetweaver/internal/logger"
	"assetweaver/internal/pipeline"
	"assetweaver/internal/report"
	"assetweaver/internal/trace"
)

// Result is the outcome of Execute.
type Result struct {
	ExitCode int
	// Runs holds one result per task started, in order.
	Runs []*dag.RunResult
}

// project is a loaded configuration with its logger and task graph.
type project struct {
	cfg    config.Config
	logger *zap.Logger
	reg    *dag.Registry
	graph  *dag.TaskGraph
}

func loadProject(inv Invocation, stdout io.Writer) (*project, error) {
	cfg, err := config.Load(inv.Dir, inv.ConfigPath)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	switch {
	case inv.Debug:
		cfg.Log.Level = "debug"
	case inv.Quiet:
		cfg.Log.Level = "warn"
	}
	if inv.NoColor {
		cfg.Color = false
	}
	cfg.Log.Color = cfg.Color
	if cfg.Log.FilePath != "" && !filepath.IsAbs(cfg.Log.FilePath) {
		cfg.Log.FilePath = cfg.Path(cfg.Log.FilePath)
	}

	log := logger.New(cfg.Log, stdout)
	reg := dag.NewRegistry()
	env := pipeline.Env{Logger: log, Reporter: report.New(stdout, cfg.Color, log)}
	if err := pipeline.Register(reg, cfg, env); err != nil {
		return nil, configErrorf("%v", err)
	}
	g, err := reg.Build()
	if err != nil {
		return nil, fmt.Errorf("build task graph: %w", err)
	}
	return &project{cfg: cfg, logger: log, reg: reg, graph: g}, nil
}

// Execute runs every task of inv in order and stops at the first failed run.
//
// A run fails when its task returns an error or when anything (a lint report)
// marked its status failed. Task failures are not returned as errors; they are
// reflected in Result.ExitCode.
func Execute(ctx context.Context, inv Invocation, stdout io.Writer) (res Result, execErr error) {
	res.ExitCode = ExitInternalError
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			execErr = fmt.Errorf("panic: %v", r)
		}
	}()

	p, err := loadProject(inv, stdout)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	defer func() { _ = p.logger.Sync() }()

	for _, name := range inv.Tasks {
		if _, ok := p.graph.Node(name); !ok {
			res.ExitCode = ExitInvalidInvocation
			return res, invalidInvocationf("Task never defined: %s", name)
		}
	}
	p.logger.Info("Using project " + inv.Dir)

	runner, err := dag.NewRunner(p.graph, p.logger)
	if err != nil {
		return res, err
	}

	for _, name := range inv.Tasks {
		run, err := runner.Run(ctx, name)
		if err != nil {
			var ge *dag.GraphError
			if errors.As(err, &ge) && errors.Is(err, dag.ErrUnknownTask) {
				res.ExitCode = ExitInvalidInvocation
			}
			return res, err
		}
		res.Runs = append(res.Runs, run)

		if inv.TracePath != "" {
			if err := trace.WriteFile(inv.TracePath, run.Trace()); err != nil {
				return res, fmt.Errorf("write trace: %w", err)
			}
		}
		if run.Failed() {
			res.ExitCode = ExitTaskFailure
			return res, nil
		}
	}
	res.ExitCode = ExitSuccess
	return res, nil
}

// listTasks prints every task in declaration order with its composition.
// Entry points, the tasks no composite refers to, are starred.
func listTasks(inv Invocation, stdout io.Writer) error {
	p, err := loadProject(Invocation{Dir: inv.Dir, ConfigPath: inv.ConfigPath, Quiet: true, NoColor: inv.NoColor}, io.Discard)
	if err != nil {
		return err
	}

	roots := map[string]bool{}
	for _, n := range p.graph.Roots() {
		roots[n] = true
	}

	fmt.Fprintf(stdout, "Tasks for %s\n", inv.Dir)
	names := p.reg.Names()
	width := 0
	for _, n := range names {
		width = max(width, len(n))
	}
	for _, n := range names {
		node, _ := p.graph.Node(n)
		mark := " "
		if roots[n] {
			mark = "*"
		}
		line := fmt.Sprintf("%s %-*s  %s", mark, width, n, node.Description)
		if node.Mode != dag.ModeTask {
			line += fmt.Sprintf(" [%s: %s]", node.Mode, strings.Join(node.Children, ", "))
		}
		fmt.Fprintln(stdout, strings.TrimRight(line, " "))
	}
	fmt.Fprintln(stdout, "(* entry point)")
	return nil
}
