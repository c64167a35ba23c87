package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
)

// execResult is the captured outcome of one external command.
type execResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// execCommand runs command through "sh -c" in dir with stdin attached.
//
// The environment is an allowlist: env entries plus the inherited host
// variables named in inherit. Nothing else from the host is visible. On
// cancellation the whole process group is killed.
func execCommand(ctx context.Context, dir, command string, env map[string]string, inherit []string, stdin []byte) (*execResult, error) {
	if command == "" {
		return nil, errors.New("command is empty")
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = buildEnv(env, inherit)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return nil, fmt.Errorf("command cancelled: %w", ctx.Err())
	case err = <-done:
	}

	res := &execResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// buildEnv returns a sorted KEY=VALUE list. Explicit entries win over
// inherited ones; inherited names missing from the host are skipped.
func buildEnv(env map[string]string, inherit []string) []string {
	merged := make(map[string]string, len(env)+len(inherit))
	for _, name := range inherit {
		if v, ok := os.LookupEnv(name); ok {
			merged[name] = v
		}
	}
	for k, v := range env {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
