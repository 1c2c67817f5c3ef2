package taskgraph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// expandEnviron builds a clean-room environment (no inherited parent
// process variables) from the explicit env list, for tasks declared
// clean-env = true.
func expandEnviron(env []string) expand.Environ {
	return expand.ListEnviron(env...)
}

// ComposeCommand substitutes a task's bound arguments into its command
// string, then prepends `export K="V";` lines for its declared env and
// appends any free-form trailing args, each single-quoted. The result is a
// single string handed to the POSIX shell parser.
func ComposeCommand(n Node) string {
	var b strings.Builder

	envNames := make([]string, 0, len(n.Task.Env))
	for k := range n.Task.Env {
		envNames = append(envNames, k)
	}

	sort.Strings(envNames)

	for _, k := range envNames {
		fmt.Fprintf(&b, "export %s=%q; ", k, n.Task.Env[k])
	}

	b.WriteString(substituteArgs(n.Task.Cmd, n.Args))

	if n.Args.Kind == ArgFreeForm {
		for _, a := range n.Args.FreeForm {
			b.WriteString(" '")
			b.WriteString(strings.ReplaceAll(a, "'", `'\''`))
			b.WriteString("'")
		}
	}

	return b.String()
}

func substituteArgs(cmd string, args ArgValues) string {
	if args.Kind != ArgBound {
		return cmd
	}

	var b strings.Builder

	for {
		start := strings.Index(cmd, "{{")
		if start == -1 {
			b.WriteString(cmd)
			break
		}

		end := strings.Index(cmd[start:], "}}")
		if end == -1 {
			b.WriteString(cmd)
			break
		}

		name := strings.TrimSpace(cmd[start+2 : start+end])

		b.WriteString(cmd[:start])
		b.WriteString(args.Bound[name])

		cmd = cmd[start+end+2:]
	}

	return b.String()
}

// Run parses a task's composed command with the POSIX-compatible shell
// grammar and executes it in dir with the given environment, streaming
// output to stdout/stderr. cleanEnv suppresses inheritance of the parent
// process's environment beyond what env supplies.
func Run(ctx context.Context, n Node, dir string, env []string, cleanEnv bool, stdout, stderr io.Writer) error {
	if n.Task.IsAlias() {
		return nil
	}

	cmd := ComposeCommand(n)

	file, err := syntax.NewParser().Parse(strings.NewReader(cmd), n.TaskName)
	if err != nil {
		return fmt.Errorf("parsing task %q: %w", n.TaskName, err)
	}

	opts := []interp.RunnerOption{
		interp.StdIO(nil, stdout, stderr),
	}

	if dir != "" {
		opts = append(opts, interp.Dir(dir))
	}

	if cleanEnv {
		opts = append(opts, interp.Env(expandEnviron(env)))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("building shell runner for task %q: %w", n.TaskName, err)
	}

	if err := runner.Run(ctx, file); err != nil {
		var status interp.ExitStatus
		if errorsAsExitStatus(err, &status) {
			return &TaskFailed{TaskName: n.TaskName, ExitCode: int(status)}
		}

		return fmt.Errorf("running task %q: %w", n.TaskName, err)
	}

	return nil
}

func errorsAsExitStatus(err error, target *interp.ExitStatus) bool {
	status, ok := err.(interp.ExitStatus)
	if !ok {
		return false
	}

	*target = status

	return true
}

// TaskFailed reports a task's non-zero exit code, including exit 127
// (command not found), which the executor surfaces verbatim rather than
// wrapping.
type TaskFailed struct {
	TaskName string
	ExitCode int
}

func (e *TaskFailed) Error() string {
	return fmt.Sprintf("task %q exited with code %d", e.TaskName, e.ExitCode)
}

// CaptureOutput runs a task and returns its combined stdout+stderr instead
// of streaming them to the user.
func CaptureOutput(ctx context.Context, n Node, dir string, env []string) (string, error) {
	var buf bytes.Buffer

	err := Run(ctx, n, dir, env, false, &buf, &buf)

	return buf.String(), err
}
