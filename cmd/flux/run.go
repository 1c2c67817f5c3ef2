package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/manifest"
	"github.com/bilusteknoloji/flux/internal/taskgraph"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var envName string

	cmd := &cobra.Command{
		Use:                "run <task> [args...]",
		Short:              "Run a task, and everything it depends on, in topological order",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			taskName, rest := parseRunArgs(rawArgs, &envName)

			ws, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			if envName == "" {
				envName = "default"
			}

			target, err := ws.ResolveEnvironment(envName, currentPlatform())
			if err != nil {
				return err
			}

			task, ok := target.Tasks[taskName]
			if !ok {
				msg := fmt.Sprintf("unknown task %q", taskName)
				if suggestion := taskgraph.SuggestTaskName(target.Tasks, taskName); suggestion != "" {
					msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
				}

				return fmt.Errorf("%s", msg)
			}

			rootArgs := bindTaskArgs(task, rest)

			graph, err := taskgraph.Build(target.Tasks, taskName, rootArgs)
			if err != nil {
				return err
			}

			order, err := graph.TopologicalOrder()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			dir := filepath.Dir(path)

			diff, err := activationEnv(ctx, path, envName)
			if err != nil {
				return err
			}

			taskEnv := diff.Apply(os.Environ())

			for _, n := range order {
				cwd := dir
				if n.Task.Cwd != "" {
					cwd = filepath.Join(dir, n.Task.Cwd)
				}

				if err := taskgraph.Run(ctx, n, cwd, taskEnv, n.Task.CleanEnv, os.Stdout, os.Stderr); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&envName, "environment", "", "Environment whose tasks to run (default: default)")

	return cmd
}

func newTaskCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage workspace tasks",
	}

	cmd.AddCommand(newTaskListCmd(flags))

	return cmd
}

func newTaskListCmd(flags *globalFlags) *cobra.Command {
	var envName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks defined for an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			if envName == "" {
				envName = "default"
			}

			target, err := ws.ResolveEnvironment(envName, currentPlatform())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(target.Tasks))
			for name := range target.Tasks {
				names = append(names, name)
			}

			sort.Strings(names)

			for _, name := range names {
				t := target.Tasks[name]

				desc := t.Description
				if desc == "" {
					desc = t.Cmd
				}

				fmt.Printf("%-20s %s\n", name, desc)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&envName, "environment", "", "Environment whose tasks to list (default: default)")

	return cmd
}

// parseRunArgs pulls a leading --environment=X/--environment X flag out of
// the raw, unparsed `run` argument list (flag parsing is disabled so the
// task's own trailing args pass through untouched), returning the task name
// and the task's argument list.
func parseRunArgs(rawArgs []string, envName *string) (taskName string, rest []string) {
	var filtered []string

	i := 0
	for i < len(rawArgs) {
		arg := rawArgs[i]

		switch {
		case arg == "--environment" && i+1 < len(rawArgs):
			*envName = rawArgs[i+1]
			i += 2
		default:
			filtered = append(filtered, arg)
			i++
		}
	}

	if len(filtered) == 0 {
		return "", nil
	}

	return filtered[0], filtered[1:]
}

// bindTaskArgs matches trailing CLI args against a task's declared named
// arguments (by position); if the task declares none, falls back to the
// free-form trailing arg form.
func bindTaskArgs(task manifest.Task, args []string) taskgraph.ArgValues {
	if len(task.Args) == 0 {
		return taskgraph.ArgValues{Kind: taskgraph.ArgFreeForm, FreeForm: args}
	}

	bound := make(map[string]string, len(task.Args))

	for i, a := range task.Args {
		if i < len(args) {
			bound[a.Name] = args[i]
		} else if a.HasDefault {
			bound[a.Name] = a.Default
		}
	}

	return taskgraph.ArgValues{Kind: taskgraph.ArgBound, Bound: bound}
}
