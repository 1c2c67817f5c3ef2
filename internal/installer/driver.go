package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/bilusteknoloji/flux/internal/condapkg"
	"github.com/bilusteknoloji/flux/internal/downloader"
	"github.com/bilusteknoloji/flux/internal/pypiplan"
	"github.com/bilusteknoloji/flux/internal/python"
)

// TransactionOption configures a Transaction.
type TransactionOption func(*Transaction)

// WithTransactionLogger sets the structured logger.
func WithTransactionLogger(l *slog.Logger) TransactionOption {
	return func(t *Transaction) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMaxWorkers bounds how many package installs/removals run concurrently.
// Defaults to runtime.GOMAXPROCS(0).
func WithMaxWorkers(n int) TransactionOption {
	return func(t *Transaction) {
		if n > 0 {
			t.maxWorkers = n
		}
	}
}

// Transaction executes a Plan against one environment prefix: it links
// conda packages (extracting already-downloaded `.conda` archives and
// writing conda-meta records), installs/reinstalls/removes PyPI
// distributions (reusing the wheel installer's extraction logic), and
// removes anything the plan marked extraneous. Independent package
// operations run with bounded concurrency.
type Transaction struct {
	prefix       string
	sitePackages string
	logger       *slog.Logger
	maxWorkers   int
}

// NewTransaction creates a Transaction targeting the given prefix.
func NewTransaction(prefix, sitePackages string, opts ...TransactionOption) *Transaction {
	t := &Transaction{
		prefix:       prefix,
		sitePackages: sitePackages,
		logger:       slog.Default(),
		maxWorkers:   runtime.GOMAXPROCS(0),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Execute runs every action in plan. condaArchives maps a conda package
// name to the local path of its already-downloaded `.conda` archive;
// pypiWheels maps a PyPI package name to its already-downloaded wheel
// result. Both maps need only cover Install/Update/Reinstall actions —
// Remove/Extraneous actions never consult them.
func (t *Transaction) Execute(ctx context.Context, plan *Plan, condaArchives map[string]string, pypiWheels map[string]downloader.Result) error {
	if err := os.MkdirAll(t.prefix, 0o755); err != nil {
		return fmt.Errorf("creating prefix %s: %w", t.prefix, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.maxWorkers)

	for _, action := range plan.CondaActions {
		action := action

		g.Go(func() error {
			return t.runCondaAction(ctx, action, condaArchives)
		})
	}

	for _, action := range plan.PypiActions {
		action := action

		g.Go(func() error {
			return t.runPypiAction(ctx, action, pypiWheels)
		})
	}

	return g.Wait()
}

func (t *Transaction) runCondaAction(ctx context.Context, action CondaAction, archives map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch action.Kind {
	case CondaRemove:
		t.logger.Debug("removing conda package", slog.String("name", action.Installed.Name))

		return RemoveCondaMeta(t.prefix, *action.Installed)

	case CondaUpdate:
		if err := RemoveCondaMeta(t.prefix, *action.Installed); err != nil {
			return fmt.Errorf("removing previous build of %s: %w", action.Installed.Name, err)
		}

		fallthrough

	case CondaInstall:
		archive, ok := archives[action.Locked.Name]
		if !ok {
			return fmt.Errorf("no downloaded archive for conda package %s", action.Locked.Name)
		}

		extracted, err := condapkg.Extract(archive, t.prefix)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", action.Locked.Name, err)
		}

		rec := CondaMetaFromLocked(*action.Locked, extracted.Files)

		if err := WriteCondaMeta(t.prefix, rec); err != nil {
			return fmt.Errorf("recording conda-meta for %s: %w", action.Locked.Name, err)
		}

		t.logger.Debug("installed conda package", slog.String("name", action.Locked.Name), slog.String("version", action.Locked.Version))

		return nil

	default:
		return fmt.Errorf("unknown conda action kind %v", action.Kind)
	}
}

func (t *Transaction) runPypiAction(ctx context.Context, action pypiplan.Action, wheels map[string]downloader.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch action.Kind {
	case pypiplan.ActionAlreadyInstalled:
		return nil

	case pypiplan.ActionExtraneous:
		t.logger.Debug("removing extraneous pypi package", slog.String("name", action.Name))

		return removeDistInfo(action.Dir)

	case pypiplan.ActionReinstall:
		if action.Dir != "" {
			if err := removeDistInfo(action.Dir); err != nil {
				return fmt.Errorf("clearing previous install of %s: %w", action.Name, err)
			}
		}

		fallthrough

	case pypiplan.ActionInstall:
		dl, ok := wheels[action.Name]
		if !ok {
			return fmt.Errorf("no downloaded wheel for pypi package %s", action.Name)
		}

		env := &python.Environment{Prefix: t.prefix, SitePackages: t.sitePackages}
		svc := New(env, WithLogger(t.logger))

		if err := svc.installWheel(dl); err != nil {
			return fmt.Errorf("installing %s: %w", action.Name, err)
		}

		t.logger.Debug("installed pypi package", slog.String("name", action.Name))

		return nil

	default:
		return fmt.Errorf("unknown pypi action kind %v", action.Kind)
	}
}

// removeDistInfo deletes every file a dist-info's RECORD tracks, plus the
// dist-info directory itself.
func removeDistInfo(distInfoDir string) error {
	if distInfoDir == "" {
		return nil
	}

	entries, err := ReadRecord(distInfoDir)
	if err != nil {
		// Fall back to removing just the dist-info directory: we can't
		// reconstruct the file list, but we can still stop tracking it.
		return os.RemoveAll(distInfoDir)
	}

	siteDir := filepath.Dir(distInfoDir)

	for _, e := range entries {
		path := filepath.Join(siteDir, e.Path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	return os.RemoveAll(distInfoDir)
}
