package installer

import (
	"log/slog"

	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/pypiplan"
)

// CondaActionKind is the conda half of the transaction taxonomy.
type CondaActionKind int

const (
	CondaInstall CondaActionKind = iota
	CondaUpdate
	CondaRemove
)

func (k CondaActionKind) String() string {
	switch k {
	case CondaInstall:
		return "install"
	case CondaUpdate:
		return "update"
	case CondaRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// CondaAction is one conda package's planned transition. Locked is nil for
// Remove; Installed is nil for a fresh Install.
type CondaAction struct {
	Kind      CondaActionKind
	Locked    *lock.LockedPackage
	Installed *CondaMetaRecord
}

// Plan is the full transaction: what to do to every conda package and every
// PyPI package to bring a prefix's installed state in line with a locked
// platform's package set.
type Plan struct {
	CondaActions []CondaAction
	PypiActions  []pypiplan.Action
}

// BuildPlan diffs a prefix's on-disk installed state (conda-meta records
// and dist-info scan) against a locked platform's package list.
func BuildPlan(prefix, sitePackages string, locked []lock.LockedPackage, logger *slog.Logger) (*Plan, error) {
	installedConda, err := ReadCondaMetaRecords(prefix)
	if err != nil {
		return nil, err
	}

	installedByName := make(map[string]CondaMetaRecord, len(installedConda))
	for _, r := range installedConda {
		installedByName[r.Name] = r
	}

	lockedCondaNames := make(map[string]bool, len(locked))

	var condaActions []CondaAction

	for i := range locked {
		p := locked[i]
		if p.Kind != lock.KindConda {
			continue
		}

		lockedCondaNames[p.Name] = true

		existing, ok := installedByName[p.Name]

		switch {
		case !ok:
			condaActions = append(condaActions, CondaAction{Kind: CondaInstall, Locked: &locked[i]})
		case existing.Version != p.Version || existing.Build != p.Build:
			ex := existing
			condaActions = append(condaActions, CondaAction{Kind: CondaUpdate, Locked: &locked[i], Installed: &ex})
		}
	}

	for i := range installedConda {
		r := installedConda[i]
		if !lockedCondaNames[r.Name] {
			condaActions = append(condaActions, CondaAction{Kind: CondaRemove, Installed: &installedConda[i]})
		}
	}

	installedPypi, err := pypiplan.ScanInstalled(sitePackages, logger)
	if err != nil {
		return nil, err
	}

	return &Plan{
		CondaActions: condaActions,
		PypiActions:  pypiplan.Plan(locked, installedPypi),
	}, nil
}

// IsNoop reports whether the plan has nothing to install, update, or
// remove.
func (p *Plan) IsNoop() bool {
	if len(p.CondaActions) > 0 {
		return false
	}

	for _, a := range p.PypiActions {
		if a.Kind != pypiplan.ActionAlreadyInstalled {
			return false
		}
	}

	return true
}
