// Package driver implements the outer conversion loop: resume every target
// repository, walk revisions from the computed cutoff to the source's
// youngest revision, then finalize and close every target.
package driver

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/svn2git-tools/svn2git/internal/svnsource"
	"github.com/svn2git-tools/svn2git/internal/target"
	"github.com/svn2git-tools/svn2git/internal/walker"
)

// Driver owns the source, the revision walker, and every target repository
// reachable from the rule file, and runs the outer per-revision loop.
type Driver struct {
	Logger *logrus.Logger
	Source svnsource.Source
	Walker *walker.Walker
	Repos  map[string]target.Repository

	// Cutoff is the configured starting revision; SetupIncremental may push
	// it forward per-target based on resumed state.
	Cutoff int
	// ProgressEvery logs a progress line every N revisions (0 disables).
	ProgressEvery int
	// GraphFile, if set, receives the branch/merge DAG built from every
	// commit this run produces (§4.10).
	GraphFile string
}

// effectiveTargets returns the distinct underlying TargetRepository values
// reachable through d.Repos, deduplicated by identity so a repository
// reachable via more than one ForwardingRepository name is only
// resumed/finalized/closed once.
func (d *Driver) effectiveTargets() []*target.TargetRepository {
	seen := make(map[*target.TargetRepository]bool)
	var out []*target.TargetRepository
	for _, repo := range d.Repos {
		eff := repo.EffectiveRepository()
		if seen[eff] {
			continue
		}
		seen[eff] = true
		out = append(out, eff)
	}
	return out
}

// Run implements Driver.Run(ctx, cutoff): resume every target, walk every
// revision from the computed cutoff to the source's youngest, then
// finalize tags, save branch notes, and close each target in turn.
func (d *Driver) Run(ctx context.Context) error {
	targets := d.effectiveTargets()

	cutoff := d.Cutoff
	first := true
	for _, t := range targets {
		resumeFrom, err := t.SetupIncremental(d.Cutoff)
		if err != nil {
			return fmt.Errorf("%s: resume: %w", t.Name(), err)
		}
		if first || resumeFrom < cutoff {
			cutoff = resumeFrom
		}
		first = false
	}

	youngest, err := d.Source.YoungestRevision(ctx)
	if err != nil {
		return fmt.Errorf("youngest revision: %w", err)
	}

	if d.Logger != nil {
		d.Logger.Infof("converting r%d..r%d across %d target(s)", cutoff, youngest, len(targets))
	}

	var graph *GraphEmitter
	if d.GraphFile != "" {
		graph = NewGraphEmitter()
		d.Walker.OnCommit = graph.OnCommit
	}

	for revnum := cutoff; revnum <= youngest; revnum++ {
		if err := d.Walker.ExportRevision(ctx, revnum); err != nil {
			for _, t := range targets {
				if rerr := t.RestoreLog(); rerr != nil && d.Logger != nil {
					d.Logger.Warnf("%s: failed to restore log backup after error: %v", t.Name(), rerr)
				}
			}
			return fmt.Errorf("r%d: %w", revnum, err)
		}
		if d.ProgressEvery > 0 && revnum%d.ProgressEvery == 0 && d.Logger != nil {
			d.Logger.Infof("r%d/%d exported", revnum, youngest)
		}
	}

	for _, t := range targets {
		if err := t.FinalizeTags(ctx); err != nil {
			return fmt.Errorf("%s: finalize tags: %w", t.Name(), err)
		}
		if err := t.SaveBranchNotes(ctx); err != nil {
			return fmt.Errorf("%s: save branch notes: %w", t.Name(), err)
		}
		if err := t.Close(ctx); err != nil {
			return fmt.Errorf("%s: close: %w", t.Name(), err)
		}
		if t.OutstandingTxnCount() != 0 {
			return fmt.Errorf("%s: %d outstanding transaction(s) at shutdown", t.Name(), t.OutstandingTxnCount())
		}
	}

	if graph != nil {
		if err := graph.WriteFile(d.GraphFile); err != nil {
			return fmt.Errorf("writing graph file: %w", err)
		}
	}
	return nil
}
