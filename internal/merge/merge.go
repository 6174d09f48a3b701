// Package merge implements the merge-inference engine: deriving Git merge
// parents from svn:copied-from edges and svn:mergeinfo property diffs,
// reconciled against curated override tables.
package merge

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/svn2git-tools/svn2git/internal/rules"
	"github.com/svn2git-tools/svn2git/internal/svnsource"
	"github.com/svn2git-tools/svn2git/internal/target"
)

// Info is a candidate Git merge parent: a (from-branch, from-rev, to-branch)
// triple.
type Info struct {
	FromBranch string
	Revnum     int
	ToBranch   string
}

// Tables holds the curated static override tables. In production these
// would be loaded from an external data file (thousands of entries); the
// zero value (all four tables empty) is a fully functional (if
// conservative) engine.
type Tables struct {
	// Force is keyed by revnum; a hit records the listed merges and
	// short-circuits the rest of the chain. Entries go through the same
	// filtering as parsed mergeinfo: a target or source that is not allowed
	// is skipped, and so is a target branch with no open transaction in this
	// revision (no transaction is created for it).
	Force map[int][]Info
	// Skip is a set of revnums whose mergeinfo is known noise.
	Skip map[int]bool
	// KnownEmpty is a set of revnums whose mergeinfo diff is known to
	// produce no merges (distinct from Skip for diagnostic purposes).
	KnownEmpty map[int]bool
	// Manual is keyed by revnum; a hit adopts the listed entries instead of
	// running the mergeinfo-diff parser.
	Manual map[int][]Info
}

func NewTables() Tables {
	return Tables{
		Force:      make(map[int][]Info),
		Skip:       make(map[int]bool),
		KnownEmpty: make(map[int]bool),
		Manual:     make(map[int][]Info),
	}
}

// Engine runs once per revision after rule dispatch to infer merge parents.
type Engine struct {
	Source svnsource.Source
	Rules  *rules.Set
	Tables Tables
	Logger *logrus.Logger

	// MinRevisionForPredicate and RequiredPathSuffix implement step 1's
	// FreeBSD-specific short-circuit as a configurable predicate: mergeinfo
	// is only considered for repository paths ending in RequiredPathSuffix,
	// at or beyond MinRevisionForPredicate.
	MinRevisionForPredicate int
	RequiredPathSuffix      string

	// AllowedTagNames lists exact tag refs that pass the target allowlist
	// in addition to the master/projects/user/vendor prefix families.
	AllowedTagNames []string

	// DumpDir is where ambiguous mergeinfo diffs are written for manual
	// triage (default "mi").
	DumpDir string
}

var sourceDisallowPrefix = "user"

func (e *Engine) isAllowedTarget(branch string) bool {
	for _, p := range []string{"master", "projects/", "user/", "vendor/", "vendor-sys/"} {
		if branch == strings.TrimSuffix(p, "/") || strings.HasPrefix(branch, p) {
			return true
		}
	}
	for _, tag := range e.AllowedTagNames {
		if branch == tag {
			return true
		}
	}
	return false
}

func (e *Engine) isDisallowedSource(branch string) bool {
	return strings.HasPrefix(branch, sourceDisallowPrefix)
}

var stableRelengRE = regexp.MustCompile(`^(stable|releng)/`)

func allStableOrReleng(branches []string) bool {
	for _, b := range branches {
		if !stableRelengRE.MatchString(b) {
			return false
		}
	}
	return len(branches) > 0
}

// Process runs the full short-circuit chain of §4.8 for one revision and
// applies surviving candidates via Transaction.NoteCopyFromBranch.
//
// toBranches is the set of target branches recorded by rule dispatch during
// this revision; transactions maps branch name to its open Transaction.
// mergeinfoFound and copyFromRecorded are flags accumulated during
// prepareTransactions.
func (e *Engine) Process(
	ctx context.Context,
	rev int,
	toBranches []string,
	transactions map[string]*target.Transaction,
	mergeinfoFound bool,
	copyFromRecorded bool,
) error {
	// Step 1: FreeBSD-specific predicate.
	if e.RequiredPathSuffix != "" && !strings.HasSuffix(strings.TrimSuffix(e.Source.RepositoryPath(), "/"), e.RequiredPathSuffix) {
		return nil
	}
	if rev < e.MinRevisionForPredicate {
		return nil
	}

	// Step 2: force-merge table.
	if infos, ok := e.Tables.Force[rev]; ok {
		return e.apply(ctx, infos, transactions)
	}

	// Step 3.
	if !mergeinfoFound {
		return nil
	}
	// Step 4.
	if e.Tables.Skip[rev] {
		return nil
	}
	// Step 5.
	if e.Tables.KnownEmpty[rev] {
		return nil
	}
	// Step 6.
	if copyFromRecorded {
		return nil
	}
	// Step 7.
	if allStableOrReleng(toBranches) {
		return nil
	}

	var candidates []Info
	// Step 8: manual-merge table.
	if infos, ok := e.Tables.Manual[rev]; ok {
		candidates = infos
	} else {
		// Step 9: mergeinfo-diff parser.
		raw, err := e.Source.PropertyDiff(ctx, rev)
		if err != nil {
			return err
		}
		result, err := e.parseMergeinfoDiff(ctx, rev, raw)
		if err != nil {
			return err
		}
		candidates = result.Infos
	}

	// Transaction gating: exactly one transaction, exactly one target
	// branch.
	if len(transactions) != 1 || len(toBranches) != 1 {
		if e.Logger != nil {
			e.Logger.Debugf("r%d: merge recording skipped, %d transactions / %d target branches", rev, len(transactions), len(toBranches))
		}
		return nil
	}

	return e.apply(ctx, candidates, transactions)
}

func (e *Engine) apply(ctx context.Context, infos []Info, transactions map[string]*target.Transaction) error {
	for _, info := range infos {
		if !e.isAllowedTarget(info.ToBranch) {
			continue
		}
		if e.isDisallowedSource(info.FromBranch) {
			continue
		}
		txn, ok := transactions[info.ToBranch]
		if !ok {
			if e.Logger != nil {
				e.Logger.Warnf("merge target branch %s has no open transaction", info.ToBranch)
			}
			continue
		}
		if err := txn.NoteCopyFromBranch(ctx, info.FromBranch, info.Revnum, true); err != nil {
			return err
		}
	}
	return nil
}
