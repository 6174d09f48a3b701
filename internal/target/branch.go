// Package target implements the TargetRepository/Branch/AnnotatedTag/
// Transaction subsystem: per-repository branch history, annotated tag
// lifecycle, and the in-progress-commit accumulator that emits one fast-import
// commit per (repository, branch, revnum).
package target

import (
	"sort"

	"github.com/svn2git-tools/svn2git/internal/mark"
)

// Branch is the append-only history of one (repository, branch): parallel
// revnum/mark sequences plus the revnum the branch was first created at.
// A mark of 0 records a branch reset/copy with no content of its own (the
// SVN copy revealed nothing newer than the source at that point).
type Branch struct {
	CreationRevnum int
	Commits        []int
	Marks          []mark.Mark
	Note           []byte
}

// NewBranch records a freshly created branch's creation revnum.
func NewBranch(creationRevnum int) *Branch {
	return &Branch{CreationRevnum: creationRevnum}
}

// Append records a new (revnum, mark) pair, warning the caller (via the
// returned bool) if revnum does not strictly increase — the source data is
// untrusted and the converter tolerates (but flags) non-monotone input.
func (b *Branch) Append(revnum int, m mark.Mark) (monotone bool) {
	monotone = len(b.Commits) == 0 || revnum > b.Commits[len(b.Commits)-1]
	b.Commits = append(b.Commits, revnum)
	b.Marks = append(b.Marks, m)
	return monotone
}

// LastMark returns the most recently committed mark, or 0 if the branch has
// no commits yet (a fresh branch's first commit has no parent).
func (b *Branch) LastMark() mark.Mark {
	if len(b.Marks) == 0 {
		return 0
	}
	return b.Marks[len(b.Marks)-1]
}

// MarkFrom binary-searches Commits for the greatest entry <= rev, returning
// its mark. Returns 0 if the branch has no commits at or before rev.
//
// markFrom(branch, rev) obeys: 0 (no commit <= rev), the exact mark if rev is
// present, or the mark of the greatest commit <= rev.
func (b *Branch) MarkFrom(rev int) mark.Mark {
	// sort.Search finds the first index whose Commits value is > rev;
	// the entry just before it is the greatest Commits[i] <= rev.
	idx := sort.Search(len(b.Commits), func(i int) bool { return b.Commits[i] > rev })
	if idx == 0 {
		return 0
	}
	return b.Marks[idx-1]
}
