// Package svnsource defines the SVN-library boundary (the Source interface)
// and a concrete implementation that shells out to svnlook and svn against a
// local repository path.
package svnsource

import (
	"context"
	"io"
	"time"
)

// NodeKind is the kind of an SVN filesystem entry at a given revision.
type NodeKind int

const (
	NodeNone NodeKind = iota
	NodeFile
	NodeDir
)

// ChangeAction mirrors svnlook's single-letter change codes.
type ChangeAction byte

const (
	ActionAdd     ChangeAction = 'A'
	ActionDelete  ChangeAction = 'D'
	ActionModify  ChangeAction = 'M'
	ActionReplace ChangeAction = 'R'
)

// PathChange is one entry of a revision's changed-paths list.
type PathChange struct {
	Path         string
	Action       ChangeAction
	Kind         NodeKind
	CopyFromPath string
	CopyFromRev  int
	MergeinfoMod bool
}

// DirEntry is one child of a directory listing.
type DirEntry struct {
	Name string
	Kind NodeKind
}

// RevProps are the revision properties the walker needs to build a commit.
type RevProps struct {
	Author string
	Date   time.Time
	Log    string
}

// Source is the SVN filesystem boundary: every read the revision walker and
// merge-inference engine need to perform, expressed so tests can substitute
// an in-memory fake.
type Source interface {
	YoungestRevision(ctx context.Context) (int, error)
	PathsChanged(ctx context.Context, rev int) ([]PathChange, error)
	CopiedFrom(ctx context.Context, rev int, path string) (fromPath string, fromRev int, ok bool, err error)
	NodeProp(ctx context.Context, rev int, path, propName string) (string, bool, error)
	DirEntries(ctx context.Context, rev int, path string) ([]DirEntry, error)
	FileLength(ctx context.Context, rev int, path string) (int64, error)
	FileContents(ctx context.Context, rev int, path string) (io.ReadCloser, error)
	CheckPath(ctx context.Context, rev int, path string) (NodeKind, error)
	RevisionProps(ctx context.Context, rev int) (RevProps, error)

	// PropertyDiff returns the raw `svn diff -c <rev> --properties-only`
	// output, used by the mergeinfo-diff parser.
	PropertyDiff(ctx context.Context, rev int) (string, error)
	// Log returns `svn log -v -c <rev>` output, attached to mergeinfo
	// ambiguity diagnostics.
	Log(ctx context.Context, rev int) (string, error)

	// RepositoryPath returns the local filesystem path of the repository,
	// used by the FreeBSD-shaped short-circuit predicate in the
	// merge-inference engine (§4.8 step 1).
	RepositoryPath() string
}
