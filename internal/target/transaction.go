package target

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/svn2git-tools/svn2git/internal/fastimport"
	"github.com/svn2git-tools/svn2git/internal/mark"
)

// renamePair is one renameFile(from, to) accumulated on a Transaction.
type renamePair struct {
	from, to string
}

// defaultMsgFilter strips the FreeBSD SVN commit-template boilerplate the
// original converter always cut before writing a commit message, ported
// from FastImportRepository::msgFilter: everything from the first
// boilerplate line onward (inclusive) is dropped, trailing blank lines are
// trimmed first so a message that is all boilerplate collapses to empty.
func defaultMsgFilter(msg string) string {
	lines := strings.Split(msg, "\n")
	for len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var out strings.Builder
	for _, line := range lines {
		switch {
		case strings.HasSuffix(line, "those below, will be ignored--"),
			strings.HasPrefix(line, "> Description of fields to fill in above"),
			strings.HasPrefix(line, "> PR:            If a GNATS PR is affected by the change"),
			strings.HasPrefix(line, "> Submitted by:  If someone else sent in the change"),
			strings.HasPrefix(line, "_M   "):
			return out.String()
		default:
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return out.String()
}

// Transaction is the in-progress commit for one (repository, branch, revnum).
// It accumulates file modifications, deletions, renames, and merge parents
// and emits exactly one fast-import commit block when Commit is called.
type Transaction struct {
	repo   *TargetRepository
	branch string

	svnPrefix     string
	repoPrefix    string
	author        string
	dateTimeEpoch int64
	log           string
	revnum        int

	mergeOrder []string // insertion order of mergeMap keys
	mergeMap   map[string]mark.Mark
	merges     []mark.Mark

	deletedFiles  []string
	renamedFiles  []renamePair
	modifiedFiles strings.Builder
	resetFromTree string

	closed     bool
	commitMark mark.Mark
	parentMark mark.Mark
}

func newTransaction(repo *TargetRepository, branch, svnPrefix string, revnum int) *Transaction {
	return &Transaction{
		repo:      repo,
		branch:    branch,
		svnPrefix: svnPrefix,
		revnum:    revnum,
		mergeMap:  make(map[string]mark.Mark),
	}
}

// SetAuthor sets the commit's revprop-derived identity/date/message; called
// once per revision, shared across every transaction committed within it.
func (t *Transaction) SetAuthor(author string, dateTimeEpoch int64, log string) {
	t.author = author
	t.dateTimeEpoch = dateTimeEpoch
	t.log = log
}

func (t *Transaction) prefixed(path string) string {
	return t.repoPrefix + path
}

// blobBodyWriter streams a blob's bytes into the fast-import child via
// WriteNoLog, bypassing the tee'd log copy so large blobs don't bloat the
// log file on disk, then appends the blob's trailing newline on Close.
type blobBodyWriter struct {
	proc *fastimport.Process
}

func (w *blobBodyWriter) Write(p []byte) (int, error) {
	if err := w.proc.WriteNoLog(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *blobBodyWriter) Close() error {
	return w.proc.WriteNoLog([]byte("\n"))
}

// AddFile allocates the next blob mark, writes the blob header to the
// fast-import child, and returns a WriteCloser the caller streams the blob
// body into. The accumulated `M` line uses mode (e.g. 100644, 100755,
// 120000) and repository-prefixed path.
func (t *Transaction) AddFile(ctx context.Context, path string, mode string, length int64) (io.WriteCloser, error) {
	m := t.repo.alloc.NextBlobMark()
	proc, err := t.repo.process(ctx)
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("blob\nmark %s\ndata %d\n", m, length)
	if err := proc.Write([]byte(header)); err != nil {
		return nil, err
	}
	fmt.Fprintf(&t.modifiedFiles, "M %s %s %s\n", mode, m, t.prefixed(path))
	return &blobBodyWriter{proc}, nil
}

// DeleteFile accumulates a delete; "" is a sentinel meaning "delete
// everything" (deleteall), used when a directory-level delete covers the
// whole tree on this branch.
func (t *Transaction) DeleteFile(path string) {
	t.deletedFiles = append(t.deletedFiles, t.prefixed(path))
}

// RenameFile accumulates a rename. Unlike DeleteFile and AddFile, the
// from/to paths are taken as-is, without the repository prefix: the original
// converter's ForwardingRepository::Transaction::renameFile forwarded both
// paths verbatim while its deleteFile/addFile siblings applied the
// forwarding prefix (see DESIGN.md Open Questions — a documented asymmetry
// in the original that we replicate rather than silently "fix"). A rename
// implicitly cancels a prior delete of the same path: delete collectors
// drain first during emit, but a path present in both deletedFiles and a
// rename's `from` is removed from deletedFiles immediately so it is never
// emitted as a D.
func (t *Transaction) RenameFile(from, to string) {
	for i, d := range t.deletedFiles {
		if d == from {
			t.deletedFiles = append(t.deletedFiles[:i], t.deletedFiles[i+1:]...)
			break
		}
	}
	t.renamedFiles = append(t.renamedFiles, renamePair{from, to})
}

// NoteCopyFromBranch records a candidate Git merge parent discovered via
// svn:copied-from or mergeinfo. Three resolutions apply, in priority order:
// branch-reseating (this transaction is the branch's creation revision and
// a higher-mark source just appeared), merge-bumping (the same fromBranch
// already has a lower mark recorded), or a brand new merge edge.
func (t *Transaction) NoteCopyFromBranch(ctx context.Context, fromBranch string, fromRev int, allowHeuristic bool) error {
	src, ok := t.repo.branches[fromBranch]
	if !ok && strings.HasSuffix(fromBranch, "/dist") {
		fromBranch = strings.TrimSuffix(fromBranch, "/dist")
		src, ok = t.repo.branches[fromBranch]
	}
	if !ok {
		t.repo.logger.Warnf("%s: noteCopyFromBranch: unknown source branch %s", t.repo.name, fromBranch)
		return nil
	}
	newMark := src.MarkFrom(fromRev)
	if newMark == 0 {
		t.repo.logger.Warnf("%s: noteCopyFromBranch: %s has no commit at or before r%d", t.repo.name, fromBranch, fromRev)
		return nil
	}

	branchState := t.repo.branches[t.branch]
	isCreationRev := branchState != nil && branchState.CreationRevnum == t.revnum
	if allowHeuristic && isCreationRev && t.resetFromTree == "" {
		// Branch-reseating heuristic: SVN tag creation often copies one
		// directory at revnum N whose contents last changed at an earlier
		// revision; a later sibling copy can reveal a higher (better)
		// parent, in which case we redo the reset against it.
		if existing := branchState.MarkFrom(t.revnum); existing != 0 && newMark > existing {
			return t.repo.createBranch(ctx, t.branch, t.revnum, fromBranch, fromRev, "", "")
		}
	}

	if existingMark, found := t.mergeMap[fromBranch]; found {
		if newMark > existingMark {
			for i, m := range t.merges {
				if m == existingMark {
					t.merges[i] = newMark
					break
				}
			}
			t.mergeMap[fromBranch] = newMark
		}
		return nil
	}

	t.mergeMap[fromBranch] = newMark
	t.mergeOrder = append(t.mergeOrder, fromBranch)
	t.merges = append(t.merges, newMark)
	return nil
}

// Commit validates branch-name safety, allocates the commit mark, resolves
// the parent, and emits the full fast-import commit block in the exact
// sequence the original converter used.
func (t *Transaction) Commit(ctx context.Context, msgFilter func(string) string) error {
	if t.closed {
		return nil
	}
	defer func() {
		t.closed = true
		t.repo.forgetTransaction()
	}()

	for name := range t.repo.branches {
		if name == t.branch {
			continue
		}
		if strings.HasPrefix(name+"/", t.branch+"/") || strings.HasPrefix(t.branch+"/", name+"/") {
			t.repo.logger.Fatalf("%s: branch name conflict between %q and %q", t.repo.name, t.branch, name)
		}
	}

	commitMark := t.repo.alloc.NextCommitMark()

	branchState, ok := t.repo.branches[t.branch]
	if !ok {
		branchState = NewBranch(t.revnum)
		t.repo.branches[t.branch] = branchState
	}
	parentMark := branchState.LastMark()
	if parentMark == 0 && t.revnum > 1 {
		t.repo.logger.Warnf("%s: root commit on branch %s at r%d (no parent)", t.repo.name, t.branch, t.revnum)
	}
	t.commitMark = commitMark
	t.parentMark = parentMark

	branchState.Commits = append(branchState.Commits, t.revnum)
	branchState.Marks = append(branchState.Marks, commitMark)

	msg := t.log
	if t.repo.addMetadata {
		msg = fmt.Sprintf("%s\n\n[svn path=%s; revision=%d]\n", msg, t.svnPrefix, t.revnum)
	}
	msg = defaultMsgFilter(msg)
	if msgFilter != nil {
		msg = msgFilter(msg)
	}

	ref := branchRef(t.branch)
	proc, err := t.repo.process(ctx)
	if err != nil {
		return err
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "commit %s\nmark %s\ncommitter %s %d +0000\ndata %d\n%s\n",
		ref, commitMark, t.author, t.dateTimeEpoch, len(msg), msg)
	if parentMark != 0 {
		fmt.Fprintf(&buf, "from %s\n", parentMark)
	}
	for _, m := range t.merges {
		if m == parentMark {
			continue
		}
		fmt.Fprintf(&buf, "merge %s\n", m)
	}
	if t.resetFromTree != "" {
		fmt.Fprintf(&buf, "M 040000 %s \n", t.resetFromTree)
	}

	deleteAll := false
	for _, d := range t.deletedFiles {
		if d == "" {
			deleteAll = true
			break
		}
	}
	if deleteAll {
		buf.WriteString("deleteall\n")
	} else {
		for _, d := range t.deletedFiles {
			fmt.Fprintf(&buf, "D %s\n", d)
		}
	}

	buf.WriteString(t.modifiedFiles.String())

	for _, rp := range t.renamedFiles {
		if rp.to == "" || rp.to == "/dev/null" {
			fmt.Fprintf(&buf, "D %s\n", rp.from)
		} else {
			fmt.Fprintf(&buf, "R %s %s\n", rp.from, rp.to)
		}
	}

	fmt.Fprintf(&buf, "progress SVN r%d branch %s = %s", t.revnum, t.branch, commitMark)
	if len(t.merges) > 0 {
		buf.WriteString(" # merge from")
		for _, m := range t.merges {
			fmt.Fprintf(&buf, " %s", m)
		}
	}
	buf.WriteString("\n\n")

	if err := proc.Write([]byte(buf.String())); err != nil {
		return err
	}

	if t.repo.addMetadataNotes && !strings.HasPrefix(ref, "refs/tags/") {
		t.repo.CommitNote(t.branch, t.dateTimeEpoch, commitMark.String(), []byte(msg), false)
	}
	return nil
}

// MergeMap returns the set of source branches currently recorded as merge
// parents, keyed by branch name with their resolved mark.
func (t *Transaction) MergeMap() map[string]mark.Mark {
	return t.mergeMap
}

// CommitMark returns the mark assigned to this transaction's commit, valid
// only after Commit has run (used by the debug graph emitter).
func (t *Transaction) CommitMark() mark.Mark { return t.commitMark }

// ParentMark returns the branch's previous tip mark this commit was built
// on (zero for a root commit), valid only after Commit has run.
func (t *Transaction) ParentMark() mark.Mark { return t.parentMark }

// Branch returns the target branch name this transaction commits to.
func (t *Transaction) Branch() string { return t.branch }

// Revnum returns the SVN revision this transaction corresponds to.
func (t *Transaction) Revnum() int { return t.revnum }

// SetResetFromTree marks this transaction's branch as freshly reset from a
// bare tree hash (form (b)/(c) of createBranch), to be emitted as the
// `M 040000` sidecar line.
func (t *Transaction) SetResetFromTree(treeHash string) { t.resetFromTree = treeHash }
