package target

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/svn2git-tools/svn2git/internal/fastimport"
	"github.com/svn2git-tools/svn2git/internal/mark"
)

// Repository is the tagged-variant operation set shared by TargetRepository
// (Direct) and ForwardingRepository (Forwarding) — see the design note on
// replacing the source's raw-pointer repository inheritance with an
// interface over two concrete variants.
type Repository interface {
	Name() string
	RepoPrefix() string
	EffectiveRepository() *TargetRepository
	NewTransaction(ctx context.Context, branch, svnPrefix string, revnum int) (*Transaction, error)
	CreateBranch(ctx context.Context, branch string, revnum int, fromBranch string, fromRev int) error
	CreateBranchFromTree(ctx context.Context, branch string, revnum int, treeHash string) error
	CreateBranchFromTreeAndParent(ctx context.Context, branch string, revnum int, treeHash, parentBranch string, parentRev int) error
	DeleteBranch(ctx context.Context, branch string, revnum int) error
}

// DelayedNote is a (datetime, content) pair accumulated across the run and
// stably sorted by datetime before being emitted at shutdown so
// refs/notes/commits has monotonically increasing committer dates.
type DelayedNote struct {
	DatetimeEpoch int64
	Commit        string
	Content       []byte
	Append        bool
}

// TargetRepository is the Direct variant of Repository: it owns the branch
// map, annotated tags, branch notes, and the FastImportProcess that the
// child writes to.
type TargetRepository struct {
	logger *logrus.Logger

	name   string
	cache  *fastimport.Cache
	alloc  *mark.Allocator

	commitInterval int
	addMetadata    bool
	addMetadataNotes bool

	branches      map[string]*Branch
	annotatedTags map[string]*AnnotatedTag
	branchNotes   map[string][]byte

	pendingDeletedBranches []byte
	pendingResetBranches   []byte
	pendingTreeReset       map[string]string
	deletedBranchNames     map[string]bool
	resetBranchNames       map[string]bool

	delayedNotes []DelayedNote

	commitCounter       int
	outstandingTxnCount int

	repoDir, marksFile, logFile string
	dryRun, createDump          bool
	fastImportTimeout           int
}

// NewTargetRepository constructs a Direct repository. The fast-import child
// is not started until the first transaction touches it (via the
// ProcessCache).
func NewTargetRepository(logger *logrus.Logger, name, repoDir, marksFile, logFile string, cache *fastimport.Cache, initialMark, maxMark, commitInterval, fastImportTimeout int, addMetadata, addMetadataNotes, dryRun, createDump bool) *TargetRepository {
	return &TargetRepository{
		logger:             logger,
		name:               name,
		cache:              cache,
		alloc:              mark.NewAllocator(logger, name, initialMark, maxMark),
		commitInterval:     commitInterval,
		addMetadata:        addMetadata,
		addMetadataNotes:   addMetadataNotes,
		branches:           make(map[string]*Branch),
		annotatedTags:      make(map[string]*AnnotatedTag),
		branchNotes:        make(map[string][]byte),
		pendingTreeReset:   make(map[string]string),
		deletedBranchNames: make(map[string]bool),
		resetBranchNames:   make(map[string]bool),
		repoDir:            repoDir,
		marksFile:          marksFile,
		logFile:            logFile,
		dryRun:             dryRun,
		createDump:         createDump,
		fastImportTimeout:  fastImportTimeout,
	}
}

func (r *TargetRepository) Name() string                       { return r.name }
func (r *TargetRepository) RepoPrefix() string                  { return "" }
func (r *TargetRepository) EffectiveRepository() *TargetRepository { return r }

func (r *TargetRepository) process(ctx context.Context) (*fastimport.Process, error) {
	return r.cache.Touch(ctx, r.name, func() *fastimport.Process {
		return fastimport.New(r.logger, r.repoDir, r.marksFile, r.logFile, r.fastImportTimeout, r.dryRun, r.createDump)
	})
}

// NewTransaction begins a commit on (branch, revnum). A reference to an
// unknown branch is allowed and only warned about: the branch is created
// lazily on its first commit. Every commitInterval-th transaction triggers a
// checkpoint to flush the marks file to disk.
func (r *TargetRepository) NewTransaction(ctx context.Context, branch, svnPrefix string, revnum int) (*Transaction, error) {
	if _, ok := r.branches[branch]; !ok {
		r.logger.Warnf("%s: transaction references unknown branch %q at r%d (will be created on commit)", r.name, branch, revnum)
	}

	r.commitCounter++
	if r.commitCounter%r.commitInterval == 0 {
		proc, err := r.process(ctx)
		if err != nil {
			return nil, err
		}
		if err := proc.Checkpoint(); err != nil {
			return nil, err
		}
	}

	r.outstandingTxnCount++
	txn := newTransaction(r, branch, svnPrefix, revnum)
	if treeHash, ok := r.pendingTreeReset[branch]; ok {
		txn.resetFromTree = treeHash
		delete(r.pendingTreeReset, branch)
	}
	return txn, nil
}

func (r *TargetRepository) forgetTransaction() {
	r.outstandingTxnCount--
	if r.outstandingTxnCount == 0 {
		r.alloc.ResetBlobMarks()
	}
}

// CreateBranch covers form (a) of createBranch, branch-from-branch; the
// tree-hash forms are CreateBranchFromTree and CreateBranchFromTreeAndParent.
func (r *TargetRepository) CreateBranch(ctx context.Context, branch string, revnum int, fromBranch string, fromRev int) error {
	return r.createBranch(ctx, branch, revnum, fromBranch, fromRev, "", "")
}

// CreateBranchFromTree implements form (b): reset from a tree hash with no
// parent commit. The tree hash is recorded as resetFromTree and emitted as
// an `M 040000 <hash>` sidecar on the branch's next commit.
func (r *TargetRepository) CreateBranchFromTree(ctx context.Context, branch string, revnum int, treeHash string) error {
	return r.createBranch(ctx, branch, revnum, "", 0, treeHash, "")
}

// CreateBranchFromTreeAndParent implements form (c): reset from a tree hash
// but still recording a parent branch/commit for merge-base purposes.
func (r *TargetRepository) CreateBranchFromTreeAndParent(ctx context.Context, branch string, revnum int, treeHash, parentBranch string, parentRev int) error {
	return r.createBranch(ctx, branch, revnum, parentBranch, parentRev, treeHash, "")
}

func (r *TargetRepository) createBranch(ctx context.Context, branch string, revnum int, fromBranch string, fromRev int, treeHash string, branchFromDesc string) error {
	var fromMark mark.Mark
	if fromBranch != "" {
		src, ok := r.branches[fromBranch]
		if !ok {
			r.logger.Warnf("%s: createBranch %s <- unknown source branch %s", r.name, branch, fromBranch)
			fromMark = -1
		} else {
			fromMark = src.MarkFrom(fromRev)
		}
	}

	ref := branchRef(branch)
	var buf strings.Builder
	fmt.Fprintf(&buf, "reset %s\n", ref)
	if treeHash != "" {
		// the resetFromTree sidecar is written on the branch's next commit,
		// not here; the reset command itself still needs a `from` when a
		// parent branch/mark is also known.
		if fromMark > 0 {
			fmt.Fprintf(&buf, "from %s\n", fromMark)
		}
	} else if fromMark != 0 && fromMark != -1 {
		fmt.Fprintf(&buf, "from %s\n", fromMark)
	}
	fmt.Fprintf(&buf, "\nprogress SVN r%d branch %s = %s\n\n", revnum, branch, refDesc(fromMark, branchFromDesc))
	r.pendingResetBranches = append(r.pendingResetBranches, []byte(buf.String())...)

	existing, known := r.branches[branch]
	b := NewBranch(revnum)
	if known {
		b.Note = existing.Note
	} else if fromBranch != "" {
		if src, ok := r.branches[fromBranch]; ok {
			b.Note = src.Note
		}
	}
	b.Commits = append(b.Commits, revnum)
	b.Marks = append(b.Marks, fromMarkOrZero(fromMark))
	r.branches[branch] = b
	r.resetBranchNames[ref] = true

	if treeHash != "" {
		r.pendingTreeReset[branch] = treeHash
	}
	_ = ctx
	return nil
}

func fromMarkOrZero(m mark.Mark) mark.Mark {
	if m < 0 {
		return 0
	}
	return m
}

func refDesc(m mark.Mark, desc string) string {
	if desc != "" {
		return desc
	}
	return m.String()
}

func branchRef(branch string) string {
	if strings.HasPrefix(branch, "refs/") {
		return branch
	}
	return "refs/heads/" + branch
}

// DeleteBranch resets branch to the null SHA. If the branch had content, a
// backup ref is written first so history is not unreachable garbage the
// instant the ref moves.
func (r *TargetRepository) DeleteBranch(ctx context.Context, branch string, revnum int) error {
	ref := branchRef(branch)
	b, known := r.branches[branch]
	if known && b.LastMark() != 0 {
		backupRef := fmt.Sprintf("refs/tags/backups/%s@%d", branch, revnum)
		if !strings.HasPrefix(ref, "refs/heads/") {
			backupRef = fmt.Sprintf("refs/backups/r%d%s", revnum, strings.TrimPrefix(ref, "refs"))
		}
		r.pendingDeletedBranches = append(r.pendingDeletedBranches,
			[]byte(fmt.Sprintf("reset %s\nfrom %s\n\n", backupRef, b.LastMark()))...)
	}
	r.pendingDeletedBranches = append(r.pendingDeletedBranches,
		[]byte(fmt.Sprintf("reset %s\nfrom 0000000000000000000000000000000000000000\n\n", ref))...)
	r.deletedBranchNames[ref] = true
	delete(r.branches, branch)
	_ = ctx
	return nil
}

// Commit flushes pendingDeletedBranches then pendingResetBranches to the
// fast-import child, then prunes any annotated tag whose supporting ref was
// deleted-but-not-recreated in this same flush.
func (r *TargetRepository) Commit(ctx context.Context) error {
	proc, err := r.process(ctx)
	if err != nil {
		return err
	}
	if len(r.pendingDeletedBranches) > 0 {
		if err := proc.Write(r.pendingDeletedBranches); err != nil {
			return err
		}
		r.pendingDeletedBranches = nil
	}
	if len(r.pendingResetBranches) > 0 {
		if err := proc.Write(r.pendingResetBranches); err != nil {
			return err
		}
		r.pendingResetBranches = nil
	}
	for tagName, tag := range r.annotatedTags {
		ref := branchRef(tag.SupportingRef)
		if r.deletedBranchNames[ref] && !r.resetBranchNames[ref] {
			delete(r.annotatedTags, tagName)
		}
	}
	return nil
}

// FinalizeTags sorts annotated tag names lexicographically and writes each
// tag block; optionally enqueues a metadata note.
func (r *TargetRepository) FinalizeTags(ctx context.Context) error {
	proc, err := r.process(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(r.annotatedTags))
	for name := range r.annotatedTags {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tag := r.annotatedTags[name]
		b, ok := r.branches[tag.SupportingRef]
		if !ok {
			r.logger.Warnf("%s: annotated tag %s references unknown branch %s", r.name, name, tag.SupportingRef)
			continue
		}
		targetMark := b.MarkFrom(tag.Revnum)
		msg := tag.Log
		if r.addMetadata {
			msg = fmt.Sprintf("%s\n\n[svn path=%s; revision=%d]\n", msg, tag.SvnPrefix, tag.Revnum)
		}
		var buf strings.Builder
		fmt.Fprintf(&buf, "tag %s\nfrom %s\ntagger %s %d +0000\ndata %d\n%s\n",
			name, targetMark, tag.Author, tag.DatetimeEpoch, len(msg), msg)
		if err := proc.Write([]byte(buf.String())); err != nil {
			return err
		}
		if r.addMetadataNotes {
			r.delayedNotes = append(r.delayedNotes, DelayedNote{
				DatetimeEpoch: tag.DatetimeEpoch,
				Commit:        targetMark.String(),
				Content:       []byte(msg),
			})
		}
	}
	return nil
}

// SaveBranchNotes stably sorts the delayed-notes queue by datetime and
// emits it as a sequence of inline notes on refs/notes/commits.
func (r *TargetRepository) SaveBranchNotes(ctx context.Context) error {
	if len(r.delayedNotes) == 0 {
		return nil
	}
	proc, err := r.process(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(r.delayedNotes, func(i, j int) bool {
		return r.delayedNotes[i].DatetimeEpoch < r.delayedNotes[j].DatetimeEpoch
	})
	for _, note := range r.delayedNotes {
		var buf strings.Builder
		fmt.Fprintf(&buf, "commit refs/notes/commits\n")
		fmt.Fprintf(&buf, "committer %s %d +0000\n", "svn2git <svn2git@localhost>", note.DatetimeEpoch)
		fmt.Fprintf(&buf, "data %d\nmetadata note\n", len("metadata note"))
		fmt.Fprintf(&buf, "N inline %s\ndata %d\n%s\n", note.Commit, len(note.Content), note.Content)
		if err := proc.Write([]byte(buf.String())); err != nil {
			return err
		}
	}
	r.delayedNotes = nil
	return nil
}

// Close flushes and terminates the repository's fast-import child.
func (r *TargetRepository) Close(ctx context.Context) error {
	proc, err := r.process(ctx)
	if err != nil {
		return err
	}
	return proc.Close(ctx)
}

// OutstandingTxnCount exposes the shutdown invariant check (must be 0).
func (r *TargetRepository) OutstandingTxnCount() int { return r.outstandingTxnCount }

// Branches exposes read access for the resume logic and tests.
func (r *TargetRepository) Branches() map[string]*Branch { return r.branches }

// EnsureBranch returns (creating if necessary) the named branch, used by
// resume to reconstruct state from the log file.
func (r *TargetRepository) EnsureBranch(name string, creationRevnum int) *Branch {
	b, ok := r.branches[name]
	if !ok {
		b = NewBranch(creationRevnum)
		r.branches[name] = b
	}
	return b
}

// RecordAnnotatedTag creates or overwrites a tag entry, called whenever a
// rule with annotate=true matches.
func (r *TargetRepository) RecordAnnotatedTag(name string, tag AnnotatedTag) {
	r.annotatedTags[name] = &tag
}

// CommitNote accumulates (or replaces) a branch-level note and enqueues a
// delayed note transaction.
func (r *TargetRepository) CommitNote(branch string, datetimeEpoch int64, commit string, content []byte, appendNote bool) {
	if appendNote {
		r.branchNotes[branch] = append(r.branchNotes[branch], content...)
	} else {
		r.branchNotes[branch] = content
	}
	r.delayedNotes = append(r.delayedNotes, DelayedNote{
		DatetimeEpoch: datetimeEpoch,
		Commit:        commit,
		Content:       content,
		Append:        appendNote,
	})
}

var _ Repository = (*TargetRepository)(nil)
