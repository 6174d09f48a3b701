// Package walker implements the revision-walker / rule-dispatcher: for each
// SVN revision it enumerates path changes, matches them against the rule
// set, and assembles per-target-branch transactions.
package walker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"github.com/svn2git-tools/svn2git/internal/identity"
	"github.com/svn2git-tools/svn2git/internal/merge"
	"github.com/svn2git-tools/svn2git/internal/rules"
	"github.com/svn2git-tools/svn2git/internal/svnsource"
	"github.com/svn2git-tools/svn2git/internal/target"
)

// Options packages the recognized CLI options that affect rule dispatch
// (the rest of the configuration record lives in the top-level config
// package; these are the fields the walker itself consults).
type Options struct {
	SVNBranches bool // materialise recursive dumps on branch creation
	SVNIgnore   bool // translate svn:ignore/svn:global-ignores to .gitignore
	EmptyDirs   bool // emit .gitignore placeholders for empty directories
	PropCheck   bool // warn when blob content sniffs as binary but svn:mime-type is unset or text; no other property is checked
	DebugRules  bool // verbose rule-matching trace
}

// RuleFile pairs a loaded rule set with the repository name it dispatches
// into by default (a rule may override the repository per-match).
type RuleFile struct {
	Repository string
	Rules      *rules.Set
}

// Walker is the RevisionWalker: owns the rule files, the SVN source, the
// identity map, the target repositories, and the merge-inference engine,
// and exports one SVN revision at a time into target-branch commits.
type Walker struct {
	Source     svnsource.Source
	RuleFiles  []RuleFile
	Identities *identity.Map
	Repos      map[string]target.Repository
	Merge      *merge.Engine
	Logger     *logrus.Logger
	Options    Options
	MsgFilter  func(string) string

	// OnCommit, if set, is called once per transaction immediately after it
	// commits — the debug graph emitter's only hook into the walker.
	OnCommit func(repoName string, txn *target.Transaction)

	trees map[string]*fileTree // key: repo+"\x00"+branch
}

func New(source svnsource.Source, ruleFiles []RuleFile, identities *identity.Map, repos map[string]target.Repository, mergeEngine *merge.Engine, logger *logrus.Logger, opts Options) *Walker {
	return &Walker{
		Source:     source,
		RuleFiles:  ruleFiles,
		Identities: identities,
		Repos:      repos,
		Merge:      mergeEngine,
		Logger:     logger,
		Options:    opts,
		trees:      make(map[string]*fileTree),
	}
}

func (w *Walker) treeFor(repo, branch string) *fileTree {
	key := repo + "\x00" + branch
	t, ok := w.trees[key]
	if !ok {
		t = newFileTree()
		w.trees[key] = t
	}
	return t
}

// revisionState accumulates the per-revision bookkeeping the walker needs:
// open transactions (keyed by branch name), which repository owns each,
// the set of target branches touched (for merge-engine gating), whether any
// change carried a mergeinfo property modification, whether a copy-from
// edge was already recorded during dispatch, and which (repo,branch) rule
// buckets have already had their rule-level deletes/renames flushed.
type revisionState struct {
	transactions map[string]*target.Transaction
	txnRepo      map[string]string
	toBranches   []string

	mergeinfoFound   bool
	copyFromRecorded bool

	flushedRules map[string]bool
}

func newRevisionState() *revisionState {
	return &revisionState{
		transactions: make(map[string]*target.Transaction),
		txnRepo:      make(map[string]string),
		flushedRules: make(map[string]bool),
	}
}

func appendUnique(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

// ExportRevision implements §4.7: fetch the change list, dispatch every
// entry in lexicographic path order, flush rule-level deletes/renames,
// invoke the merge-inference engine, and commit every transaction opened
// during the revision. No-op revisions (no transaction ever opened) emit
// nothing.
func (w *Walker) ExportRevision(ctx context.Context, revnum int) error {
	changes, err := w.Source.PathsChanged(ctx, revnum)
	if err != nil {
		return fmt.Errorf("r%d: paths-changed: %w", revnum, err)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	state := newRevisionState()

	for _, c := range changes {
		if err := w.exportEntry(ctx, state, revnum, c); err != nil {
			return err
		}
		if c.MergeinfoMod {
			state.mergeinfoFound = true
		}
	}

	if err := w.flushRuleLevelOps(ctx, state, revnum); err != nil {
		return err
	}

	if len(state.transactions) == 0 {
		return nil
	}

	if w.Merge != nil {
		if err := w.Merge.Process(ctx, revnum, state.toBranches, state.transactions, state.mergeinfoFound, state.copyFromRecorded); err != nil {
			w.Logger.Warnf("r%d: mergeinfo-diff parse failed, continuing without recording a merge: %v", revnum, err)
		}
	}

	props, err := w.Source.RevisionProps(ctx, revnum)
	if err != nil {
		return fmt.Errorf("r%d: revision-proplist: %w", revnum, err)
	}
	author := props.Author
	if w.Identities != nil {
		author = w.Identities.Lookup(props.Author)
	}
	for _, txn := range state.transactions {
		txn.SetAuthor(author, props.Date.Unix(), props.Log)
	}

	touchedRepos := make(map[string]target.Repository)
	for branch, repoName := range state.txnRepo {
		_ = branch
		touchedRepos[repoName] = w.Repos[repoName]
	}
	for _, repo := range touchedRepos {
		if err := repo.EffectiveRepository().Commit(ctx); err != nil {
			return err
		}
	}
	for branch, txn := range state.transactions {
		if err := txn.Commit(ctx, w.MsgFilter); err != nil {
			return err
		}
		if w.OnCommit != nil {
			w.OnCommit(state.txnRepo[branch], txn)
		}
	}
	return nil
}

func (w *Walker) ensureTransaction(ctx context.Context, state *revisionState, repoName, branch, svnPrefix string, revnum int) (*target.Transaction, error) {
	if txn, ok := state.transactions[branch]; ok {
		return txn, nil
	}
	repo, ok := w.Repos[repoName]
	if !ok {
		return nil, fmt.Errorf("r%d: rule references unknown repository %q", revnum, repoName)
	}
	txn, err := repo.NewTransaction(ctx, branch, svnPrefix, revnum)
	if err != nil {
		return nil, err
	}
	state.transactions[branch] = txn
	state.txnRepo[branch] = repoName
	state.toBranches = appendUnique(state.toBranches, branch)
	return txn, nil
}

// matchRule tries every rule file in order, returning each file's first
// matching (rule, repository). Multiple rule files may independently match the same
// path (fanning the same SVN path into more than one target repository).
func (w *Walker) matchRule(path string, revnum int) []matched {
	var out []matched
	for _, rf := range w.RuleFiles {
		if rf.Rules == nil {
			continue
		}
		rule, ok := rf.Rules.Match(path, revnum)
		if !ok {
			continue
		}
		repoName := rf.Repository
		if rule.Repository != "" {
			repoName = rule.Repository
		}
		out = append(out, matched{rule: rule, repo: repoName})
	}
	return out
}

type matched struct {
	rule *rules.Rule
	repo string
}

func isDirChange(c svnsource.PathChange) bool { return c.Kind == svnsource.NodeDir }

// exportEntry implements exportEntry(path, change): find the matching
// rule(s) and dispatch by action, auto-recursing into any changed directory
// that no rule covers.
func (w *Walker) exportEntry(ctx context.Context, state *revisionState, revnum int, c svnsource.PathChange) error {
	matchPath := c.Path
	if isDirChange(c) {
		matchPath = strings.TrimSuffix(matchPath, "/") + "/"
	}

	matches := w.matchRule(matchPath, revnum)
	if len(matches) == 0 {
		if isDirChange(c) {
			return w.autoRecurse(ctx, state, revnum, c)
		}
		if c.Action == svnsource.ActionDelete {
			w.Logger.Warnf("r%d: rule-miss on delete %s, nothing to recurse (file)", revnum, c.Path)
			return nil
		}
		return fmt.Errorf("r%d: no rule matched %s", revnum, c.Path)
	}

	for _, m := range matches {
		if err := w.dispatch(ctx, state, revnum, m.repo, m.rule, matchPath, c); err != nil {
			return err
		}
	}
	return nil
}

// autoRecurse handles any directory change (add, copy, modify or delete)
// that no rule matched directly: enumerate children and dispatch each
// individually.
func (w *Walker) autoRecurse(ctx context.Context, state *revisionState, revnum int, c svnsource.PathChange) error {
	lookupRev := revnum
	if c.Action == svnsource.ActionDelete {
		lookupRev = revnum - 1
	}
	entries, err := w.Source.DirEntries(ctx, lookupRev, c.Path)
	if err != nil {
		return fmt.Errorf("r%d: auto-recurse dir-entries %s: %w", revnum, c.Path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, e := range entries {
		childPath := path.Join(c.Path, e.Name)
		child := svnsource.PathChange{
			Path:   childPath,
			Action: c.Action,
			Kind:   e.Kind,
		}
		if err := w.exportEntry(ctx, state, revnum, child); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) dispatch(ctx context.Context, state *revisionState, revnum int, repoName string, rule *rules.Rule, matchPath string, c svnsource.PathChange) error {
	switch rule.Action {
	case rules.Ignore:
		return nil
	case rules.Recurse:
		entries, err := w.Source.DirEntries(ctx, revnum, c.Path)
		if err != nil {
			return fmt.Errorf("r%d: recurse dir-entries %s: %w", revnum, c.Path, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			child := svnsource.PathChange{
				Path:   path.Join(c.Path, e.Name),
				Action: c.Action,
				Kind:   e.Kind,
			}
			if err := w.exportEntry(ctx, state, revnum, child); err != nil {
				return err
			}
		}
		return nil
	case rules.Export:
		return w.dispatchExport(ctx, state, revnum, repoName, rule, matchPath, c)
	default:
		return fmt.Errorf("r%d: unknown rule action for %s", revnum, c.Path)
	}
}

func (w *Walker) dispatchExport(ctx context.Context, state *revisionState, revnum int, repoName string, rule *rules.Rule, matchPath string, c svnsource.PathChange) error {
	branch := rule.Expand(rule.Branch, matchPath)
	subPath := strings.TrimSuffix(rule.SubPath(matchPath), "/")
	svnPrefix := strings.TrimSuffix(matchPath, subPath)

	if w.Options.DebugRules {
		w.Logger.Debugf("r%d: %s -> repo=%s branch=%s sub=%q action=%c", revnum, c.Path, repoName, branch, subPath, c.Action)
	}

	txn, err := w.ensureTransaction(ctx, state, repoName, branch, svnPrefix, revnum)
	if err != nil {
		return err
	}

	bp, err := rules.ParseBranchpoint(rule.Branchpoint)
	if err != nil {
		return fmt.Errorf("r%d: invalid branchpoint on rule for %s: %w", revnum, c.Path, err)
	}

	// Whole-branch delete: deleting exactly the branch's root with nothing
	// left over.
	if c.Action == svnsource.ActionDelete && subPath == "" {
		repo := w.Repos[repoName]
		delete(w.trees, repoName+"\x00"+branch)
		return repo.DeleteBranch(ctx, branch, revnum)
	}

	if c.CopyFromPath != "" && subPath == "" {
		// Branch copy or reseat: the whole branch prefix was copied from
		// another (or the same) branch's prefix.
		fromBranch, fromRev := w.translateCopySource(c.CopyFromPath, c.CopyFromRev, revnum)
		repo := w.Repos[repoName]
		switch bp.Kind {
		case rules.BranchpointNone:
			if err := repo.CreateBranchFromTree(ctx, branch, revnum, ""); err != nil {
				return err
			}
		case rules.BranchpointTree:
			if err := repo.CreateBranchFromTree(ctx, branch, revnum, bp.Tree); err != nil {
				return err
			}
		case rules.BranchpointExplicit:
			if err := repo.CreateBranch(ctx, branch, revnum, bp.Branch, bp.Rev); err != nil {
				return err
			}
		default:
			if err := repo.CreateBranch(ctx, branch, revnum, fromBranch, fromRev); err != nil {
				return err
			}
		}
		if w.Options.SVNBranches {
			return w.materializeTree(ctx, state, revnum, repoName, branch, txn, c.Path, "")
		}
		return nil
	}

	if c.CopyFromPath != "" && subPath != "" {
		// Partial branch copy: source is a subdirectory of its branch.
		// Treat as content modification, recording a merge edge for
		// history tracking subject to the allowed source/target families.
		fromBranch, fromRev := w.translateCopySource(c.CopyFromPath, c.CopyFromRev, revnum)
		if w.partialCopyAllowed(fromBranch, branch) {
			if err := txn.NoteCopyFromBranch(ctx, fromBranch, fromRev, true); err == nil {
				state.copyFromRecorded = true
			}
		}
		return w.materializeTree(ctx, state, revnum, repoName, branch, txn, c.Path, subPath)
	}

	if c.Action == svnsource.ActionDelete {
		txn.DeleteFile(subPath)
		w.treeFor(repoName, branch).deleteSub(subPath)
		return nil
	}

	// Replace-with-empty-path and plain modify/add share the same shape
	// once the delete sidecar (always needed for a directory, since its
	// prior content must be cleared before re-materialising) is written.
	if c.Kind == svnsource.NodeDir {
		txn.DeleteFile(subPath)
		return w.materializeTree(ctx, state, revnum, repoName, branch, txn, c.Path, subPath)
	}
	if c.Action == svnsource.ActionReplace {
		txn.DeleteFile(subPath)
		w.treeFor(repoName, branch).deleteSub(subPath)
	}
	return w.dumpBlob(ctx, repoName, branch, txn, revnum, c.Path, subPath)
}

// translateCopySource maps an SVN copy-from path/rev into the branch name
// and revision it resolves to under the rule set, falling back to the raw
// values when no rule matches (the caller treats an unresolved source the
// same way Transaction.NoteCopyFromBranch treats an unknown branch: a
// warning, not a fatal error).
func (w *Walker) translateCopySource(fromPath string, fromRev int, revnum int) (string, int) {
	matches := w.matchRule(fromPath+"/", fromRev)
	if len(matches) == 0 {
		matches = w.matchRule(fromPath, fromRev)
	}
	if len(matches) == 0 {
		return "", fromRev
	}
	return matches[0].rule.Expand(matches[0].rule.Branch, fromPath), fromRev
}

// partialCopyAllowed implements the merge-edge eligibility filter from
// §4.7.1: only copy from master/projects/user/vendor into master/projects/
// user; never from stable; vendor targets only accept vendor→vendor or
// master→vendor; never user→master.
func (w *Walker) partialCopyAllowed(fromBranch, toBranch string) bool {
	if strings.HasPrefix(fromBranch, "stable/") {
		return false
	}
	isVendorTarget := strings.HasPrefix(toBranch, "vendor/") || strings.HasPrefix(toBranch, "vendor-sys/")
	if isVendorTarget {
		isVendorSource := strings.HasPrefix(fromBranch, "vendor/") || strings.HasPrefix(fromBranch, "vendor-sys/")
		return isVendorSource || fromBranch == "master"
	}
	isAllowedTarget := toBranch == "master" || strings.HasPrefix(toBranch, "projects/") || strings.HasPrefix(toBranch, "user/")
	if !isAllowedTarget {
		return false
	}
	if strings.HasPrefix(fromBranch, "user/") && toBranch == "master" {
		return false
	}
	isAllowedSource := fromBranch == "master" || strings.HasPrefix(fromBranch, "projects/") ||
		strings.HasPrefix(fromBranch, "user/") || strings.HasPrefix(fromBranch, "vendor/")
	return isAllowedSource
}

func (w *Walker) dumpBlob(ctx context.Context, repoName, branch string, txn *target.Transaction, revnum int, svnPath, subPath string) error {
	special, _, err := w.Source.NodeProp(ctx, revnum, svnPath, "svn:special")
	if err != nil {
		return err
	}
	length, err := w.Source.FileLength(ctx, revnum, svnPath)
	if err != nil {
		return err
	}
	rc, err := w.Source.FileContents(ctx, revnum, svnPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := "100644"
	if executable, _, _ := w.Source.NodeProp(ctx, revnum, svnPath, "svn:executable"); executable != "" {
		mode = "100755"
	}

	if special != "" {
		// Symlinks are encoded as a blob beginning with "link " (5 bytes);
		// strip the prefix and use file mode 120000.
		buf := make([]byte, length)
		if _, err := io.ReadFull(rc, buf); err != nil {
			return err
		}
		content := strings.TrimPrefix(string(buf), "link ")
		w2, err := txn.AddFile(ctx, subPath, "120000", int64(len(content)))
		if err != nil {
			return err
		}
		if _, err := w2.Write([]byte(content)); err != nil {
			return err
		}
		w.treeFor(repoName, branch).addFile(subPath)
		return w2.Close()
	}

	body := io.Reader(rc)
	if w.Options.PropCheck {
		const sniffLen = 261 // longest header filetype.Match needs to look at
		peek := make([]byte, sniffLen)
		n, _ := io.ReadFull(rc, peek)
		peek = peek[:n]
		w.checkBlobType(ctx, revnum, svnPath, peek)
		body = io.MultiReader(bytes.NewReader(peek), rc)
	}

	w2, err := txn.AddFile(ctx, subPath, mode, length)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w2, body); err != nil {
		return err
	}
	w.treeFor(repoName, branch).addFile(subPath)
	return w2.Close()
}

// checkBlobType sniffs a blob's content and warns when it looks binary but
// svn:mime-type says otherwise (or is unset) — the same declared-vs-detected
// mismatch the teacher's compression-details check flagged, repointed from
// P4 filetype heuristics to a content-sniffing library.
func (w *Walker) checkBlobType(ctx context.Context, revnum int, svnPath string, sample []byte) {
	if len(sample) == 0 {
		return
	}
	kind, err := filetype.Match(sample)
	if err != nil || kind == filetype.Unknown {
		return
	}
	mimeProp, _, err := w.Source.NodeProp(ctx, revnum, svnPath, "svn:mime-type")
	if err != nil {
		return
	}
	if mimeProp == "" || strings.HasPrefix(mimeProp, "text/") {
		w.Logger.Warnf("r%d: %s sniffed as %s (%s) but svn:mime-type is %q", revnum, svnPath, kind.Extension, kind.MIME.Value, mimeProp)
	}
}

// materializeTree recursively dumps a directory's current contents (used
// for branch-copy materialisation and directory add/modify). The directory
// add/modify caller accumulates the deleteFile sidecar that clears prior
// content at subPath first; the branch-copy callers do not.
func (w *Walker) materializeTree(ctx context.Context, state *revisionState, revnum int, repoName, branch string, txn *target.Transaction, svnDir, subDir string) error {
	entries, err := w.Source.DirEntries(ctx, revnum, svnDir)
	if err != nil {
		return fmt.Errorf("r%d: materialize dir-entries %s: %w", revnum, svnDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	if w.Options.SVNIgnore {
		if err := w.materializeGitignore(ctx, repoName, branch, txn, revnum, svnDir, subDir); err != nil {
			return err
		}
	}

	if len(entries) == 0 {
		if w.Options.EmptyDirs {
			return w.emitEmptyDirPlaceholder(ctx, txn, subDir)
		}
		return nil
	}

	for _, e := range entries {
		childSVN := path.Join(svnDir, e.Name)
		childSub := path.Join(subDir, e.Name)
		if e.Kind == svnsource.NodeDir {
			if err := w.materializeTree(ctx, state, revnum, repoName, branch, txn, childSVN, childSub); err != nil {
				return err
			}
			continue
		}
		if err := w.dumpBlob(ctx, repoName, branch, txn, revnum, childSVN, childSub); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) materializeGitignore(ctx context.Context, repoName, branch string, txn *target.Transaction, revnum int, svnDir, subDir string) error {
	ignore, ok, err := w.Source.NodeProp(ctx, revnum, svnDir, "svn:ignore")
	if err != nil {
		return err
	}
	global, ok2, err := w.Source.NodeProp(ctx, revnum, svnDir, "svn:global-ignores")
	if err != nil {
		return err
	}
	if !ok && !ok2 {
		return nil
	}
	content := strings.TrimSpace(ignore + "\n" + global)
	if content == "" {
		return nil
	}
	targetPath := path.Join(subDir, ".gitignore")
	body := content + "\n"
	w2, err := txn.AddFile(ctx, targetPath, "100644", int64(len(body)))
	if err != nil {
		return err
	}
	if _, err := w2.Write([]byte(body)); err != nil {
		return err
	}
	w.treeFor(repoName, branch).addFile(targetPath)
	return w2.Close()
}

func (w *Walker) emitEmptyDirPlaceholder(ctx context.Context, txn *target.Transaction, subDir string) error {
	targetPath := path.Join(subDir, ".gitignore")
	w2, err := txn.AddFile(ctx, targetPath, "100644", 0)
	if err != nil {
		return err
	}
	return w2.Close()
}

// flushRuleLevelOps applies the Deletes/Renames of every rule whose Branch,
// expanded against an empty path, names a branch with an open transaction
// this revision, once per (repository, branch, rule) regardless of how many
// individual paths matched. Whether the rule itself matched any path in this
// revision is not checked.
func (w *Walker) flushRuleLevelOps(ctx context.Context, state *revisionState, revnum int) error {
	for branch, repoName := range state.txnRepo {
		for _, rf := range w.RuleFiles {
			if rf.Rules == nil {
				continue
			}
			for _, rule := range rf.Rules.Rules() {
				if len(rule.Deletes) == 0 && len(rule.Renames) == 0 {
					continue
				}
				key := repoName + "\x00" + branch + "\x00" + rule.Branch
				if state.flushedRules[key] {
					continue
				}
				ruleBranch := rule.Expand(rule.Branch, "")
				if ruleBranch != branch {
					continue
				}
				state.flushedRules[key] = true
				txn := state.transactions[branch]
				for _, d := range rule.Deletes {
					txn.DeleteFile(d)
				}
				for _, rp := range rule.Renames {
					txn.RenameFile(rp.From, rp.To)
				}
			}
		}
	}
	_ = revnum
	return nil
}
