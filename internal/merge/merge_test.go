package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svn2git-tools/svn2git/internal/fastimport"
	"github.com/svn2git-tools/svn2git/internal/rules"
	"github.com/svn2git-tools/svn2git/internal/svnsource"
	"github.com/svn2git-tools/svn2git/internal/target"
	"github.com/sirupsen/logrus"
	"os"
	"path/filepath"
)

func newRepo(t *testing.T) *target.TargetRepository {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	cache := fastimport.NewCache(logger, 10)
	return target.NewTargetRepository(logger, "one",
		filepath.Join(dir, "one.git"),
		filepath.Join(dir, "marks-one"),
		filepath.Join(dir, "log-one"),
		cache, 42000000, 1000000000, 25000, 30, false, false, false, true)
}

func ruleSet(t *testing.T) *rules.Set {
	set, err := rules.Parse([]byte(`
- path: "^/branches/([^/]+)/?.*$"
  action: export
  branch: "$1"
- path: "^/trunk/?.*$"
  action: export
  branch: "master"
`))
	require.NoError(t, err)
	return set
}

// E2E C shape: a single mergeinfo-diff match should apply via the public
// engine chain (step 9) once force/skip/manual tables are all empty and
// mergeinfoFound is set.
func TestProcessAppliesParsedMergeinfo(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	repo.EnsureBranch("x", 1).Append(101, 555)
	repo.EnsureBranch("master", 200)

	txn, err := repo.NewTransaction(ctx, "master", "/trunk", 200)
	require.NoError(t, err)

	src := svnsource.NewFakeSource()
	src.SetPropertyDiff(200, "Property changes on: /trunk\n___________________________________________________________________\nAdded: svn:mergeinfo\n## -0,0 +1,1 ##\n   Merged /branches/x:r101\n")

	engine := &Engine{
		Source: src,
		Rules:  ruleSet(t),
		Tables: NewTables(),
	}

	err = engine.Process(ctx, 200, []string{"master"}, map[string]*target.Transaction{"master": txn}, true, false)
	require.NoError(t, err)
	assert.Contains(t, txn.MergeMap(), "x")
}

func TestProcessSkipsWhenNotSingleTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	repo.EnsureBranch("master", 1)
	txnA, err := repo.NewTransaction(ctx, "master", "/trunk", 5)
	require.NoError(t, err)

	src := svnsource.NewFakeSource()
	engine := &Engine{Source: src, Rules: ruleSet(t), Tables: NewTables()}

	err = engine.Process(ctx, 5, []string{"master", "x"}, map[string]*target.Transaction{"master": txnA}, true, false)
	require.NoError(t, err)
	assert.Empty(t, txnA.MergeMap())
}

func TestProcessForceTableShortCircuits(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	repo.EnsureBranch("x", 1).Append(101, 777)
	repo.EnsureBranch("master", 200)
	txn, err := repo.NewTransaction(ctx, "master", "/trunk", 200)
	require.NoError(t, err)

	tables := NewTables()
	tables.Force[200] = []Info{{FromBranch: "x", Revnum: 101, ToBranch: "master"}}

	engine := &Engine{Source: svnsource.NewFakeSource(), Rules: ruleSet(t), Tables: tables}
	err = engine.Process(ctx, 200, []string{"master"}, map[string]*target.Transaction{"master": txn}, false, false)
	require.NoError(t, err)
	assert.Contains(t, txn.MergeMap(), "x")
}

func TestIsAllowedTargetAndDisallowedSource(t *testing.T) {
	e := &Engine{AllowedTagNames: []string{"refs/tags/release/9.0.0"}}
	assert.True(t, e.isAllowedTarget("master"))
	assert.True(t, e.isAllowedTarget("projects/foo"))
	assert.True(t, e.isAllowedTarget("vendor/openssh"))
	assert.True(t, e.isAllowedTarget("refs/tags/release/9.0.0"))
	assert.False(t, e.isAllowedTarget("stable/9"))

	assert.True(t, e.isDisallowedSource("user/bob/feature"))
	assert.False(t, e.isDisallowedSource("vendor/x"))
}

func TestAllStableOrReleng(t *testing.T) {
	assert.True(t, allStableOrReleng([]string{"stable/9", "releng/9.1"}))
	assert.False(t, allStableOrReleng([]string{"stable/9", "master"}))
	assert.False(t, allStableOrReleng(nil))
}
