package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svn2git-tools/svn2git/internal/fastimport"
	"github.com/svn2git-tools/svn2git/internal/rules"
	"github.com/svn2git-tools/svn2git/internal/svnsource"
	"github.com/svn2git-tools/svn2git/internal/target"
	"github.com/svn2git-tools/svn2git/internal/walker"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	return logger
}

func newTestRepo(t *testing.T, dir, name string) *target.TargetRepository {
	cache := fastimport.NewCache(testLogger(), 10)
	return target.NewTargetRepository(testLogger(), name,
		filepath.Join(dir, name+".git"),
		filepath.Join(dir, "marks-"+name),
		filepath.Join(dir, "log-"+name),
		cache, 42000000, 1000000000, 25000, 30, false, false, false, true)
}

func testRuleSet(t *testing.T) *rules.Set {
	set, err := rules.Parse([]byte(`
- path: "^trunk/(.*)$"
  action: export
  branch: "master"
  strip: "trunk/"
`))
	require.NoError(t, err)
	return set
}

func TestEffectiveTargetsDedupesForwardedNames(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t, dir, "one")
	fwd := target.NewForwardingRepository("one-fw", repo, "sub/")

	d := &Driver{Repos: map[string]target.Repository{
		"one":    repo,
		"one-fw": fwd,
	}}

	targets := d.effectiveTargets()
	assert.Len(t, targets, 1)
	assert.Equal(t, repo, targets[0])
}

func TestRunWithNoRevisionsClosesEveryTarget(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t, dir, "one")
	source := svnsource.NewFakeSource()

	w := walker.New(source, []walker.RuleFile{{Repository: "one", Rules: testRuleSet(t)}}, nil,
		map[string]target.Repository{"one": repo}, nil, testLogger(), walker.Options{})

	d := &Driver{
		Logger: testLogger(),
		Source: source,
		Walker: w,
		Repos:  map[string]target.Repository{"one": repo},
		Cutoff: 1,
	}
	err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, repo.OutstandingTxnCount())
}

func TestRunWritesGraphFileWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t, dir, "one")
	source := svnsource.NewFakeSource()
	source.AddRevision(1, svnsource.RevProps{Author: "alice", Date: time.Unix(1000, 0), Log: "add a"},
		svnsource.FakeEntry{Rev: 1, Path: "trunk/a.txt", Action: svnsource.ActionAdd, Kind: svnsource.NodeFile, Content: "hi\n"})

	w := walker.New(source, []walker.RuleFile{{Repository: "one", Rules: testRuleSet(t)}}, nil,
		map[string]target.Repository{"one": repo}, nil, testLogger(), walker.Options{})

	graphFile := filepath.Join(dir, "graph.dot")
	d := &Driver{
		Logger:    testLogger(),
		Source:    source,
		Walker:    w,
		Repos:     map[string]target.Repository{"one": repo},
		Cutoff:    1,
		GraphFile: graphFile,
	}
	require.NoError(t, d.Run(context.Background()))

	content, err := os.ReadFile(graphFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "digraph")
}
