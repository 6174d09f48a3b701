package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, lines ...string) string {
	path := filepath.Join(t.TempDir(), "repo.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	return logger
}

func TestParseLogFileLinearHistory(t *testing.T) {
	path := writeLog(t,
		"commit refs/heads/master",
		"progress SVN r1 branch master = :42000000",
		"progress SVN r2 branch master = :42000001",
	)
	g := newGraph(testLogger())
	require.NoError(t, g.parseLogFile(path))
	require.Len(t, g.commits, 2)
	assert.Equal(t, []int{42000000}, g.commits[42000001].merges)
}

func TestParseLogFileRecordsMergeMarks(t *testing.T) {
	path := writeLog(t,
		"progress SVN r1 branch master = :42000000",
		"progress SVN r2 branch feature = :42000001",
		"progress SVN r3 branch master = :42000002 # merge from :42000001",
	)
	g := newGraph(testLogger())
	require.NoError(t, g.parseLogFile(path))
	cmt := g.commits[42000002]
	require.NotNil(t, cmt)
	assert.ElementsMatch(t, []int{42000000, 42000001}, cmt.merges)
}

func TestBuildDrawsParentAndMergeEdges(t *testing.T) {
	path := writeLog(t,
		"progress SVN r1 branch master = :100",
		"progress SVN r2 branch feature = :101",
		"progress SVN r3 branch master = :102 # merge from :101",
	)
	g := newGraph(testLogger())
	require.NoError(t, g.parseLogFile(path))
	g.build()

	out := g.graph.String()
	assert.Contains(t, out, "digraph")
	assert.True(t, strings.Contains(out, "p") && strings.Contains(out, "m"), "expected both parent and merge edge labels in graph output")
}

func TestBuildSquashReattachesParentEdge(t *testing.T) {
	path := writeLog(t,
		"progress SVN r1 branch master = :100",
		"progress SVN r2 branch master = :101",
		"progress SVN r3 branch master = :102",
	)
	g := newGraph(testLogger())
	require.NoError(t, g.parseLogFile(path))
	g.squash = true
	g.build()

	assert.True(t, g.commits[100].hasNode)
	assert.False(t, g.commits[101].hasNode, "middle commit on a non-branching run should be squashed away")
	assert.True(t, g.commits[102].hasNode)
}

func TestBuildRevisionRangeFilter(t *testing.T) {
	path := writeLog(t,
		"progress SVN r1 branch master = :100",
		"progress SVN r5 branch master = :101",
		"progress SVN r10 branch master = :102",
	)
	g := newGraph(testLogger())
	require.NoError(t, g.parseLogFile(path))
	g.firstRev, g.lastRev = 5, 10
	g.build()

	assert.False(t, g.commits[100].hasNode)
	assert.True(t, g.commits[101].hasNode)
	assert.True(t, g.commits[102].hasNode)
}

func TestWriteFileRawDot(t *testing.T) {
	path := writeLog(t, "progress SVN r1 branch master = :100")
	g := newGraph(testLogger())
	require.NoError(t, g.parseLogFile(path))
	g.build()

	out := filepath.Join(t.TempDir(), "graph.dot")
	require.NoError(t, g.writeFile(out))
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(content), "digraph")
}
