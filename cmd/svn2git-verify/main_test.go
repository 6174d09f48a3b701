package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, lines ...string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestCheckMarksFileAcceptsDisjointRanges(t *testing.T) {
	path := writeFile(t, "marks",
		":42000000 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		":42000001 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		":999999997 cccccccccccccccccccccccccccccccccccccccc",
		":999999998 dddddddddddddddddddddddddddddddddddddddd",
		":999999999 eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	)
	violations, err := checkMarksFile(path, 42000000, 1000000000)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckMarksFileAcceptsCommitOnlyFileWithNoBlobsYet(t *testing.T) {
	path := writeFile(t, "marks",
		":42000000 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		":42000001 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		":42000002 cccccccccccccccccccccccccccccccccccccccc",
	)
	violations, err := checkMarksFile(path, 42000000, 1000000000)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckMarksFileRejectsOverlappingRanges(t *testing.T) {
	// initialMark=100, maxMark=105 (maxMark-1=104): one contiguous run
	// spans the whole configured mark space, so the forward commit scan
	// and the backward blob scan both claim every mark.
	path := writeFile(t, "marks",
		":100 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		":101 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		":102 cccccccccccccccccccccccccccccccccccccccc",
		":103 dddddddddddddddddddddddddddddddddddddddd",
		":104 eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	)
	violations, err := checkMarksFile(path, 100, 105)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "mark-namespace-disjointness", violations[0].Rule)
	assert.Contains(t, violations[0].Detail, "overlap or touch")
}

func TestCheckMarksFileRejectsStrayMarkBetweenRanges(t *testing.T) {
	path := writeFile(t, "marks",
		":42000000 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		":42000001 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		":42000500 cccccccccccccccccccccccccccccccccccccccc",
		":999999998 dddddddddddddddddddddddddddddddddddddddd",
		":999999999 eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	)
	violations, err := checkMarksFile(path, 42000000, 1000000000)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Detail, "belong to neither")
}

func TestCheckMarksFileRejectsWrongInitialMark(t *testing.T) {
	path := writeFile(t, "marks",
		":42000005 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	)
	violations, err := checkMarksFile(path, 42000000, 1000000000)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Detail, "not the configured initial mark")
}

func TestCheckLogFileAcceptsMonotoneHistory(t *testing.T) {
	path := writeFile(t, "log",
		"progress SVN r1 branch master = :42000000",
		"progress SVN r2 branch master = :42000001",
		"progress SVN r3 branch feature = :42000002",
		"progress SVN r4 branch master = :42000003",
	)
	violations, err := checkLogFile(path)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckLogFileRejectsRevisionGoingBackwards(t *testing.T) {
	path := writeFile(t, "log",
		"progress SVN r5 branch master = :42000000",
		"progress SVN r3 branch master = :42000001",
	)
	violations, err := checkLogFile(path)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "mark-monotonicity", violations[0].Rule)
	assert.Contains(t, violations[0].Detail, "appears after")
}

func TestCheckLogFileRejectsNonIncreasingMark(t *testing.T) {
	path := writeFile(t, "log",
		"progress SVN r1 branch master = :42000005",
		"progress SVN r2 branch master = :42000003",
	)
	violations, err := checkLogFile(path)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Detail, "does not strictly increase")
}
