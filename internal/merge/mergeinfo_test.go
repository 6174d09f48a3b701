package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svn2git-tools/svn2git/internal/svnsource"
)

const singleMergeDiff = `Index: trunk
===================================================================

Property changes on: /trunk
___________________________________________________________________
Added: svn:mergeinfo
## -0,0 +1,1 ##
   Merged /branches/x:r101
`

const emptyMergeinfoDiff = `Property changes on: /trunk
___________________________________________________________________
Added: svn:mergeinfo
## -0,0 +0,0 ##
`

const deleteOnlyDiff = `Property changes on: /trunk
___________________________________________________________________
Deleted: svn:mergeinfo
## -1,1 +0,0 ##
-/branches/x:r50-101
`

const reverseMergedDiff = `Property changes on: /trunk
___________________________________________________________________
Modified: svn:mergeinfo
## -1,1 +1,1 ##
   Reverse-merged /branches/y:r40
`

func TestParseMergeinfoDiffSingleMerge(t *testing.T) {
	e := &Engine{Rules: ruleSet(t), Source: svnsource.NewFakeSource()}
	result, err := e.parseMergeinfoDiff(context.Background(), 200, singleMergeDiff)
	require.NoError(t, err)
	require.Len(t, result.Infos, 1)
	assert.Equal(t, Info{FromBranch: "x", Revnum: 101, ToBranch: "master"}, result.Infos[0])
}

func TestParseMergeinfoDiffAllEmptyHunks(t *testing.T) {
	e := &Engine{Rules: ruleSet(t), Source: svnsource.NewFakeSource()}
	result, err := e.parseMergeinfoDiff(context.Background(), 200, emptyMergeinfoDiff)
	require.NoError(t, err)
	assert.True(t, result.Empty)
	assert.Empty(t, result.Infos)
}

func TestParseMergeinfoDiffDeleteOnly(t *testing.T) {
	e := &Engine{Rules: ruleSet(t), Source: svnsource.NewFakeSource()}
	result, err := e.parseMergeinfoDiff(context.Background(), 200, deleteOnlyDiff)
	require.NoError(t, err)
	assert.True(t, result.Empty)
}

func TestParseMergeinfoDiffReverseMergedDropped(t *testing.T) {
	e := &Engine{Rules: ruleSet(t), Source: svnsource.NewFakeSource()}
	result, err := e.parseMergeinfoDiff(context.Background(), 200, reverseMergedDiff)
	require.NoError(t, err)
	assert.Empty(t, result.Infos)
}

func TestDedupeHighestRev(t *testing.T) {
	in := []Info{
		{FromBranch: "x", Revnum: 10, ToBranch: "master"},
		{FromBranch: "x", Revnum: 50, ToBranch: "master"},
		{FromBranch: "y", Revnum: 5, ToBranch: "master"},
	}
	out := dedupeHighestRev(in)
	require.Len(t, out, 2)
	assert.Equal(t, 50, out[0].Revnum)
}
