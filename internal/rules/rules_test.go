package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `
- path: "^/branches/([^/]+)/(.*)$"
  action: export
  branch: "$1"
  strip: "/branches/$1/"
  min_revision: 1
- path: "^/tags/([^/]+)/(.*)$"
  action: export
  branch: "$1"
  strip: "/tags/$1/"
  annotate: true
- path: "^/trunk/(.*)$"
  action: export
  branch: "master"
  strip: "/trunk/"
- path: "^/vendor/"
  action: recurse
- path: ".*"
  action: ignore
`

func TestParseAndMatchOrder(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, set.Rules(), 5)

	rule, ok := set.Match("/branches/foo/a.txt", 10)
	require.True(t, ok)
	assert.Equal(t, Export, rule.Action)
	assert.Equal(t, "foo", rule.Expand(rule.Branch, "/branches/foo/a.txt"))
	assert.Equal(t, "a.txt", rule.SubPath("/branches/foo/a.txt"))

	rule, ok = set.Match("/trunk/src/main.c", 10)
	require.True(t, ok)
	assert.Equal(t, "master", rule.Expand(rule.Branch, "/trunk/src/main.c"))
	assert.Equal(t, "src/main.c", rule.SubPath("/trunk/src/main.c"))
}

func TestMinRevisionGatesMatch(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	rule, ok := set.Match("/branches/foo/a.txt", 0)
	require.True(t, ok)
	assert.Equal(t, Ignore, rule.Action, "branches rule declares min_revision: 1, so only the catch-all ignore rule matches")
}

func TestFirstMatchWins(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	rule, ok := set.Match("/vendor/openssh/README", 5)
	require.True(t, ok)
	assert.Equal(t, Recurse, rule.Action)
}

func TestUnmatchedFallsThroughToIgnore(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	rule, ok := set.Match("/unrelated/path", 5)
	require.True(t, ok)
	assert.Equal(t, Ignore, rule.Action)
}

func TestInvalidActionRejected(t *testing.T) {
	_, err := Parse([]byte(`
- path: ".*"
  action: bogus
`))
	require.Error(t, err)
}

func TestInvalidPatternRejected(t *testing.T) {
	_, err := Parse([]byte(`
- path: "("
  action: export
`))
	require.Error(t, err)
}

func TestParseBranchpoint(t *testing.T) {
	bp, err := ParseBranchpoint("")
	require.NoError(t, err)
	assert.Equal(t, BranchpointDefault, bp.Kind)

	bp, err = ParseBranchpoint("none")
	require.NoError(t, err)
	assert.Equal(t, BranchpointNone, bp.Kind)

	bp, err = ParseBranchpoint("none@abc123")
	require.NoError(t, err)
	assert.Equal(t, BranchpointTree, bp.Kind)
	assert.Equal(t, "abc123", bp.Tree)

	bp, err = ParseBranchpoint("vendor/x@42")
	require.NoError(t, err)
	assert.Equal(t, BranchpointExplicit, bp.Kind)
	assert.Equal(t, "vendor/x", bp.Branch)
	assert.Equal(t, 42, bp.Rev)

	_, err = ParseBranchpoint("missing-at-sign")
	require.Error(t, err)

	_, err = ParseBranchpoint("vendor/x@notanumber")
	require.Error(t, err)
}
