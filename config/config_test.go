package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	opts := loadOrFail(t, "")
	assert.Equal(t, DefaultCommitInterval, opts.CommitInterval)
	assert.Equal(t, DefaultFastImportTimeout, opts.FastImportTimeout)
	assert.Equal(t, DefaultProcessCacheLimit, opts.ProcessCacheLimit)
	assert.Equal(t, DefaultInitialMark, opts.InitialMark)
	assert.True(t, opts.AllowHeuristic)
}

func TestOverlay(t *testing.T) {
	const cfgString = `
rule_file: rules.yaml
identity_file: authors.txt
commit_interval: 5000
add_metadata: true
add_metadata_notes: true
svn_branches: true
`
	opts := loadOrFail(t, cfgString)
	assert.Equal(t, "rules.yaml", opts.RuleFile)
	assert.Equal(t, "authors.txt", opts.IdentityFile)
	assert.Equal(t, 5000, opts.CommitInterval)
	assert.True(t, opts.AddMetadata)
	assert.True(t, opts.AddMetadataNotes)
	assert.True(t, opts.SvnBranches)
}

func TestInvalidCommitInterval(t *testing.T) {
	ensureFail(t, "commit_interval: 0", "commit_interval")
}

func TestInvalidMarkRange(t *testing.T) {
	ensureFail(t, "initial_mark: 100\nmax_mark: 50", "max_mark")
}

func ensureFail(t *testing.T, cfgString string, desc string) {
	_, err := Unmarshal([]byte(cfgString))
	if err == nil {
		t.Fatalf("expected config err not found: %s", desc)
	}
	t.Logf("config err: %v", err.Error())
}

func loadOrFail(t *testing.T, cfgString string) *Options {
	opts, err := Unmarshal([]byte(cfgString))
	if err != nil {
		t.Fatalf("failed to read config: %v", err.Error())
	}
	return opts
}
