// Package config holds the driver's configuration record: the options the
// CLI parses once at startup and threads into every other component, plus
// loading of that record from an optional YAML overlay file.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

const DefaultInitialMark = 42000000
const DefaultMaxMark = 1<<31 - 1
const DefaultCommitInterval = 25000
const DefaultFastImportTimeout = 30
const DefaultProcessCacheLimit = 100

// Options is the plain configuration record built once from CLI flags (and
// optionally overlaid with a YAML file for unattended/fleet runs), then
// threaded into every component that needs it. Fields are not mutated after
// startup.
type Options struct {
	RuleFile     string `yaml:"rule_file"`
	IdentityFile string `yaml:"identity_file"`
	SvnRepo      string `yaml:"svn_repo"`

	// OutputRoot holds the per-target repositories; each repository named
	// by a rule's `repository` field gets OutputRoot/<name>.git (plus a
	// sibling .marks/.log pair), mirroring the teacher's single archiveRoot
	// generalised to fan out across every repository the rule file names.
	OutputRoot string `yaml:"output_root"`

	Cutoff int `yaml:"cutoff"`

	DryRun            bool `yaml:"dry_run"`
	CreateDump        bool `yaml:"create_dump"`
	FastImportTimeout int  `yaml:"fast_import_timeout"`
	CommitInterval    int  `yaml:"commit_interval"`
	AddMetadata       bool `yaml:"add_metadata"`
	AddMetadataNotes  bool `yaml:"add_metadata_notes"`
	SvnBranches       bool `yaml:"svn_branches"`
	SvnIgnore         bool `yaml:"svn_ignore"`
	EmptyDirs         bool `yaml:"empty_dirs"`
	PropCheck         bool `yaml:"propcheck"`
	DebugRules        bool `yaml:"debug_rules"`
	AllowHeuristic    bool `yaml:"allow_heuristic"`

	ProcessCacheLimit int `yaml:"process_cache_limit"`
	InitialMark       int `yaml:"initial_mark"`
	MaxMark           int `yaml:"max_mark"`

	GraphFile string `yaml:"-"`
	MsgFilter string `yaml:"msg_filter"`
}

// Default returns the option set the converter ships with when no overlay
// file is given: checkpoint every 25000 commits, wait up to 30s for a
// fast-import child to flush on close, keep at most 100 children live.
func Default() Options {
	return Options{
		Cutoff:            1,
		FastImportTimeout: DefaultFastImportTimeout,
		CommitInterval:    DefaultCommitInterval,
		ProcessCacheLimit: DefaultProcessCacheLimit,
		InitialMark:       DefaultInitialMark,
		MaxMark:           DefaultMaxMark,
		AllowHeuristic:    true,
	}
}

// Unmarshal overlays YAML bytes onto a copy of the default Options.
func Unmarshal(content []byte) (*Options, error) {
	opts := Default()
	if err := yaml.Unmarshal(content, &opts); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// LoadFile loads an Options overlay from a YAML file on disk.
func LoadFile(filename string) (*Options, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	opts, err := Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	return opts, nil
}

func (o *Options) validate() error {
	if o.CommitInterval <= 0 {
		return fmt.Errorf("commit_interval must be positive, got %d", o.CommitInterval)
	}
	if o.InitialMark <= 0 || o.MaxMark <= o.InitialMark {
		return fmt.Errorf("initial_mark must be positive and less than max_mark")
	}
	if o.ProcessCacheLimit <= 0 {
		return fmt.Errorf("process_cache_limit must be positive, got %d", o.ProcessCacheLimit)
	}
	return nil
}
