// Package rules implements the RuleMatcher consumed by the revision walker:
// an ordered, YAML-declared list of path-pattern rules, each carrying an
// action (Export/Ignore/Recurse) and the fields needed to dispatch a
// matched SVN path into a target repository/branch/subpath.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// Action is the rule-dispatch verb a matched rule carries.
type Action int

const (
	Ignore Action = iota
	Recurse
	Export
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Recurse:
		return "recurse"
	case Export:
		return "export"
	default:
		return "unknown"
	}
}

// RenamePair is one rule-level (from, to) rename applied once per branch.
type RenamePair struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// rawRule is the YAML wire shape; Path is compiled into Rule.Pattern after
// load.
type rawRule struct {
	MinRevision int          `yaml:"min_revision"`
	MaxRevision int          `yaml:"max_revision"`
	Path        string       `yaml:"path"`
	Action      string       `yaml:"action"`
	Repository  string       `yaml:"repository"`
	Branch      string       `yaml:"branch"`
	Prefix      string       `yaml:"prefix"`
	Strip       string       `yaml:"strip"`
	Deletes     []string     `yaml:"deletes"`
	Renames     []RenamePair `yaml:"renames"`
	Annotate    bool         `yaml:"annotate"`
	Branchpoint string       `yaml:"branchpoint"`
}

// Rule is one compiled entry of the rule file, as described in the data
// model: a path pattern, a revision range, an action, and (for Export) the
// repository/branch/prefix/strip fields used to dispatch a matched path.
type Rule struct {
	MinRevision int
	MaxRevision int // 0 = unbounded
	Pattern     *regexp.Regexp
	Action      Action
	Repository  string
	Branch      string
	Prefix      string
	Strip       string
	Deletes     []string
	Renames     []RenamePair
	Annotate    bool
	Branchpoint string

	raw string // original path pattern, for diagnostics
}

// Matches reports whether this rule applies to path at revnum.
func (r *Rule) Matches(path string, revnum int) bool {
	if revnum < r.MinRevision {
		return false
	}
	if r.MaxRevision != 0 && revnum > r.MaxRevision {
		return false
	}
	return r.Pattern.MatchString(path)
}

// Expand substitutes regexp capture groups ($1, $2, ...) from path into
// template, the same $N syntax regexp.Expand uses.
func (r *Rule) Expand(template, path string) string {
	loc := r.Pattern.FindStringSubmatchIndex(path)
	if loc == nil {
		return template
	}
	return string(r.Pattern.ExpandString(nil, template, path, loc))
}

// SubPath returns the remainder of path once the rule's Strip prefix (after
// substitution) has been removed — the on-branch path the file/dir lands at.
func (r *Rule) SubPath(path string) string {
	strip := r.Expand(r.Strip, path)
	return strings.TrimPrefix(path, strip)
}

// Set is the ordered list of rules a RuleFile holds: first match wins.
type Set struct {
	rules []*Rule
}

// Match returns the first rule whose pattern and revision range cover
// (path, revnum), as the data model requires ("Returns first rule matching
// (revnum, path)").
func (s *Set) Match(path string, revnum int) (*Rule, bool) {
	for _, r := range s.rules {
		if r.Matches(path, revnum) {
			return r, true
		}
	}
	return nil, false
}

func (s *Set) Rules() []*Rule { return s.rules }

// Load reads a YAML rule file and compiles every path pattern.
func Load(filename string) (*Set, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", filename, err)
	}
	return Parse(content)
}

// Parse compiles a YAML rule file's bytes into a Set.
func Parse(content []byte) (*Set, error) {
	var raws []rawRule
	if err := yaml.Unmarshal(content, &raws); err != nil {
		return nil, fmt.Errorf("invalid rule file: %w", err)
	}
	set := &Set{}
	for i, raw := range raws {
		re, err := regexp.Compile(raw.Path)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid path pattern %q: %w", i, raw.Path, err)
		}
		action, err := parseAction(raw.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		set.rules = append(set.rules, &Rule{
			MinRevision: raw.MinRevision,
			MaxRevision: raw.MaxRevision,
			Pattern:     re,
			Action:      action,
			Repository:  raw.Repository,
			Branch:      raw.Branch,
			Prefix:      raw.Prefix,
			Strip:       raw.Strip,
			Deletes:     raw.Deletes,
			Renames:     raw.Renames,
			Annotate:    raw.Annotate,
			Branchpoint: raw.Branchpoint,
			raw:         raw.Path,
		})
	}
	return set, nil
}

func parseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "export", "":
		return Export, nil
	case "ignore":
		return Ignore, nil
	case "recurse":
		return Recurse, nil
	default:
		return Ignore, fmt.Errorf("unknown action %q", s)
	}
}

// BranchpointKind distinguishes the four forms of the branchpoint DSL.
type BranchpointKind int

const (
	BranchpointDefault BranchpointKind = iota // "" — use the natural copy-from parent
	BranchpointNone                           // "none" — suppress parent recording
	BranchpointTree                           // "none@<treehash>" — reset from tree, no parent
	BranchpointExplicit                       // "<branch>@<rev>" — explicit source
)

// Branchpoint is a parsed rule-level branchpoint override.
type Branchpoint struct {
	Kind   BranchpointKind
	Branch string
	Rev    int
	Tree   string
}

// ParseBranchpoint parses the small branchpoint DSL described in the data
// model: empty, "none", "none@<treehash>", or "<branch>@<revnum>".
func ParseBranchpoint(spec string) (Branchpoint, error) {
	if spec == "" {
		return Branchpoint{Kind: BranchpointDefault}, nil
	}
	if spec == "none" {
		return Branchpoint{Kind: BranchpointNone}, nil
	}
	at := strings.LastIndex(spec, "@")
	if at < 0 {
		return Branchpoint{}, fmt.Errorf("invalid branchpoint %q: missing '@'", spec)
	}
	left, right := spec[:at], spec[at+1:]
	if left == "none" {
		return Branchpoint{Kind: BranchpointTree, Tree: right}, nil
	}
	rev, err := strconv.Atoi(right)
	if err != nil {
		return Branchpoint{}, fmt.Errorf("invalid branchpoint %q: %w", spec, err)
	}
	return Branchpoint{Kind: BranchpointExplicit, Branch: left, Rev: rev}, nil
}
