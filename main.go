// svn2git converts an SVN repository's history into one or more content-
// addressed Git repositories via `git fast-import`, driven by a rule file
// mapping SVN paths/revisions to target repositories, branches, and
// on-branch subpaths. See config.Options for the full set of recognized
// settings; the command-line flags set (or override) a subset of them.
//
// Design:
// main() parses flags, builds a config.Options (default, optionally
// overlaid from a YAML file, then overridden by any flag explicitly set),
// wires the rules/identity/svnsource/target/merge/walker packages together,
// and hands off to internal/driver, which runs the revision loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/svn2git-tools/svn2git/config"
	"github.com/svn2git-tools/svn2git/internal/driver"
	"github.com/svn2git-tools/svn2git/internal/fastimport"
	"github.com/svn2git-tools/svn2git/internal/identity"
	"github.com/svn2git-tools/svn2git/internal/merge"
	"github.com/svn2git-tools/svn2git/internal/rules"
	"github.com/svn2git-tools/svn2git/internal/svnsource"
	"github.com/svn2git-tools/svn2git/internal/target"
	"github.com/svn2git-tools/svn2git/internal/version"
	"github.com/svn2git-tools/svn2git/internal/walker"
)

const defaultRepoName = "main"

var (
	configFile = kingpin.Flag(
		"config",
		"YAML config overlay for svn2git.",
	).Default("svn2git.yaml").Short('c').String()
	svnRepo = kingpin.Arg(
		"svn-repo",
		"Path to the local SVN repository to convert (overrides config).",
	).String()
	ruleFile = kingpin.Flag(
		"rules",
		"Rule file mapping SVN paths/revisions to target repositories (overrides config).",
	).Short('r').String()
	identityFile = kingpin.Flag(
		"authors",
		"Flat `user = Name <email>` identity map (overrides config).",
	).String()
	outputRoot = kingpin.Flag(
		"output-root",
		"Directory under which each target repository's .git/.marks/.log live.",
	).Short('o').String()
	cutoff = kingpin.Flag(
		"cutoff",
		"First SVN revision to convert (overrides config; resume may push this forward per-target).",
	).Int()
	dryRun = kingpin.Flag(
		"dryrun",
		"Discard fast-import output instead of feeding git fast-import.",
	).Bool()
	createDump = kingpin.Flag(
		"dump",
		"Write the fast-import stream to <marks-file>.fi instead of spawning git fast-import.",
	).Bool()
	addMetadata = kingpin.Flag(
		"add-metadata",
		"Append an [svn path=...; revision=...] trailer to every commit message.",
	).Bool()
	addMetadataNotes = kingpin.Flag(
		"add-metadata-notes",
		"Record commit messages as notes on refs/notes/commits.",
	).Bool()
	svnBranches = kingpin.Flag(
		"svn-branches",
		"Materialise a full recursive dump on every branch copy.",
	).Bool()
	svnIgnore = kingpin.Flag(
		"svn-ignore",
		"Translate svn:ignore/svn:global-ignores into .gitignore.",
	).Bool()
	emptyDirs = kingpin.Flag(
		"empty-dirs",
		"Emit .gitignore placeholders for directories with no tracked files.",
	).Bool()
	propCheck = kingpin.Flag(
		"propcheck",
		"Warn when a file's content sniffs as binary but svn:mime-type is unset or text (no other property is checked).",
	).Bool()
	debugRules = kingpin.Flag(
		"debug-rules",
		"Trace every rule match (path, repo, branch, action) to the log.",
	).Bool()
	graphFile = kingpin.Flag(
		"graphfile",
		"Write the branch/merge DAG here (.dot, or .png/.svg to render).",
	).String()
	msgFilter = kingpin.Flag(
		"msg-filter",
		"Shell command the commit message is piped through before committing.",
	).String()
	svnlookPath = kingpin.Flag(
		"svnlook",
		"Path to the svnlook binary.",
	).String()
	svnPath = kingpin.Flag(
		"svn",
		"Path to the svn binary.",
	).String()
	svnExtraArgs = kingpin.Flag(
		"svn-extra-args",
		"Extra arguments appended to every svn invocation; svnlook calls do not get them (shell-quoted).",
	).String()
	progressEvery = kingpin.Flag(
		"progress-every",
		"Log a progress line every N revisions (0 disables).",
	).Default("1000").Int()
	debug = kingpin.Flag(
		"debug",
		"Enable debugging level (repeatable: -d, -dd for trace).",
	).Short('d').Counter()
)

func main() {
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svn2git")).Author("svn2git-tools")
	kingpin.CommandLine.Help = "Converts an SVN repository's history into one or more Git repositories.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug == 1 {
		logger.Level = logrus.DebugLevel
	} else if *debug > 1 {
		logger.Level = logrus.TraceLevel
	}

	cfg := loadConfig(logger, *configFile)
	applyFlagOverrides(cfg)

	startTime := time.Now()
	logger.Infof("%s", version.Print("svn2git"))
	logger.Infof("starting %s, svn repo %s", startTime.Format(time.RFC3339), cfg.SvnRepo)

	if err := run(logger, cfg); err != nil {
		logger.Errorf("%+v", err)
		os.Exit(1)
	}
	logger.Infof("finished in %s", time.Since(startTime))
}

func loadConfig(logger *logrus.Logger, path string) *config.Options {
	if path == "" {
		opts := config.Default()
		return &opts
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		opts := config.Default()
		return &opts
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		logger.Fatalf("loading config %s: %v", path, err)
	}
	return cfg
}

func applyFlagOverrides(cfg *config.Options) {
	if *svnRepo != "" {
		cfg.SvnRepo = *svnRepo
	}
	if *ruleFile != "" {
		cfg.RuleFile = *ruleFile
	}
	if *identityFile != "" {
		cfg.IdentityFile = *identityFile
	}
	if *outputRoot != "" {
		cfg.OutputRoot = *outputRoot
	}
	if *cutoff != 0 {
		cfg.Cutoff = *cutoff
	}
	if *graphFile != "" {
		cfg.GraphFile = *graphFile
	}
	if *msgFilter != "" {
		cfg.MsgFilter = *msgFilter
	}
	cfg.DryRun = cfg.DryRun || *dryRun
	cfg.CreateDump = cfg.CreateDump || *createDump
	cfg.AddMetadata = cfg.AddMetadata || *addMetadata
	cfg.AddMetadataNotes = cfg.AddMetadataNotes || *addMetadataNotes
	cfg.SvnBranches = cfg.SvnBranches || *svnBranches
	cfg.SvnIgnore = cfg.SvnIgnore || *svnIgnore
	cfg.EmptyDirs = cfg.EmptyDirs || *emptyDirs
	cfg.PropCheck = cfg.PropCheck || *propCheck
	cfg.DebugRules = cfg.DebugRules || *debugRules
}

func run(logger *logrus.Logger, cfg *config.Options) error {
	if cfg.RuleFile == "" {
		return fmt.Errorf("no rule file configured (--rules or rule_file)")
	}
	if cfg.SvnRepo == "" {
		return fmt.Errorf("no SVN repository configured (svn-repo argument or svn_repo)")
	}

	ruleSet, err := rules.Load(cfg.RuleFile)
	if err != nil {
		return fmt.Errorf("loading rule file: %w", err)
	}

	var ids *identity.Map
	if cfg.IdentityFile != "" {
		ids, err = identity.Load(cfg.IdentityFile)
		if err != nil {
			return fmt.Errorf("loading identity map: %w", err)
		}
		logger.Infof("loaded %d identities", ids.Len())
	}

	source, err := svnsource.NewShellSource(cfg.SvnRepo, *svnlookPath, *svnPath, *svnExtraArgs)
	if err != nil {
		return fmt.Errorf("configuring svn source: %w", err)
	}

	repos, err := buildRepositories(logger, cfg, ruleSet)
	if err != nil {
		return err
	}

	mergeEngine := &merge.Engine{
		Source:  source,
		Rules:   ruleSet,
		Tables:  merge.NewTables(),
		Logger:  logger,
		DumpDir: "mi",
	}

	w := walker.New(source, []walker.RuleFile{{Repository: defaultRepoName, Rules: ruleSet}}, ids, repos, mergeEngine, logger, walker.Options{
		SVNBranches: cfg.SvnBranches,
		SVNIgnore:   cfg.SvnIgnore,
		EmptyDirs:   cfg.EmptyDirs,
		PropCheck:   cfg.PropCheck,
		DebugRules:  cfg.DebugRules,
	})
	if cfg.MsgFilter != "" {
		w.MsgFilter = shellMsgFilter(logger, cfg.MsgFilter)
	}

	d := &driver.Driver{
		Logger:        logger,
		Source:        source,
		Walker:        w,
		Repos:         repos,
		Cutoff:        cfg.Cutoff,
		ProgressEvery: *progressEvery,
		GraphFile:     cfg.GraphFile,
	}
	return d.Run(context.Background())
}

// buildRepositories creates one TargetRepository per distinct repository
// name the rule file references (plus the default bucket every unqualified
// rule dispatches into), sharing a single bounded ProcessCache across them.
func buildRepositories(logger *logrus.Logger, cfg *config.Options, ruleSet *rules.Set) (map[string]target.Repository, error) {
	names := map[string]bool{defaultRepoName: true}
	for _, r := range ruleSet.Rules() {
		if r.Repository != "" {
			names[r.Repository] = true
		}
	}

	cache := fastimport.NewCache(logger, cfg.ProcessCacheLimit)
	repos := make(map[string]target.Repository, len(names))
	for name := range names {
		base := filepath.Join(cfg.OutputRoot, name)
		repos[name] = target.NewTargetRepository(logger, name,
			base+".git", base+".marks", base+".log", cache,
			cfg.InitialMark, cfg.MaxMark, cfg.CommitInterval, cfg.FastImportTimeout,
			cfg.AddMetadata, cfg.AddMetadataNotes, cfg.DryRun, cfg.CreateDump)
	}
	return repos, nil
}

// shellMsgFilter pipes a commit message through an external command,
// returning the original message unchanged if the command fails — a
// misbehaving filter should never abort a conversion mid-run.
func shellMsgFilter(logger *logrus.Logger, cmdLine string) func(string) string {
	return func(msg string) string {
		parts := strings.Fields(cmdLine)
		if len(parts) == 0 {
			return msg
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		cmd.Stdin = strings.NewReader(msg)
		out, err := cmd.Output()
		if err != nil {
			logger.Warnf("msg-filter %q failed, using original message: %v", cmdLine, err)
			return msg
		}
		return string(out)
	}
}
