// Command svn2git-graph renders the branch/merge DAG of an already-converted
// repository straight from its fast-import log file, without touching SVN or
// re-parsing the fast-import stream: every committed transaction leaves a
// `progress SVN r<rev> branch <branch> = :<mark> # merge from :<m1> :<m2>...`
// sentinel line behind, and that is the only input this tool needs.
package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emicklei/dot"
	graphviz "github.com/goccy/go-graphviz"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/svn2git-tools/svn2git/internal/version"
)

var progressLineRE = regexp.MustCompile(`^progress SVN r(\d+) branch (\S+) = :(\d+)(?: # merge from (.*))?$`)

// logCommit is one parsed progress sentinel: a single committed revision on
// a single branch, plus whatever merge marks it recorded.
type logCommit struct {
	revnum int
	branch string
	mark   int
	merges []int

	node    dot.Node
	hasNode bool
}

// Graph accumulates logCommits into a directed branch/merge DAG, the same
// "p"/"m" edge-label convention the original converter's debug graph used.
type Graph struct {
	logger  *logrus.Logger
	commits map[int]*logCommit // keyed by mark
	graph   *dot.Graph

	firstRev, lastRev int
	squash            bool
}

func newGraph(logger *logrus.Logger) *Graph {
	return &Graph{logger: logger, commits: make(map[int]*logCommit)}
}

// parseLogFile reads one fast-import log file, recording every progress
// sentinel line; non-matching lines (commit/blob bodies, svnlook chatter)
// are ignored.
func (g *Graph) parseLogFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lastBranchMark := make(map[string]int)

	for scanner.Scan() {
		m := progressLineRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		revnum, _ := strconv.Atoi(m[1])
		mark, _ := strconv.Atoi(m[3])
		cmt := &logCommit{revnum: revnum, branch: m[2], mark: mark}
		if parent, ok := lastBranchMark[cmt.branch]; ok {
			cmt.merges = append([]int{parent}, cmt.merges...)
		}
		if m[4] != "" {
			for _, tok := range strings.Fields(m[4]) {
				if n, err := strconv.Atoi(strings.TrimPrefix(tok, ":")); err == nil {
					cmt.merges = append(cmt.merges, n)
				}
			}
		}
		g.commits[mark] = cmt
		lastBranchMark[cmt.branch] = mark
	}
	return scanner.Err()
}

// build renders the accumulated commits (filtered to [firstRev, lastRev]
// when either bound is non-zero) into g.graph, merging consecutive
// single-parent same-branch commits into one edge when squash is set.
func (g *Graph) build() {
	g.graph = dot.NewGraph(dot.Directed)
	marks := make([]int, 0, len(g.commits))
	for mark := range g.commits {
		marks = append(marks, mark)
	}
	sort.Ints(marks)

	skipCount := make(map[string]int)
	lastVisible := make(map[string]int) // branch -> mark of last emitted node on that branch

	// Squashing always keeps the first and last revision drawn; with no
	// explicit bound those are the lowest and highest revisions in the log.
	squashFirst, squashLast := g.firstRev, g.lastRev
	for _, mark := range marks {
		rev := g.commits[mark].revnum
		if g.firstRev == 0 && (squashFirst == 0 || rev < squashFirst) {
			squashFirst = rev
		}
		if g.lastRev == 0 && rev > squashLast {
			squashLast = rev
		}
	}

	for _, mark := range marks {
		cmt := g.commits[mark]
		if g.firstRev != 0 && cmt.revnum < g.firstRev {
			continue
		}
		if g.lastRev != 0 && cmt.revnum > g.lastRev {
			continue
		}
		isMergeTarget := len(cmt.merges) > 1 // first merge entry is just the branch parent
		if g.squash && !isMergeTarget && cmt.revnum != squashFirst && cmt.revnum != squashLast {
			skipCount[cmt.branch]++
			continue
		}

		// Reattach the branch-parent edge to the last node we actually drew
		// on this branch, so squashed runs collapse into one "p"/"pN" edge
		// instead of silently losing it to a skipped intermediate mark.
		if len(cmt.merges) > 0 {
			if v, ok := lastVisible[cmt.branch]; ok {
				cmt.merges[0] = v
			}
		}

		cmt.node = g.graph.Node(fmt.Sprintf("r%d %s :%d", cmt.revnum, cmt.branch, cmt.mark))
		cmt.hasNode = true

		for i, parentMark := range cmt.merges {
			parent, ok := g.commits[parentMark]
			if !ok || !parent.hasNode {
				continue
			}
			label := "m"
			if i == 0 {
				label = "p"
				if n := skipCount[cmt.branch]; n > 0 {
					label = fmt.Sprintf("p%d", n)
				}
			}
			g.graph.Edge(parent.node, cmt.node, label)
		}
		skipCount[cmt.branch] = 0
		lastVisible[cmt.branch] = mark
	}
}

func (g *Graph) writeFile(path string) error {
	src := g.graph.String()
	switch {
	case strings.HasSuffix(path, ".png"), strings.HasSuffix(path, ".svg"):
		gv := graphviz.New()
		parsed, err := graphviz.ParseBytes([]byte(src))
		if err != nil {
			return fmt.Errorf("parsing dot graph: %w", err)
		}
		format := graphviz.PNG
		if strings.HasSuffix(path, ".svg") {
			format = graphviz.SVG
		}
		return gv.RenderFilename(parsed, format, path)
	default:
		return os.WriteFile(path, []byte(src), 0644)
	}
}

func main() {
	var (
		logFile = kingpin.Arg(
			"logfile",
			"Fast-import log file produced by a conversion run.",
		).Required().String()
		output = kingpin.Flag(
			"output",
			"Graph file to write (.dot, or .png/.svg to render).",
		).Short('o').Required().String()
		firstRev = kingpin.Flag(
			"first-rev",
			"First SVN revision to include (0 means from the start).",
		).Default("0").Short('f').Int()
		lastRev = kingpin.Flag(
			"last-rev",
			"Last SVN revision to include (0 means to the end).",
		).Default("0").Short('l').Int()
		squash = kingpin.Flag(
			"squash",
			"Collapse consecutive non-branching, non-merging commits on a branch into one edge.",
		).Short('s').Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svn2git-graph")).Author("svn2git-tools")
	kingpin.CommandLine.Help = "Renders the branch/merge DAG of a conversion run from its fast-import log file.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%s", version.Print("svn2git-graph"))
	logger.Infof("starting %s, logfile %s", startTime.Format(time.RFC3339), *logFile)
	logger.Infof("OS: %s/%s", runtime.GOOS, runtime.GOARCH)

	g := newGraph(logger)
	g.firstRev, g.lastRev, g.squash = *firstRev, *lastRev, *squash
	if err := g.parseLogFile(*logFile); err != nil {
		logger.Fatalf("%v", err)
	}
	g.build()
	if err := g.writeFile(*output); err != nil {
		logger.Fatalf("writing %s: %v", *output, err)
	}
	logger.Infof("wrote %s in %s", *output, time.Since(startTime))
}
