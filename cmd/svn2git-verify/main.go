// Command svn2git-verify reads a target repository's marks file and fast-
// import log file and checks the converter's universal invariants without
// re-running a conversion: mark monotonicity, mark-namespace disjointness
// between commit and blob marks, and resumability contiguity of the
// per-branch progress sentinels. Grounded on the teacher's cmd/gitfilter
// line-oriented scanning idiom, repointed from fast-import event parsing to
// marks/log line parsing.
package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/svn2git-tools/svn2git/config"
	"github.com/svn2git-tools/svn2git/internal/version"
)

var (
	progressLineRE = regexp.MustCompile(`^progress SVN r(\d+) branch (\S+) = :(\d+)`)
	markLineRE     = regexp.MustCompile(`^:(\d+) `)
)

// Violation is one invariant failure found while scanning a marks/log pair.
type Violation struct {
	Rule   string
	Detail string
}

func (v Violation) String() string { return fmt.Sprintf("%s: %s", v.Rule, v.Detail) }

// checkMarksFile validates mark-namespace disjointness. Commit marks occupy
// a contiguous ascending run starting at initialMark; blob marks occupy a
// contiguous run ending at maxMark-1 (allocated descending, so ascending
// when sorted). Anything left over between the two runs — an overlap, an
// adjacency, or a stray mark neither run claims — is a violation.
func checkMarksFile(path string, initialMark, maxMark int64) ([]Violation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening marks file: %w", err)
	}
	defer f.Close()

	var marks []int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := markLineRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		v, _ := strconv.ParseInt(m[1], 10, 64)
		marks = append(marks, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(marks) == 0 {
		return nil, nil
	}

	var violations []Violation

	commitEnd := -1
	if marks[0] == initialMark {
		commitEnd = 0
		for commitEnd+1 < len(marks) && marks[commitEnd+1] == marks[commitEnd]+1 {
			commitEnd++
		}
	} else {
		violations = append(violations, Violation{"mark-namespace-disjointness",
			fmt.Sprintf("first commit mark %d is not the configured initial mark %d", marks[0], initialMark)})
	}

	blobStart := len(marks)
	if marks[len(marks)-1] == maxMark-1 {
		blobStart = len(marks) - 1
		for blobStart-1 >= 0 && marks[blobStart-1] == marks[blobStart]-1 {
			blobStart--
		}
	}

	// If the two runs' index ranges overlap, every mark between
	// initialMark and maxMark-1 belongs to both a "commit" and a "blob"
	// sequence at once: there is no unused mark separating them. If they
	// don't meet at adjacent indices, whatever sits between them is a mark
	// neither sequence claims — equally a corrupted file. Meeting at
	// exactly adjacent indices (commitEnd+1 == blobStart) is the only
	// healthy outcome, and by construction of the two scans it always
	// leaves at least one unused mark between commitMax and blobMin.
	if commitEnd >= 0 && blobStart < len(marks) {
		switch {
		case commitEnd >= blobStart:
			violations = append(violations, Violation{"mark-namespace-disjointness",
				fmt.Sprintf("commit and blob mark ranges overlap or touch around mark %d: no mark separates them", marks[blobStart])})
		case commitEnd+1 < blobStart:
			violations = append(violations, Violation{"mark-namespace-disjointness",
				fmt.Sprintf("%d mark(s) between the commit run (ending %d) and the blob run (starting %d) belong to neither",
					blobStart-commitEnd-1, marks[commitEnd], marks[blobStart])})
		}
	}

	return violations, nil
}

// branchState tracks the last (revnum, mark) pair seen for one branch while
// scanning the log file, so each new sentinel can be checked against it.
type branchState struct {
	lastRevnum int
	lastMark   int64
}

// checkLogFile validates mark monotonicity and resumability contiguity from
// the log file's progress sentinels: per branch, revisions must be
// non-decreasing and commit marks must strictly increase.
func checkLogFile(path string) ([]Violation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	branches := make(map[string]*branchState)
	var violations []Violation
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := progressLineRE.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		revnum, _ := strconv.Atoi(m[1])
		branch := m[2]
		markVal, _ := strconv.ParseInt(m[3], 10, 64)

		b, ok := branches[branch]
		if !ok {
			branches[branch] = &branchState{lastRevnum: revnum, lastMark: markVal}
			continue
		}
		if revnum < b.lastRevnum {
			violations = append(violations, Violation{"mark-monotonicity",
				fmt.Sprintf("branch %s: revision %d appears after %d", branch, revnum, b.lastRevnum)})
		}
		if markVal <= b.lastMark {
			violations = append(violations, Violation{"mark-monotonicity",
				fmt.Sprintf("branch %s: commit mark :%d at r%d does not strictly increase past :%d", branch, markVal, revnum, b.lastMark)})
		}
		b.lastRevnum = revnum
		b.lastMark = markVal
	}
	return violations, scanner.Err()
}

func main() {
	var (
		marksFile   = kingpin.Flag("marks", "Marks file to check.").Required().String()
		logFile     = kingpin.Flag("log", "Fast-import log file to check.").Required().String()
		initialMark = kingpin.Flag("initial-mark", "Lowest mark the conversion allocated to a commit.").Default(strconv.Itoa(config.DefaultInitialMark)).Int64()
		maxMark     = kingpin.Flag("max-mark", "One past the highest mark the conversion allocated to a blob.").Default(strconv.Itoa(config.DefaultMaxMark)).Int64()
		debug       = kingpin.Flag("debug", "Enable debugging level.").Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svn2git-verify")).Author("svn2git-tools")
	kingpin.CommandLine.Help = "Checks a conversion's marks and log files against the converter's invariants.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}
	logger.Infof("%s", version.Print("svn2git-verify"))

	var violations []Violation
	markViolations, err := checkMarksFile(*marksFile, *initialMark, *maxMark)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	violations = append(violations, markViolations...)

	logViolations, err := checkLogFile(*logFile)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	violations = append(violations, logViolations...)

	if len(violations) == 0 {
		logger.Infof("OK: no invariant violations found")
		return
	}
	for _, v := range violations {
		logger.Errorf("%s", v)
	}
	os.Exit(1)
}
