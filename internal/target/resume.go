package target

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"

	shutil "github.com/termie/go-shutil"

	"github.com/svn2git-tools/svn2git/internal/mark"
)

var progressLineRE = regexp.MustCompile(`^progress SVN r(\d+) branch (\S+) = :(\d+)`)

// SetupIncremental implements the resume algorithm: scan the marks file for
// the last contiguous mark, then walk the log file's progress sentinels to
// rebuild each branch's (revnum, mark) history up to that point, truncating
// the log file at the first line past the trustworthy boundary (the marks
// file is only read). Returns the
// revnum conversion should resume from.
func (r *TargetRepository) SetupIncremental(cutoff int) (int, error) {
	lastValidMark, err := scanMarksFile(r.marksFile)
	if err != nil {
		return cutoff, err
	}

	f, err := os.Open(r.logFile)
	if os.IsNotExist(err) {
		return cutoff, nil
	}
	if err != nil {
		return cutoff, err
	}
	defer f.Close()

	backupPath := r.logFile + ".old"
	if err := shutil.Copy(r.logFile, backupPath, true); err != nil {
		r.logger.Warnf("%s: could not back up log file: %v", r.name, err)
	}

	scanner := bufio.NewScanner(f)
	var lastGoodOffset int64
	var offset int64
	lastRevnum := cutoff - 1
	truncate := false

	for scanner.Scan() {
		line := scanner.Text()
		lineLen := int64(len(line)) + 1
		m := progressLineRE.FindStringSubmatch(line)
		if m == nil {
			offset += lineLen
			continue
		}
		revnum, _ := strconv.Atoi(m[1])
		branchName := m[2]
		markVal, _ := strconv.ParseInt(m[3], 10, 64)

		if revnum >= cutoff {
			truncate = true
			break
		}
		if mark.Mark(markVal) > lastValidMark {
			truncate = true
			lastRevnum = revnum - 1
			break
		}

		b := r.EnsureBranch(branchName, revnum)
		if !b.Append(revnum, mark.Mark(markVal)) {
			r.logger.Warnf("%s: non-monotone revnum %d recorded for branch %s", r.name, revnum, branchName)
		}
		lastRevnum = revnum
		offset += lineLen
		lastGoodOffset = offset
	}
	if err := scanner.Err(); err != nil {
		return cutoff, err
	}

	if truncate {
		if err := truncateFileAt(r.logFile, lastGoodOffset); err != nil {
			return cutoff, err
		}
	}

	return lastRevnum + 1, nil
}

// RestoreLog restores the `.old` backup over the live log file; called on
// fatal errors to leave on-disk state exactly as it was before this run's
// truncation attempt.
func (r *TargetRepository) RestoreLog() error {
	backupPath := r.logFile + ".old"
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return nil
	}
	return shutil.Copy(backupPath, r.logFile, true)
}

func scanMarksFile(path string) (mark.Mark, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var last mark.Mark
	var first = true
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] != ':' {
			continue
		}
		var m int64
		if _, err := fmt.Sscanf(line, ":%d", &m); err != nil {
			break
		}
		if !first && mark.Mark(m) != last+1 {
			break // corruption boundary: marks must be strictly contiguous
		}
		last = mark.Mark(m)
		first = false
	}
	return last, nil
}

func truncateFileAt(path string, offset int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(offset)
}
