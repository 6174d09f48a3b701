package svnsource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// ShellSource shells out to svnlook (and to svn for property diffs and
// logs) against a local repository path; no cgo APR bindings (those are
// explicitly out of scope).
type ShellSource struct {
	repoPath      string
	svnlookPath   string
	svnPath       string
	extraArgs     []string // parsed once from a configurable extra-args string
}

// NewShellSource constructs a ShellSource. extraArgsStr is a shell-quoted
// string of extra global arguments (e.g. "--non-interactive") appended to
// every svn invocation (svnlook calls do not get them); it is split once via
// shlex at construction time.
func NewShellSource(repoPath, svnlookPath, svnPath, extraArgsStr string) (*ShellSource, error) {
	if svnlookPath == "" {
		svnlookPath = "svnlook"
	}
	if svnPath == "" {
		svnPath = "svn"
	}
	var extra []string
	if extraArgsStr != "" {
		var err error
		extra, err = shlex.Split(extraArgsStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid extra svn arguments %q", extraArgsStr)
		}
	}
	return &ShellSource{repoPath: repoPath, svnlookPath: svnlookPath, svnPath: svnPath, extraArgs: extra}, nil
}

func (s *ShellSource) RepositoryPath() string { return s.repoPath }

func (s *ShellSource) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), stderr.String())
	}
	return stdout.Bytes(), nil
}

func (s *ShellSource) svnlook(ctx context.Context, args ...string) ([]byte, error) {
	all := append(append([]string{}, args...), s.repoPath)
	return s.run(ctx, s.svnlookPath, all...)
}

func (s *ShellSource) YoungestRevision(ctx context.Context) (int, error) {
	out, err := s.svnlook(ctx, "youngest")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(out)))
}

// PathsChanged parses `svnlook changed -r <rev>` output: lines like
// "A   path/to/file" or "D   path/" with a trailing '+' marker column for
// property changes appended by `svnlook changed --copy-info`.
func (s *ShellSource) PathsChanged(ctx context.Context, rev int) ([]PathChange, error) {
	out, err := s.svnlook(ctx, "changed", "--copy-info", "-r", strconv.Itoa(rev))
	if err != nil {
		return nil, err
	}
	var changes []PathChange
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var pending *PathChange
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "    (from ") && pending != nil {
			// "    (from path:r<rev>)"
			inner := strings.TrimSuffix(strings.TrimPrefix(line, "    (from "), ")")
			if idx := strings.LastIndex(inner, ":r"); idx >= 0 {
				pending.CopyFromPath = inner[:idx]
				pending.CopyFromRev, _ = strconv.Atoi(inner[idx+2:])
			}
			continue
		}
		if len(line) < 4 {
			continue
		}
		pc := PathChange{
			Action: ChangeAction(line[0]),
			Path:   strings.TrimSpace(line[4:]),
		}
		if line[3] == 'M' || (len(line) > 3 && line[1] == '+') {
			pc.MergeinfoMod = true
		}
		if strings.HasSuffix(pc.Path, "/") {
			pc.Kind = NodeDir
			pc.Path = strings.TrimSuffix(pc.Path, "/")
		} else {
			pc.Kind = NodeFile
		}
		changes = append(changes, pc)
		pending = &changes[len(changes)-1]
	}
	return changes, scanner.Err()
}

func (s *ShellSource) CopiedFrom(ctx context.Context, rev int, path string) (string, int, bool, error) {
	changes, err := s.PathsChanged(ctx, rev)
	if err != nil {
		return "", 0, false, err
	}
	for _, c := range changes {
		if c.Path == strings.TrimPrefix(path, "/") && c.CopyFromPath != "" {
			return "/" + c.CopyFromPath, c.CopyFromRev, true, nil
		}
	}
	return "", 0, false, nil
}

func (s *ShellSource) NodeProp(ctx context.Context, rev int, path, propName string) (string, bool, error) {
	out, err := s.svnlook(ctx, "propget", "-r", strconv.Itoa(rev), propName, "--", strings.TrimPrefix(path, "/"))
	if err != nil {
		if strings.Contains(err.Error(), "not present") || strings.Contains(err.Error(), "E200005") {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimRight(string(out), "\n"), true, nil
}

func (s *ShellSource) DirEntries(ctx context.Context, rev int, path string) ([]DirEntry, error) {
	out, err := s.svnlook(ctx, "tree", "--full-paths", "-r", strconv.Itoa(rev), "--", strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	base := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/")
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSuffix(line, "/")
		if trimmed == base || trimmed == "" {
			continue
		}
		rel := strings.TrimPrefix(trimmed, base+"/")
		if strings.Contains(rel, "/") {
			continue // only direct children
		}
		kind := NodeFile
		if strings.HasSuffix(line, "/") {
			kind = NodeDir
		}
		entries = append(entries, DirEntry{Name: rel, Kind: kind})
	}
	return entries, scanner.Err()
}

func (s *ShellSource) FileLength(ctx context.Context, rev int, path string) (int64, error) {
	out, err := s.svnlook(ctx, "filesize", "-r", strconv.Itoa(rev), "--", strings.TrimPrefix(path, "/"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
}

type catReader struct {
	io.Reader
	closeFn func() error
}

func (c *catReader) Close() error { return c.closeFn() }

func (s *ShellSource) FileContents(ctx context.Context, rev int, path string) (io.ReadCloser, error) {
	args := append(append([]string{}, "cat", "-r", strconv.Itoa(rev), "--", strings.TrimPrefix(path, "/")), s.repoPath)
	cmd := exec.CommandContext(ctx, s.svnlookPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &catReader{Reader: stdout, closeFn: cmd.Wait}, nil
}

func (s *ShellSource) CheckPath(ctx context.Context, rev int, path string) (NodeKind, error) {
	out, err := s.svnlook(ctx, "filesize", "-r", strconv.Itoa(rev), "--", strings.TrimPrefix(path, "/"))
	if err == nil {
		_ = out
		return NodeFile, nil
	}
	if _, dirErr := s.DirEntries(ctx, rev, path); dirErr == nil {
		return NodeDir, nil
	}
	return NodeNone, nil
}

func (s *ShellSource) RevisionProps(ctx context.Context, rev int) (RevProps, error) {
	author, err := s.svnlook(ctx, "author", "-r", strconv.Itoa(rev))
	if err != nil {
		return RevProps{}, err
	}
	dateOut, err := s.svnlook(ctx, "date", "-r", strconv.Itoa(rev))
	if err != nil {
		return RevProps{}, err
	}
	logOut, err := s.svnlook(ctx, "log", "-r", strconv.Itoa(rev))
	if err != nil {
		return RevProps{}, err
	}
	date, err := parseSVNDate(string(dateOut))
	if err != nil {
		return RevProps{}, err
	}
	return RevProps{
		Author: strings.TrimSpace(string(author)),
		Date:   date,
		Log:    string(logOut),
	}, nil
}

func parseSVNDate(s string) (time.Time, error) {
	// "2024-01-02 15:04:05 +0000 (Tue, 02 Jan 2024)"
	fields := strings.SplitN(strings.TrimSpace(s), " (", 2)
	return time.Parse("2006-01-02 15:04:05 -0700", strings.TrimSpace(fields[0]))
}

func (s *ShellSource) PropertyDiff(ctx context.Context, rev int) (string, error) {
	args := append(append([]string{}, "diff", "-c", strconv.Itoa(rev), "--properties-only"), s.extraArgs...)
	args = append(args, fmt.Sprintf("file://%s", s.repoPath))
	out, err := s.run(ctx, s.svnPath, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *ShellSource) Log(ctx context.Context, rev int) (string, error) {
	args := append(append([]string{}, "log", "-v", "-c", strconv.Itoa(rev)), s.extraArgs...)
	args = append(args, fmt.Sprintf("file://%s", s.repoPath))
	out, err := s.run(ctx, s.svnPath, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
