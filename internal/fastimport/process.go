// Package fastimport drives one `git fast-import` child per target
// repository and bounds how many such children are alive at once.
package fastimport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type state int

const (
	NotStarted state = iota
	Running
	Finished
)

// Process wraps a long-running `git fast-import` child: its stdin is the
// fast-import stream, its merged stdout+stderr is tee'd to a log file on
// disk (the same file the resume logic scans for progress sentinels).
type Process struct {
	logger *logrus.Logger

	repoDir   string
	marksFile string
	logFile   string
	dryRun    bool
	createDump bool

	state state

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logFh  *os.File
	writer *bufio.Writer

	timeout time.Duration
}

// New constructs a Process for a bare repository rooted at repoDir. The
// child is not started until Start is called.
func New(logger *logrus.Logger, repoDir, marksFile, logFile string, timeoutSeconds int, dryRun, createDump bool) *Process {
	return &Process{
		logger:     logger,
		repoDir:    repoDir,
		marksFile:  marksFile,
		logFile:    logFile,
		dryRun:     dryRun,
		createDump: createDump,
		state:      NotStarted,
		timeout:    time.Duration(timeoutSeconds) * time.Second,
	}
}

// Start spawns the fast-import child (or opens the dump file in create-dump
// mode, or does nothing in dry-run mode). Restarting a Process that has
// already finished once is fatal: a crashed child leaves the marks file in
// an uncertain state that must go through setupIncremental, not a silent
// respawn.
func (p *Process) Start() error {
	if p.state == Finished {
		p.logger.Fatalf("attempted to restart finished fast-import process for %s", p.repoDir)
	}
	if p.state == Running {
		return nil
	}

	if _, err := os.Stat(p.repoDir); os.IsNotExist(err) {
		if err := p.initBareRepo(); err != nil {
			return errors.Wrapf(err, "initializing bare repository at %s", p.repoDir)
		}
	}
	if _, err := os.Stat(p.marksFile); os.IsNotExist(err) {
		if f, err := os.Create(p.marksFile); err != nil {
			return errors.Wrapf(err, "creating marks file %s", p.marksFile)
		} else {
			f.Close()
		}
	}

	logFh, err := os.OpenFile(p.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening log file %s", p.logFile)
	}
	p.logFh = logFh

	if p.dryRun {
		p.writer = bufio.NewWriter(io.Discard)
		p.state = Running
		return nil
	}

	if p.createDump {
		dumpPath := p.marksFile + ".fi"
		f, err := os.OpenFile(dumpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return errors.Wrapf(err, "opening dump file %s", dumpPath)
		}
		p.stdin = f
		p.writer = bufio.NewWriter(io.MultiWriter(f, logFh))
		p.state = Running
		return nil
	}

	cmd := exec.Command("git", "fast-import",
		fmt.Sprintf("--import-marks=%s", p.marksFile),
		fmt.Sprintf("--export-marks=%s", p.marksFile),
		"--force")
	cmd.Dir = p.repoDir
	cmd.Stdout = logFh
	cmd.Stderr = logFh
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "creating fast-import stdin pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "starting fast-import")
	}
	p.cmd = cmd
	p.stdin = stdin
	p.writer = bufio.NewWriter(io.MultiWriter(stdin, logFh))
	p.state = Running
	return nil
}

func (p *Process) initBareRepo() error {
	if err := os.MkdirAll(p.repoDir, 0755); err != nil {
		return err
	}
	cmd := exec.Command("git", "init", "--bare", p.repoDir)
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "git init --bare")
	}
	cfg := exec.Command("git", "config", "core.ignorecase", "false")
	cfg.Dir = p.repoDir
	if err := cfg.Run(); err != nil {
		return errors.Wrap(err, "git config core.ignorecase")
	}
	return nil
}

// Write buffers bytes for the child's stdin (and the tee'd log copy).
func (p *Process) Write(b []byte) error {
	if _, err := p.writer.Write(b); err != nil {
		return errors.Wrapf(err, "writing to fast-import child for %s", p.repoDir)
	}
	return nil
}

// WriteNoLog writes large blob bodies directly to the child's stdin,
// bypassing the tee'd log copy so multi-megabyte blobs don't double the log
// file's size on disk.
func (p *Process) WriteNoLog(b []byte) error {
	if p.stdin == nil {
		return nil
	}
	if err := p.writer.Flush(); err != nil {
		return errors.Wrap(err, "flushing fast-import writer")
	}
	if _, err := p.stdin.Write(b); err != nil {
		return errors.Wrapf(err, "writing blob body to fast-import child for %s", p.repoDir)
	}
	return nil
}

// Checkpoint asks the child to flush the marks file without closing it.
func (p *Process) Checkpoint() error {
	return p.Write([]byte("checkpoint\n"))
}

// Close sends a final checkpoint, closes stdin, and waits up to the
// configured timeout for the child to exit gracefully before killing it.
func (p *Process) Close(ctx context.Context) error {
	if p.state != Running {
		return nil
	}
	defer func() {
		p.state = Finished
		if p.logFh != nil {
			p.logFh.Close()
		}
	}()

	if err := p.Checkpoint(); err != nil {
		return err
	}
	if err := p.writer.Flush(); err != nil {
		return errors.Wrap(err, "flushing fast-import writer on close")
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	timeout := p.timeout
	if timeout <= 0 {
		// 0 means "wait forever"
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		p.logger.Warnf("fast-import child for %s did not exit within %s, terminating", p.repoDir, timeout)
		_ = p.cmd.Process.Kill()
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
			p.logger.Warnf("fast-import child for %s survived termination", p.repoDir)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) RepoDir() string { return p.repoDir }
