package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSetupIncrementalFreshStart(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	repo := &TargetRepository{
		logger:     logger,
		name:       "one",
		marksFile:  filepath.Join(dir, "marks"),
		logFile:    filepath.Join(dir, "log"),
		branches:   make(map[string]*Branch),
	}
	cutoff, err := repo.SetupIncremental(1)
	require.NoError(t, err)
	assert.Equal(t, 1, cutoff)
}

func TestSetupIncrementalResumesFromLastContiguousRevision(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	marksPath := filepath.Join(dir, "marks")
	logPath := filepath.Join(dir, "log")

	writeFile(t, marksPath, ":42000000 aaaa\n:42000001 bbbb\n")
	writeFile(t, logPath,
		"progress SVN r100 branch master = :42000000\n\n"+
			"progress SVN r101 branch master = :42000001\n\n")

	repo := &TargetRepository{
		logger:    logger,
		name:      "one",
		marksFile: marksPath,
		logFile:   logPath,
		branches:  make(map[string]*Branch),
	}
	cutoff, err := repo.SetupIncremental(1)
	require.NoError(t, err)
	assert.Equal(t, 102, cutoff)

	b, ok := repo.branches["master"]
	require.True(t, ok)
	assert.Equal(t, []int{100, 101}, b.Commits)
}

func TestSetupIncrementalTrimsPastCutoff(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	marksPath := filepath.Join(dir, "marks")
	logPath := filepath.Join(dir, "log")

	writeFile(t, marksPath, ":42000000 aaaa\n")
	writeFile(t, logPath,
		"progress SVN r100 branch master = :42000000\n\n"+
			"progress SVN r101 branch master = :42000001\n\n")

	repo := &TargetRepository{
		logger:    logger,
		name:      "one",
		marksFile: marksPath,
		logFile:   logPath,
		branches:  make(map[string]*Branch),
	}
	cutoff, err := repo.SetupIncremental(1)
	require.NoError(t, err)
	assert.Equal(t, 101, cutoff)

	backup, err := os.ReadFile(logPath + ".old")
	require.NoError(t, err)
	assert.Contains(t, string(backup), "r101")
}
