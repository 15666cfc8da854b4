package runlog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestOpen_CreatesParentsAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "laph.log")

	l, err := Open(Config{Path: path, Level: slog.LevelInfo})
	require.NoError(t, err)
	l.Logger().Info("iteration finished", slog.Int("iteration", 1))
	require.NoError(t, l.Close())

	l, err = Open(Config{Path: path, Level: slog.LevelInfo})
	require.NoError(t, err)
	l.Logger().Info("second run")
	require.NoError(t, l.Close())

	content := readLog(t, path)
	assert.Contains(t, content, `msg="iteration finished" iteration=1`)
	assert.Contains(t, content, `msg="second run"`)
	assert.Regexp(t, regexp.MustCompile(`time="\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}"`), content)
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laph.log")
	l, err := Open(Config{Path: path, Level: slog.LevelWarn})
	require.NoError(t, err)
	defer l.Close()

	l.Logger().Info("quiet")
	l.Logger().Warn("loud")

	content := readLog(t, path)
	assert.NotContains(t, content, "quiet")
	assert.Contains(t, content, "loud")
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laph.log")
	l, err := Open(Config{Path: path, Level: slog.LevelInfo})
	require.NoError(t, err)
	defer l.Close()

	l.Logger().Info("before clear")
	require.NoError(t, l.Clear())
	assert.Empty(t, readLog(t, path))

	l.Logger().Info("after clear")
	content := readLog(t, path)
	assert.NotContains(t, content, "before clear")
	assert.Contains(t, content, "after clear")
}

func TestConsoleFanOut(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "laph.log")
	l, err := Open(Config{Path: path, Level: slog.LevelInfo, Console: &console})
	require.NoError(t, err)
	defer l.Close()

	l.Logger().With(slog.String("run", "abc")).Info("hello")

	assert.Contains(t, console.String(), "hello")
	assert.Contains(t, console.String(), "run=abc")
	assert.Contains(t, readLog(t, path), "run=abc")
}

func TestClose_Idempotent(t *testing.T) {
	l, err := Open(Config{Path: filepath.Join(t.TempDir(), "laph.log")})
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.ErrorIs(t, l.Clear(), os.ErrClosed)
}
