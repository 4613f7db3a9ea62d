package tasklog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/core"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestSink_SuccessRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "task.log")
	m := NewManager(DefaultRotationConfig(), slog.LevelInfo)

	s, err := m.Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	s.TaskStarted(ctx, "task_1", core.Call{Args: []any{1}})
	s.TaskSucceeded(ctx, "task_1", 1, time.Millisecond)
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Starting task_1.")
	assert.Contains(t, lines[1], "Finished task_1.")
	assert.Equal(t, 0, m.OpenFiles())
}

func TestSink_FailureRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.log")
	m := NewManager(DefaultRotationConfig(), slog.LevelInfo)
	s, err := m.Open(path)
	require.NoError(t, err)

	call := core.Call{Args: []any{1, 0}, Kwargs: map[string]any{"mode": "strict"}}
	s.TaskStarted(context.Background(), "divide", call)
	s.TaskFailed(context.Background(), "divide", call, errors.New("division by zero"), time.Second)
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "level=ERROR")
	assert.Contains(t, lines[1], "division by zero")
	assert.Contains(t, lines[1], "mode:strict")
}

func TestManager_SharedFileIsRefCounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.log")
	m := NewManager(DefaultRotationConfig(), slog.LevelInfo)

	s1, err := m.Open(path)
	require.NoError(t, err)
	s2, err := m.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, m.OpenFiles())

	ctx := context.Background()
	s1.TaskStarted(ctx, "task_1", core.Call{})
	s1.TaskSucceeded(ctx, "task_1", nil, 0)

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close(), "second close is a no-op")
	assert.Equal(t, 1, m.OpenFiles(), "file stays open while s2 holds it")

	s2.TaskStarted(ctx, "task_2", core.Call{})
	s2.TaskSucceeded(ctx, "task_2", nil, 0)
	require.NoError(t, s2.Close())
	assert.Equal(t, 0, m.OpenFiles())

	lines := readLines(t, path)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Starting task_1.")
	assert.Contains(t, lines[1], "Finished task_1.")
	assert.Contains(t, lines[2], "Starting task_2.")
	assert.Contains(t, lines[3], "Finished task_2.")
}

func TestSink_ConcurrentWritesDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.log")
	m := NewManager(DefaultRotationConfig(), slog.LevelInfo)
	s, err := m.Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.TaskStarted(context.Background(), "t", core.Call{})
			s.TaskSucceeded(context.Background(), "t", nil, 0)
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 40)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "time="), "malformed line %q", l)
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rot.log")
	w, err := newRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	require.NoError(t, err)

	chunk := []byte(strings.Repeat("x", 600*1024) + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	_, err = os.Stat(path + ".1.gz")
	assert.NoError(t, err, "newest backup is compressed")
	_, err = os.Stat(path + ".2.gz")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".3.gz")
	assert.True(t, os.IsNotExist(err), "only MaxBackups backups are kept")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, errWriterClosed)
}

func TestManager_OpenErrors(t *testing.T) {
	m := NewManager(DefaultRotationConfig(), slog.LevelInfo)
	_, err := m.Open("")
	assert.Error(t, err)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err = m.Open(filepath.Join(blocker, "nested", "x.log"))
	assert.Error(t, err)
	assert.Equal(t, 0, m.OpenFiles())
}
