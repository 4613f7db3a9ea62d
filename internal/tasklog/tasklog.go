// Package tasklog writes per-task log files.
//
// Every task that names the same file shares one rotating writer. The Manager
// reference-counts writers so the file is closed when the last Sink using it
// is closed.
package tasklog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"taskweaver/internal/core"
)

// Manager hands out Sinks backed by shared, rotating log files.
type Manager struct {
	rotation RotationConfig
	level    slog.Level

	mu      sync.Mutex
	writers map[string]*sharedWriter
}

type sharedWriter struct {
	w    *rotatingWriter
	refs int
}

// NewManager creates a Manager. Records below level are dropped.
func NewManager(rotation RotationConfig, level slog.Level) *Manager {
	return &Manager{
		rotation: rotation,
		level:    level,
		writers:  make(map[string]*sharedWriter),
	}
}

// Open returns a Sink appending to path. Each Sink must be closed once.
func (m *Manager) Open(path string) (*Sink, error) {
	if path == "" {
		return nil, errors.New("log path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve log path %q: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sw, ok := m.writers[abs]
	if !ok {
		w, err := newRotatingWriter(abs, m.rotation)
		if err != nil {
			return nil, err
		}
		sw = &sharedWriter{w: w}
		m.writers[abs] = sw
	}
	sw.refs++

	logger := slog.New(slog.NewTextHandler(sw.w, &slog.HandlerOptions{Level: m.level}))
	return &Sink{m: m, path: abs, logger: logger}, nil
}

// OpenFiles reports how many log files are currently held open.
func (m *Manager) OpenFiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writers)
}

func (m *Manager) release(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sw, ok := m.writers[path]
	if !ok {
		return nil
	}
	sw.refs--
	if sw.refs > 0 {
		return nil
	}
	delete(m.writers, path)
	return sw.w.Close()
}

// Sink is a core.LogSink writing one text record per event. It may be shared
// between tasks and used concurrently.
type Sink struct {
	m      *Manager
	path   string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ core.LogSink = (*Sink)(nil)

// Path returns the absolute path of the log file.
func (s *Sink) Path() string { return s.path }

func (s *Sink) TaskStarted(ctx context.Context, task string, call core.Call) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Starting "+task+".",
		slog.String("task", task),
	)
	s.logger.LogAttrs(ctx, slog.LevelDebug, "call",
		slog.String("task", task),
		slog.String("call", call.Summary()),
	)
}

func (s *Sink) TaskSucceeded(ctx context.Context, task string, _ any, elapsed time.Duration) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Finished "+task+".",
		slog.String("task", task),
		slog.Duration("elapsed", elapsed),
	)
}

func (s *Sink) TaskFailed(ctx context.Context, task string, call core.Call, err error, elapsed time.Duration) {
	s.logger.LogAttrs(ctx, slog.LevelError, "Task "+task+" failed.",
		slog.String("task", task),
		slog.Duration("elapsed", elapsed),
		slog.String("error", err.Error()),
		slog.String("call", call.Summary()),
	)
}

// Close releases this Sink's hold on the file. Further calls are no-ops.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.m.release(s.path)
	})
	return s.closeErr
}
