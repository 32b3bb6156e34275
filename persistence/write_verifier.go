package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lexcodex/testforge/framework"
)

// ErrContentMismatch reports that a read-back differed from what was written.
var ErrContentMismatch = errors.New("read-back content mismatch")

// FileSystem is the subset of file operations the verifier needs.
type FileSystem interface {
	MkdirAll(path string, perm fs.FileMode) error
	WriteFile(path string, data []byte, perm fs.FileMode) error
	ReadFile(path string) ([]byte, error)
}

// OSFileSystem uses the os package.
type OSFileSystem struct{}

func (OSFileSystem) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFileSystem) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// WriteResult describes one verified write.
type WriteResult struct {
	Path     string
	Success  bool
	Attempts int
	Verified bool
	Err      error
	// Kind is OutcomeNone on success, otherwise a write outcome.
	Kind framework.OutcomeKind
}

// WriteVerifier writes a file, reads it back and retries transient failures
// with capped exponential backoff.
type WriteVerifier struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	FS          FileSystem
	// Sleep waits between attempts; it returns early with ctx's error.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// NewWriteVerifier builds a verifier from config.
func NewWriteVerifier(cfg framework.WriteConfig) *WriteVerifier {
	return &WriteVerifier{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}
}

// Write persists content at path. Permission errors are returned after the
// first attempt; other failures are retried up to MaxRetries attempts.
func (w *WriteVerifier) Write(ctx context.Context, path, content string) WriteResult {
	result := WriteResult{Path: path}
	attempts := w.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt
		err := w.writeOnce(path, []byte(content))
		if err == nil {
			result.Success = true
			result.Verified = true
			result.Err = nil
			return result
		}
		result.Err = err
		if IsPermanent(err) {
			result.Kind = framework.OutcomeWritePermanentError
			w.logger().Warn("write failed permanently", "path", path, "error", err)
			return result
		}
		if attempt == attempts {
			break
		}
		delay := w.Backoff(attempt)
		w.logger().Debug("write retry", "path", path, "attempt", attempt, "delay", delay, "error", err)
		if err := w.sleep(ctx, delay); err != nil {
			result.Err = err
			break
		}
	}
	result.Kind = framework.OutcomeWriteTransientError
	w.logger().Warn("write failed after retries", "path", path, "attempts", result.Attempts, "error", result.Err)
	return result
}

func (w *WriteVerifier) writeOnce(path string, data []byte) error {
	fsys := w.fs()
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	got, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read back %s: %w", path, err)
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("%s: %w (wrote %d bytes, read %d)", path, ErrContentMismatch, len(data), len(got))
	}
	return nil
}

// Backoff returns the delay after the given failed attempt:
// base * 2^(attempt-1), capped.
func (w *WriteVerifier) Backoff(attempt int) time.Duration {
	base := w.BackoffBase
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if w.BackoffCap > 0 && delay >= w.BackoffCap {
			return w.BackoffCap
		}
	}
	if w.BackoffCap > 0 && delay > w.BackoffCap {
		return w.BackoffCap
	}
	return delay
}

// IsPermanent reports errors that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS)
}

func (w *WriteVerifier) fs() FileSystem {
	if w.FS == nil {
		return OSFileSystem{}
	}
	return w.FS
}

func (w *WriteVerifier) sleep(ctx context.Context, d time.Duration) error {
	if w.Sleep != nil {
		return w.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *WriteVerifier) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
