package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/xerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "csplistener.log"

// parseLevel maps a level name to a slog.Level. Unknown names fall back to
// warn.
func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}

// setupLogging creates the operational logger. It writes text to stderr, or
// to a rotated file in logDir when set.
func setupLogging(logLevel, logDir string, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var (
		target io.Writer = stderr
		closer io.Closer = nopCloser{}
	)

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, xerrors.Errorf("could not set up log dir %s: %w", logDir, err)
		}
		w := newRotatingWriter(filepath.Join(logDir, logFileName))
		target, closer = w, w
	}

	handler := slog.NewTextHandler(target, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})
	return slog.New(handler), closer, nil
}

// setupAuditLog creates the audit logger: one JSON object per line on stdout,
// or in a rotated file when path is set. Every record is emitted regardless
// of the operational log level.
func setupAuditLog(path string, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	var (
		target io.Writer = stdout
		closer io.Closer = nopCloser{}
	)

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, xerrors.Errorf("could not set up audit log dir for %s: %w", path, err)
		}
		w := newRotatingWriter(path)
		target, closer = w, w
	}

	handler := slog.NewJSONHandler(target, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler), closer, nil
}

func newRotatingWriter(filename string) *lumberjackWriteCloseFixer {
	return &lumberjackWriteCloseFixer{Writer: &lumberjack.Logger{
		Filename: filename,
		MaxSize:  100, // MB
		// Without this, rotated logs are never deleted.
		MaxBackups: 5,
	}}
}

// lumberjackWriteCloseFixer prevents writes after Close. lumberjack
// re-opens the file on Write.
type lumberjackWriteCloseFixer struct {
	Writer io.WriteCloser

	mu     sync.Mutex // Protects following.
	closed bool
}

func (c *lumberjackWriteCloseFixer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.Writer.Close()
}

func (c *lumberjackWriteCloseFixer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.Writer.Write(p)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
