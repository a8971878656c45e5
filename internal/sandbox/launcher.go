package sandbox

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

//go:embed prelude.js
var preludeSource []byte

const preludeFileName = "prelude.js"

// ExitInfo describes a finished sandbox process.
type ExitInfo struct {
	ExitCode int
	RunTime  time.Duration
	MemoryKB int64
}

// Process is one running worker. Stdout carries protocol lines, Stdin accepts
// commands. Kill must be safe to call more than once and after exit.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	Kill() error
	Wait() (ExitInfo, error)
}

// Launcher starts isolated worker processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
	Close() error
}

// writePrelude materialises the worker runtime into a fresh directory.
func writePrelude() (string, error) {
	dir, err := os.MkdirTemp("", "bytescript-sandbox")
	if err != nil {
		return "", fmt.Errorf("create prelude dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, preludeFileName), preludeSource, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write prelude: %w", err)
	}
	return dir, nil
}
