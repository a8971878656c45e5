// Package sandboxtest provides a scriptable in-memory sandbox launcher for tests.
package sandboxtest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/namnv2496/bytescript/internal/sandbox"
)

// Script plays the part of the worker runtime for one process.
type Script func(w *Worker)

// Launcher starts a fake process per Launch and runs Script against it.
type Launcher struct {
	Script Script
	// Err, when set, is returned by Launch.
	Err error

	launched atomic.Int64
	mu       sync.Mutex
	workers  []*Worker
}

func (l *Launcher) Launch(ctx context.Context) (sandbox.Process, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.launched.Add(1)
	w := newWorker()
	l.mu.Lock()
	l.workers = append(l.workers, w)
	l.mu.Unlock()
	go func() {
		if l.Script != nil {
			l.Script(w)
		}
		w.Exit(0)
	}()
	return w.proc, nil
}

func (l *Launcher) Close() error { return nil }

// Launched returns how many processes were started.
func (l *Launcher) Launched() int { return int(l.launched.Load()) }

// Workers returns the workers started so far.
func (l *Launcher) Workers() []*Worker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Worker(nil), l.workers...)
}

// Worker is the script side of a fake process.
type Worker struct {
	proc     *process
	commands chan sandbox.Command
	stopped  atomic.Bool
	nonce    atomic.Value
}

func newWorker() *Worker {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	p := &process{
		stdinW:  stdinW,
		stdinR:  stdinR,
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
		exited:  make(chan struct{}),
		started: time.Now(),
	}
	w := &Worker{proc: p, commands: make(chan sandbox.Command, 8)}
	go w.readCommands()
	return w
}

func (w *Worker) readCommands() {
	defer close(w.commands)
	scanner := bufio.NewScanner(w.proc.stdinR)
	for scanner.Scan() {
		var cmd sandbox.Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			continue
		}
		if cmd.Nonce != "" {
			w.nonce.Store(cmd.Nonce)
		}
		if cmd.Type == "STOP" {
			w.stopped.Store(true)
		}
		select {
		case w.commands <- cmd:
		default:
		}
	}
}

// Code waits for the initial code command.
func (w *Worker) Code() (sandbox.Command, bool) {
	select {
	case cmd, ok := <-w.commands:
		return cmd, ok
	case <-w.proc.exited:
		return sandbox.Command{}, false
	}
}

// Commands yields subsequent host commands such as STOP.
func (w *Worker) Commands() <-chan sandbox.Command { return w.commands }

// StopReceived reports whether a STOP command reached the worker.
func (w *Worker) StopReceived() bool { return w.stopped.Load() }

// Killed is closed when the host killed the process or the script exited.
func (w *Worker) Killed() <-chan struct{} { return w.proc.exited }

// Post writes one protocol message framed with the session nonce. It returns
// false once the process is gone.
func (w *Worker) Post(t sandbox.MessageType, payload any) bool {
	raw, _ := json.Marshal(payload)
	nonce, _ := w.nonce.Load().(string)
	return w.Raw(sandbox.EncodeLine(nonce, sandbox.Message{Type: t, Payload: raw}))
}

// Nonce returns the nonce received with the code command.
func (w *Worker) Nonce() string {
	nonce, _ := w.nonce.Load().(string)
	return nonce
}

// Raw writes an arbitrary stdout line, as user code writing to process.stdout would.
func (w *Worker) Raw(line string) bool {
	_, err := w.proc.stdoutW.Write([]byte(line + "\n"))
	return err == nil
}

// Stderr writes to the process stderr.
func (w *Worker) Stderr(text string) {
	_, _ = w.proc.stderrW.Write([]byte(text))
}

// Status posts a status message.
func (w *Worker) Status(s sandbox.Status) bool {
	return w.Post(sandbox.TypeStatus, string(s))
}

// Exit ends the process with the given code.
func (w *Worker) Exit(code int) {
	w.proc.exit(code)
}

// Hang blocks until the host kills the process.
func (w *Worker) Hang() {
	<-w.proc.exited
}

type process struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	started time.Time

	exitOnce sync.Once
	exited   chan struct{}
	code     int
	killed   atomic.Bool
}

func (p *process) Stdin() io.Writer  { return p.stdinW }
func (p *process) Stdout() io.Reader { return p.stdoutR }
func (p *process) Stderr() io.Reader { return p.stderrR }

func (p *process) exit(code int) {
	p.exitOnce.Do(func() {
		p.code = code
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		close(p.exited)
	})
}

func (p *process) Kill() error {
	p.killed.Store(true)
	p.exit(137)
	return nil
}

func (p *process) Wait() (sandbox.ExitInfo, error) {
	<-p.exited
	return sandbox.ExitInfo{ExitCode: p.code, RunTime: time.Since(p.started), MemoryKB: 1024}, nil
}

// ErrLaunch is a convenience launch failure.
var ErrLaunch = errors.New("sandbox launch failed")
