package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxLineBytes   = 1 << 20
	maxStderrBytes = 4096
	messageBuffer  = 256
)

// Config holds the timing and output limits of a Runtime.
type Config struct {
	IdleTimeout    time.Duration
	PollInterval   time.Duration
	HardTimeout    time.Duration
	StopGrace      time.Duration
	MaxOutputBytes int
}

// Runtime starts sandbox sessions on a Launcher. It holds no per-run state;
// every Start produces an independent session.
type Runtime struct {
	launcher Launcher
	cfg      Config
	logger   *zap.Logger
}

func NewRuntime(launcher Launcher, cfg Config, logger *zap.Logger) *Runtime {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2000 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{launcher: launcher, cfg: cfg, logger: logger}
}

// Request is the code to run. HardTimeout overrides the runtime default when set.
type Request struct {
	Code        string
	Input       string
	HardTimeout time.Duration
}

// Termination summarises a finished session.
type Termination struct {
	Status    Status
	Error     string
	Result    *string
	RunTime   time.Duration
	MemoryKB  int64
	ExitCode  int
	Truncated bool
}

// Session is one sandbox instance. Messages are delivered in the order the
// worker wrote them; the channel closes after the terminal status message.
type Session struct {
	id     string
	nonce  string
	proc   Process
	cfg    Config
	wd     *Watchdog
	logger *zap.Logger

	msgs   chan Message
	stopCh chan struct{}
	quit   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	stdinMu  sync.Mutex

	stderr      strings.Builder
	outputBytes int
	lastError   string
	result      *string
	status      Status
	truncated   bool
	term        Termination
	started     time.Time
}

// Start launches a worker and sends it the code. A launch failure is returned
// as an error; faults inside user code are reported through the session.
func (r *Runtime) Start(ctx context.Context, req Request) (*Session, error) {
	proc, err := r.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch sandbox: %w", err)
	}

	s := &Session{
		id:      uuid.NewString(),
		nonce:   uuid.NewString(),
		proc:    proc,
		cfg:     r.cfg,
		wd:      NewWatchdog(r.cfg.IdleTimeout, r.cfg.PollInterval),
		msgs:    make(chan Message, messageBuffer),
		stopCh:  make(chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	s.logger = r.logger.With(zap.String("session", s.id))

	if err := s.send(Command{Code: req.Code, Input: req.Input, Nonce: s.nonce}); err != nil {
		_ = proc.Kill()
		_, _ = proc.Wait()
		return nil, fmt.Errorf("send code to sandbox: %w", err)
	}

	hardTimeout := r.cfg.HardTimeout
	if req.HardTimeout > 0 {
		hardTimeout = req.HardTimeout
	}
	go s.supervise(ctx, hardTimeout)
	return s, nil
}

// Run starts a session and collects every message until it terminates.
func (r *Runtime) Run(ctx context.Context, req Request) (Termination, []Message, error) {
	s, err := r.Start(ctx, req)
	if err != nil {
		return Termination{}, nil, err
	}
	var msgs []Message
	for m := range s.Messages() {
		msgs = append(msgs, m)
	}
	return s.Wait(), msgs, nil
}

func (s *Session) ID() string { return s.id }

// Messages returns the worker messages, closed after the terminal status.
func (s *Session) Messages() <-chan Message { return s.msgs }

// Done is closed once the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop asks the worker to cancel its timers and exit. If it does not comply
// within the grace period the process is killed.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Wait blocks until the session terminates. Callers must drain Messages or
// the session can stall once its buffer is full.
func (s *Session) Wait() Termination {
	<-s.done
	return s.term
}

func (s *Session) send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	_, err = s.proc.Stdin().Write(append(data, '\n'))
	return err
}

func (s *Session) supervise(ctx context.Context, hardTimeout time.Duration) {
	events := make(chan Message)
	g := new(errgroup.Group)
	g.Go(func() error { return s.readStdout(events) })
	g.Go(func() error { return s.readStderr() })

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	idle := s.wd.Watch(watchCtx)

	var deadline <-chan time.Time
	if hardTimeout > 0 {
		timer := time.NewTimer(hardTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var grace <-chan time.Time
	stopCh := s.stopCh
	final := Status("")

loop:
	for {
		select {
		case m, ok := <-events:
			if !ok {
				break loop
			}
			if st := s.handle(m); st.Terminal() {
				final = st
				break loop
			}
		case <-idle:
			final = StatusIdleTimeout
			break loop
		case <-deadline:
			final = StatusDeadlineExceeded
			break loop
		case <-ctx.Done():
			final = StatusStoppedByUser
			if ctx.Err() == context.DeadlineExceeded {
				final = StatusDeadlineExceeded
			}
			break loop
		case <-stopCh:
			stopCh = nil
			if err := s.send(StopCommand); err != nil {
				s.logger.Debug("send stop failed", zap.Error(err))
			}
			timer := time.NewTimer(s.cfg.StopGrace)
			defer timer.Stop()
			grace = timer.C
		case <-grace:
			final = StatusStoppedByUser
			break loop
		}
	}

	if err := s.proc.Kill(); err != nil {
		s.logger.Warn("kill sandbox failed", zap.Error(err))
	}
	close(s.quit)
	_ = g.Wait()

	info, waitErr := s.proc.Wait()
	if waitErr != nil {
		s.logger.Warn("wait sandbox failed", zap.Error(waitErr))
	}

	if final == "" {
		// The worker exited without reporting a terminal status.
		final = StatusDone
		if info.ExitCode != 0 || waitErr != nil {
			final = StatusError
			if s.lastError == "" {
				s.lastError = s.exitDescription(info)
			}
		}
	}
	if s.status != final {
		s.emit(statusMessage(final))
	}

	s.term = Termination{
		Status:    final,
		Result:    s.result,
		RunTime:   time.Since(s.started),
		MemoryKB:  info.MemoryKB,
		ExitCode:  info.ExitCode,
		Truncated: s.truncated,
	}
	switch final {
	case StatusError:
		s.term.Error = s.lastError
	case StatusIdleTimeout:
		s.term.Error = fmt.Sprintf("no activity for %s", s.cfg.IdleTimeout)
	case StatusDeadlineExceeded:
		s.term.Error = "execution time limit exceeded"
	}
	s.logger.Debug("sandbox finished",
		zap.String("status", string(final)),
		zap.Duration("runtime", s.term.RunTime),
	)
	close(s.msgs)
	close(s.done)
}

// handle applies one worker message and returns its status, if any.
func (s *Session) handle(m Message) Status {
	s.wd.Touch()
	switch m.Type {
	case typeActivity:
		if m.Text() == "arm" {
			s.wd.Arm()
		}
		return ""
	case TypeResult:
		text := m.Text()
		s.result = &text
	case TypeStatus:
		st := m.Status()
		if st == StatusKeepAliveEnabled {
			s.wd.KeepAlive()
		}
		s.status = st
		s.emit(m)
		return st
	case TypeError:
		s.lastError = m.Text()
	}
	s.emitOutput(m)
	return ""
}

func (s *Session) emitOutput(m Message) {
	if s.cfg.MaxOutputBytes <= 0 {
		s.emit(m)
		return
	}
	if s.outputBytes+len(m.Payload) > s.cfg.MaxOutputBytes {
		if !s.truncated {
			s.truncated = true
			s.emit(NewMessage(TypeWarn, "output truncated"))
		}
		return
	}
	s.outputBytes += len(m.Payload)
	s.emit(m)
}

func (s *Session) emit(m Message) {
	s.msgs <- m
}

// readStdout forwards messages until quit, then keeps reading to EOF so the
// writer side of the pipe never blocks on a session that stopped listening.
func (s *Session) readStdout(events chan<- Message) error {
	defer close(events)
	stdout := s.proc.Stdout()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	quit := s.quit
	for scanner.Scan() {
		if quit == nil {
			continue
		}
		for _, m := range decodeLine(scanner.Text(), s.nonce) {
			select {
			case events <- m:
			case <-quit:
				quit = nil
			}
			if quit == nil {
				break
			}
		}
	}
	err := scanner.Err()
	if err != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}
	return err
}

func (s *Session) readStderr() error {
	buf := make([]byte, 1024)
	for {
		n, err := s.proc.Stderr().Read(buf)
		if n > 0 && s.stderr.Len() < maxStderrBytes {
			s.stderr.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (s *Session) exitDescription(info ExitInfo) string {
	msg := strings.TrimSpace(s.stderr.String())
	if msg == "" {
		msg = fmt.Sprintf("sandbox exited with code %d", info.ExitCode)
	}
	return msg
}
