package executor

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/namnv2496/bytescript/internal/errors"
	"github.com/namnv2496/bytescript/internal/logger"
	"github.com/namnv2496/bytescript/internal/model"
	"github.com/namnv2496/bytescript/internal/sandbox"
)

// Options tunes the execution service.
type Options struct {
	// CaseTimeout is the hard wall-clock limit of a single test case run.
	CaseTimeout time.Duration
	// MaxConcurrent bounds the number of sandbox processes alive at once.
	MaxConcurrent int64
}

// ExecuteRequest is a submission to run against a list of test cases.
type ExecuteRequest struct {
	Code         string
	FunctionName string
	Category     string
	TestCases    []model.TestCase
}

// Service runs user code in sandboxes and grades it against test cases.
// Every run gets its own sandbox instance; nothing is shared between calls.
type Service struct {
	runtime  *sandbox.Runtime
	runners  *Registry
	sem      *semaphore.Weighted
	opts     Options
	sessions *xsync.MapOf[string, *sandbox.Session]
	logger   *zap.Logger
}

func NewService(runtime *sandbox.Runtime, runners *Registry, opts Options, logger *zap.Logger) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if runners == nil {
		runners = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		runtime:  runtime,
		runners:  runners,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		opts:     opts,
		sessions: xsync.NewMapOf[string, *sandbox.Session](),
		logger:   logger,
	}
}

// ExecuteCode runs code against testCases, calling functionName when set.
func (s *Service) ExecuteCode(ctx context.Context, code string, testCases []model.TestCase, functionName string) (*model.ExecutionResult, error) {
	return s.Execute(ctx, ExecuteRequest{Code: code, TestCases: testCases, FunctionName: functionName})
}

// Execute produces exactly one outcome per test case, in input order. Faults
// in user code are reported inside the result; the returned error is reserved
// for infrastructure failures.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*model.ExecutionResult, error) {
	runner, err := s.runners.Resolve(req.Category, req.FunctionName)
	if err != nil {
		return nil, err
	}

	result := &model.ExecutionResult{TestResults: make([]model.TestOutcome, 0, len(req.TestCases))}
	var output []string
	for _, tc := range req.TestCases {
		outcome, logs, err := s.runCase(ctx, runner, req, tc)
		if err != nil {
			return nil, err
		}
		output = append(output, logs...)
		result.TestResults = append(result.TestResults, outcome)
	}

	result.Output = strings.Join(output, "\n")
	result.Success = len(result.TestResults) > 0
	for _, o := range result.TestResults {
		if o.Passed {
			continue
		}
		result.Success = false
		if result.ErrorKind == model.KindNone {
			result.Error = o.Error
			result.ErrorKind = o.ErrorKind
		}
	}
	logger.FromContext(s.logger, ctx).Info("execution finished",
		zap.String("runner", runner.Name()),
		zap.Int("cases", len(result.TestResults)),
		zap.Int("passed", result.PassedCount()),
	)
	return result, nil
}

func (s *Service) runCase(ctx context.Context, runner ProblemRunner, req ExecuteRequest, tc model.TestCase) (model.TestOutcome, []string, error) {
	outcome := model.TestOutcome{TestCase: tc}
	sreq, err := runner.Prepare(req.Code, req.FunctionName, tc)
	if err != nil {
		outcome.Error = err.Error()
		outcome.ErrorKind = model.KindInvalidInput
		return outcome, nil, nil
	}
	sreq.HardTimeout = s.opts.CaseTimeout

	sess, err := s.open(ctx, sreq)
	if err != nil {
		return outcome, nil, err
	}
	logs, stdout := collectLogs(sess)
	term := sess.Wait()

	outcome.Output = strings.TrimSpace(runner.Output(term, stdout))
	outcome.ExecutionTime = term.RunTime.Milliseconds()
	outcome.MemoryUsage = term.MemoryKB

	switch kind := kindOf(term.Status); {
	case kind != model.KindNone:
		outcome.ErrorKind = kind
		outcome.Error = term.Error
		if outcome.Error == "" {
			outcome.Error = string(term.Status)
		}
	case OutputsMatch(outcome.Output, tc.ExpectedOutput):
		outcome.Passed = true
	default:
		outcome.ErrorKind = model.KindWrongAnswer
		outcome.Error = "output does not match expected output"
	}
	return outcome, logs, nil
}

// Preview runs code once without grading, the playground dry-run mode.
func (s *Service) Preview(ctx context.Context, code string) (*model.ExecutionResult, error) {
	sess, err := s.Open(ctx, code)
	if err != nil {
		return nil, err
	}
	logs, _ := collectLogs(sess)
	term := sess.Wait()
	result := &model.ExecutionResult{
		Success:     term.Status == sandbox.StatusDone,
		Output:      strings.Join(logs, "\n"),
		Error:       term.Error,
		ErrorKind:   kindOf(term.Status),
		TestResults: []model.TestOutcome{},
	}
	return result, nil
}

// Open starts a preview session whose messages the caller streams. The caller
// must drain Messages.
func (s *Service) Open(ctx context.Context, code string) (*sandbox.Session, error) {
	return s.open(ctx, sandbox.Request{Code: code})
}

func (s *Service) open(ctx context.Context, req sandbox.Request) (*sandbox.Session, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrapf(err, errors.ServiceUnavailable, "no sandbox slot available: %v", err)
	}
	sess, err := s.runtime.Start(ctx, req)
	if err != nil {
		s.sem.Release(1)
		logger.FromContext(s.logger, ctx).Error("sandbox start failed", zap.Error(err))
		return nil, errors.Wrap(err, errors.SandboxStartFailed)
	}
	s.sessions.Store(sess.ID(), sess)
	go func() {
		<-sess.Done()
		s.sessions.Delete(sess.ID())
		s.sem.Release(1)
	}()
	return sess, nil
}

// ActiveSessions returns the number of live sandboxes.
func (s *Service) ActiveSessions() int {
	return s.sessions.Size()
}

// StopAll asks every live sandbox to stop, used on shutdown.
func (s *Service) StopAll() {
	s.sessions.Range(func(_ string, sess *sandbox.Session) bool {
		sess.Stop()
		return true
	})
}

// collectLogs drains sess. It returns every console line for display and,
// separately, only the log and table lines a program meant as its output.
func collectLogs(sess *sandbox.Session) (logs, stdout []string) {
	for m := range sess.Messages() {
		switch m.Type {
		case sandbox.TypeLog, sandbox.TypeTable:
			logs = append(logs, m.Text())
			stdout = append(stdout, m.Text())
		case sandbox.TypeError, sandbox.TypeWarn:
			logs = append(logs, m.Text())
		}
	}
	return logs, stdout
}

func kindOf(status sandbox.Status) model.ErrorKind {
	switch {
	case status.TimedOut():
		return model.KindTimeout
	case status == sandbox.StatusError:
		return model.KindRuntimeError
	case status == sandbox.StatusStoppedByUser:
		return model.KindStopped
	}
	return model.KindNone
}
