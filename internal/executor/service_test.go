package executor_test

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/namnv2496/bytescript/internal/errors"
	"github.com/namnv2496/bytescript/internal/executor"
	"github.com/namnv2496/bytescript/internal/model"
	"github.com/namnv2496/bytescript/internal/sandbox"
	"github.com/namnv2496/bytescript/internal/sandbox/sandboxtest"
)

// twoSumWorker answers the two sum harness the way a correct solution would,
// and misbehaves on marker inputs.
func twoSumWorker(w *sandboxtest.Worker) {
	cmd, ok := w.Code()
	if !ok {
		return
	}
	w.Status(sandbox.StatusRunning)
	switch {
	case strings.Contains(cmd.Code, "[[2,7,11,15],9]"):
		w.Post(sandbox.TypeLog, "checking")
		w.Post(sandbox.TypeResult, "[0,1]")
	case strings.Contains(cmd.Code, "[[3,2,4],6]"):
		w.Post(sandbox.TypeResult, "[1,2]")
	case strings.Contains(cmd.Code, `["boom"]`):
		w.Post(sandbox.TypeError, "TypeError: nums.map is not a function")
		w.Status(sandbox.StatusError)
		return
	case strings.Contains(cmd.Code, `["hang"]`):
		w.Post("activity", "arm")
		w.Hang()
		return
	}
	w.Status(sandbox.StatusDone)
}

func newService(t *testing.T, script sandboxtest.Script) (*executor.Service, *sandboxtest.Launcher) {
	t.Helper()
	launcher := &sandboxtest.Launcher{Script: script}
	rt := sandbox.NewRuntime(launcher, sandbox.Config{
		IdleTimeout:  100 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		StopGrace:    50 * time.Millisecond,
	}, nil)
	svc := executor.NewService(rt, nil, executor.Options{CaseTimeout: 2 * time.Second, MaxConcurrent: 2}, nil)
	return svc, launcher
}

func cases(inputs ...string) []model.TestCase {
	out := make([]model.TestCase, 0, len(inputs))
	for i, in := range inputs {
		out = append(out, model.TestCase{ID: string(rune('a' + i)), ProblemID: "two-sum", Input: in, ExpectedOutput: "[0, 1]"})
	}
	return out
}

func TestExecuteCodeAllPass(t *testing.T) {
	svc, launcher := newService(t, twoSumWorker)
	result, err := svc.ExecuteCode(context.Background(), "function twoSum() {}", cases("[2,7,11,15], 9"), "twoSum")
	if err != nil {
		t.Fatalf("ExecuteCode: %v", err)
	}
	if !result.Success || len(result.TestResults) != 1 || !result.TestResults[0].Passed {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.TestResults[0].Output != "[0,1]" {
		t.Fatalf("expected raw output, got %q", result.TestResults[0].Output)
	}
	if result.Output != "checking" {
		t.Fatalf("expected console output, got %q", result.Output)
	}
	if result.TestResults[0].MemoryUsage != 1024 {
		t.Fatalf("expected memory usage from process, got %d", result.TestResults[0].MemoryUsage)
	}
	if launcher.Launched() != 1 {
		t.Fatalf("expected one sandbox, got %d", launcher.Launched())
	}
}

func TestExecuteCodeOneOutcomePerCase(t *testing.T) {
	svc, launcher := newService(t, twoSumWorker)
	tcs := cases("[2,7,11,15], 9", "[3,2,4], 6", `"boom"`, `"hang"`, "[1,2", "[2,7,11,15], 9")
	result, err := svc.ExecuteCode(context.Background(), "function twoSum() {}", tcs, "twoSum")
	if err != nil {
		t.Fatalf("ExecuteCode: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure")
	}
	if len(result.TestResults) != len(tcs) {
		t.Fatalf("expected %d outcomes, got %d", len(tcs), len(result.TestResults))
	}
	want := []struct {
		passed bool
		kind   model.ErrorKind
	}{
		{true, model.KindNone},
		{false, model.KindWrongAnswer},
		{false, model.KindRuntimeError},
		{false, model.KindTimeout},
		{false, model.KindInvalidInput},
		{true, model.KindNone},
	}
	for i, w := range want {
		got := result.TestResults[i]
		if got.TestCase.ID != tcs[i].ID {
			t.Fatalf("outcome %d out of order: %s", i, got.TestCase.ID)
		}
		if got.Passed != w.passed || got.ErrorKind != w.kind {
			t.Fatalf("outcome %d: passed=%v kind=%q, want passed=%v kind=%q", i, got.Passed, got.ErrorKind, w.passed, w.kind)
		}
	}
	if result.TestResults[1].Output != "[1,2]" {
		t.Fatalf("wrong answer must report actual output, got %q", result.TestResults[1].Output)
	}
	if !strings.Contains(result.TestResults[2].Error, "nums.map") {
		t.Fatalf("expected runtime error message, got %q", result.TestResults[2].Error)
	}
	if result.ErrorKind != model.KindWrongAnswer {
		t.Fatalf("expected first failure kind, got %q", result.ErrorKind)
	}
	// The malformed input never reaches a sandbox.
	if launcher.Launched() != len(tcs)-1 {
		t.Fatalf("expected %d sandboxes, got %d", len(tcs)-1, launcher.Launched())
	}
}

func TestExecuteCodeNoCasesIsNotSuccess(t *testing.T) {
	svc, _ := newService(t, twoSumWorker)
	result, err := svc.ExecuteCode(context.Background(), "x", nil, "")
	if err != nil {
		t.Fatalf("ExecuteCode: %v", err)
	}
	if result.Success || len(result.TestResults) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestExecuteStdinCategory(t *testing.T) {
	svc, _ := newService(t, func(w *sandboxtest.Worker) {
		cmd, _ := w.Code()
		for _, line := range strings.Split(cmd.Input, "\n") {
			w.Post(sandbox.TypeLog, strings.ToUpper(line))
		}
		w.Status(sandbox.StatusDone)
	})
	result, err := svc.Execute(context.Background(), executor.ExecuteRequest{
		Code:      "readLines().forEach((l) => console.log(l.toUpperCase()))",
		Category:  executor.CategoryStdin,
		TestCases: []model.TestCase{{ID: "1", Input: "ab\ncd", ExpectedOutput: "AB\nCD\n"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result.TestResults)
	}
}

func TestExecuteStdinGradesOnlyPrintedOutput(t *testing.T) {
	svc, _ := newService(t, func(w *sandboxtest.Worker) {
		cmd, _ := w.Code()
		w.Post(sandbox.TypeWarn, "deprecated API")
		w.Post(sandbox.TypeLog, strings.TrimSpace(cmd.Input)+"!")
		w.Post(sandbox.TypeError, "debug noise")
		w.Status(sandbox.StatusDone)
	})
	result, err := svc.Execute(context.Background(), executor.ExecuteRequest{
		Code:      "console.log(input + '!')",
		Category:  executor.CategoryStdin,
		TestCases: []model.TestCase{{ID: "1", Input: "hi", ExpectedOutput: "hi!"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.TestResults[0].Output != "hi!" {
		t.Fatalf("warnings and errors must not be graded: %+v", result.TestResults)
	}
	if !strings.Contains(result.Output, "debug noise") || !strings.Contains(result.Output, "deprecated API") {
		t.Fatalf("console output should still be reported, got %q", result.Output)
	}
}

func TestExecuteUnknownCategory(t *testing.T) {
	svc, _ := newService(t, twoSumWorker)
	_, err := svc.Execute(context.Background(), executor.ExecuteRequest{Code: "x", Category: "sql", TestCases: cases("1")})
	if !errors.Is(err, errors.UnknownCategory) {
		t.Fatalf("expected unknown category, got %v", err)
	}
}

func TestExecuteLaunchFailureIsReturned(t *testing.T) {
	launcher := &sandboxtest.Launcher{Err: sandboxtest.ErrLaunch}
	svc := executor.NewService(sandbox.NewRuntime(launcher, sandbox.Config{}, nil), nil, executor.Options{}, nil)
	_, err := svc.ExecuteCode(context.Background(), "x", cases("1"), "solution")
	if !errors.Is(err, errors.SandboxStartFailed) {
		t.Fatalf("expected sandbox start failure, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	svc, _ := newService(t, func(w *sandboxtest.Worker) {
		w.Code()
		w.Post(sandbox.TypeLog, "hi")
		w.Post(sandbox.TypeWarn, "careful")
		w.Status(sandbox.StatusDone)
	})
	result, err := svc.Preview(context.Background(), `console.log("hi")`)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !result.Success || result.Output != "hi\ncareful" || len(result.TestResults) != 0 {
		t.Fatalf("unexpected preview %+v", result)
	}
}

func TestStopAllStopsLiveSessions(t *testing.T) {
	svc, _ := newService(t, func(w *sandboxtest.Worker) {
		w.Code()
		w.Status(sandbox.StatusRunning)
		for cmd := range w.Commands() {
			if cmd.Type == "STOP" {
				w.Status(sandbox.StatusStoppedByUser)
				return
			}
		}
	})
	sess, err := svc.Open(context.Background(), "setInterval(() => {}, 10)")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	go func() {
		for range sess.Messages() {
		}
	}()
	if svc.ActiveSessions() != 1 {
		t.Fatalf("expected one live session, got %d", svc.ActiveSessions())
	}
	svc.StopAll()
	if st := sess.Wait().Status; st != sandbox.StatusStoppedByUser {
		t.Fatalf("expected stopped-by-user, got %s", st)
	}
	deadline := time.Now().Add(time.Second)
	for svc.ActiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session was not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecuteCodeWithNode(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
	launcher, err := sandbox.NewLocalLauncher(sandbox.LocalConfig{NodeBinary: "node", MemoryMB: 128})
	if err != nil {
		t.Fatalf("NewLocalLauncher: %v", err)
	}
	defer launcher.Close()
	rt := sandbox.NewRuntime(launcher, sandbox.Config{HardTimeout: 10 * time.Second}, nil)
	svc := executor.NewService(rt, nil, executor.Options{CaseTimeout: 10 * time.Second, MaxConcurrent: 2}, nil)

	code := `function twoSum(nums, target) {
  const seen = new Map();
  for (let i = 0; i < nums.length; i++) {
    if (seen.has(target - nums[i])) return [seen.get(target - nums[i]), i];
    seen.set(nums[i], i);
  }
  return [];
}`
	tcs := []model.TestCase{
		{ID: "1", Input: "[2,7,11,15], 9", ExpectedOutput: "[0,1]"},
		{ID: "2", Input: "[3,2,4], 6", ExpectedOutput: "[0,1]"},
	}
	result, err := svc.ExecuteCode(context.Background(), code, tcs, "twoSum")
	if err != nil {
		t.Fatalf("ExecuteCode: %v", err)
	}
	if !result.TestResults[0].Passed {
		t.Fatalf("expected first case to pass: %+v", result.TestResults[0])
	}
	if result.TestResults[1].Passed || result.TestResults[1].Output != "[1,2]" {
		t.Fatalf("expected wrong answer with actual output, got %+v", result.TestResults[1])
	}
}
