package model

// ErrorKind tags why an execution or a single test case failed, so callers can
// tell a timeout apart from a wrong answer.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindInvalidInput ErrorKind = "invalid-input"
	KindRuntimeError ErrorKind = "runtime-error"
	KindTimeout      ErrorKind = "timeout"
	KindWrongAnswer  ErrorKind = "wrong-answer"
	KindStopped      ErrorKind = "stopped"
)

// TestOutcome is the result of running a submission against one TestCase.
type TestOutcome struct {
	TestCase      TestCase  `json:"testCase"`
	Passed        bool      `json:"passed"`
	Output        string    `json:"output"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	ExecutionTime int64     `json:"executionTime"` // milliseconds
	MemoryUsage   int64     `json:"memoryUsage"`   // kilobytes, 0 when unknown
}

// ExecutionResult is produced once per execution request.
type ExecutionResult struct {
	Success     bool          `json:"success"`
	Output      string        `json:"output"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   ErrorKind     `json:"errorKind,omitempty"`
	TestResults []TestOutcome `json:"testResults"`
}

// PassedCount returns how many outcomes passed.
func (r *ExecutionResult) PassedCount() int {
	n := 0
	for _, o := range r.TestResults {
		if o.Passed {
			n++
		}
	}
	return n
}
