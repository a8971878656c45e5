package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/namnv2496/bytescript/internal/errors"
	"github.com/namnv2496/bytescript/internal/model"
	"github.com/namnv2496/bytescript/internal/sandbox"
)

const (
	CategoryFunction = "function"
	CategoryStdin    = "stdin"

	defaultFunctionName = "solution"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ProblemRunner maps a test case onto a sandbox run for one input-shape
// convention, and extracts the actual output from the finished run.
type ProblemRunner interface {
	Name() string
	Prepare(code, functionName string, tc model.TestCase) (sandbox.Request, error)
	Output(term sandbox.Termination, logs []string) string
}

// Registry resolves runners by category name.
type Registry struct {
	runners map[string]ProblemRunner
}

func NewRegistry(runners ...ProblemRunner) *Registry {
	r := &Registry{runners: make(map[string]ProblemRunner, len(runners))}
	for _, runner := range runners {
		r.runners[runner.Name()] = runner
	}
	return r
}

// DefaultRegistry knows the function-call and stdin conventions.
func DefaultRegistry() *Registry {
	return NewRegistry(FunctionRunner{}, StdinRunner{})
}

// Resolve picks the runner for category. An empty category means "function"
// when a function name is given and "stdin" otherwise.
func (r *Registry) Resolve(category, functionName string) (ProblemRunner, error) {
	if category == "" {
		category = CategoryStdin
		if functionName != "" {
			category = CategoryFunction
		}
	}
	runner, ok := r.runners[category]
	if !ok {
		return nil, errors.Newf(errors.UnknownCategory, "unknown problem category %q", category)
	}
	return runner, nil
}

// FunctionRunner calls a named function with arguments parsed from the test
// input, which is a comma-separated list of JSON values such as `[2,7,11,15], 9`.
type FunctionRunner struct{}

func (FunctionRunner) Name() string { return CategoryFunction }

func (FunctionRunner) Prepare(code, functionName string, tc model.TestCase) (sandbox.Request, error) {
	if functionName == "" {
		functionName = defaultFunctionName
	}
	if !identifierPattern.MatchString(functionName) {
		return sandbox.Request{}, fmt.Errorf("invalid function name %q", functionName)
	}
	args, err := ParseArguments(tc.Input)
	if err != nil {
		return sandbox.Request{}, err
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return sandbox.Request{}, fmt.Errorf("encode arguments: %w", err)
	}

	var b strings.Builder
	b.WriteString(code)
	b.WriteString("\n;\n")
	fmt.Fprintf(&b, "if (typeof %s !== 'function') { throw new Error('function %s is not defined'); }\n", functionName, functionName)
	fmt.Fprintf(&b, "__result(await %s(...%s));\n", functionName, argsJSON)
	return sandbox.Request{Code: b.String()}, nil
}

func (FunctionRunner) Output(term sandbox.Termination, _ []string) string {
	if term.Result == nil {
		return ""
	}
	return *term.Result
}

// ParseArguments parses a comma-separated list of JSON values.
func ParseArguments(input string) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return []json.RawMessage{}, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal([]byte("["+trimmed+"]"), &args); err != nil {
		return nil, fmt.Errorf("test input is not a list of JSON values: %w", err)
	}
	return args, nil
}

// StdinRunner exposes the test input to the program through the `input`
// global and `readLines()`, and takes what it printed with console.log or
// console.table as output. Warnings and errors are not graded.
type StdinRunner struct{}

func (StdinRunner) Name() string { return CategoryStdin }

func (StdinRunner) Prepare(code, _ string, tc model.TestCase) (sandbox.Request, error) {
	return sandbox.Request{Code: code, Input: tc.Input}, nil
}

func (StdinRunner) Output(_ sandbox.Termination, stdout []string) string {
	return strings.Join(stdout, "\n")
}
