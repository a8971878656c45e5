package model

import "time"

// TestCase is an (input, expectedOutput) pair owned by the problem-authoring workflow.
// It is never modified while a submission is being executed.
type TestCase struct {
	ID             string    `json:"id" db:"id" yaml:"id"`
	ProblemID      string    `json:"problemId" db:"problem_id" yaml:"problemId"`
	Input          string    `json:"input" db:"input" yaml:"input"`
	ExpectedOutput string    `json:"expectedOutput" db:"expected_output" yaml:"expectedOutput"`
	IsPublic       bool      `json:"isPublic" db:"is_public" yaml:"isPublic"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at" yaml:"-"`
}
