package model

import "time"

type Submission struct {
	ID          string    `json:"id" db:"id"`
	ProblemID   string    `json:"problemId" db:"problem_id"`
	UserID      string    `json:"userId" db:"user_id"`
	Code        string    `json:"code" db:"code"`
	Success     bool      `json:"success" db:"success"`
	PassedCount int       `json:"passedCount" db:"passed_count"`
	TotalCount  int       `json:"totalCount" db:"total_count"`
	ResultJSON  string    `json:"result" db:"result_json"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
