package api

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/namnv2496/bytescript/internal/errors"
	"github.com/namnv2496/bytescript/internal/executor"
	"github.com/namnv2496/bytescript/internal/logger"
	"github.com/namnv2496/bytescript/internal/model"
)

const submissionIDHeader = "X-Submission-Id"

var utf8BOM = []byte("\xef\xbb\xbf")

type executeRequest struct {
	Code         string     `json:"code"`
	ProblemID    problemRef `json:"problemId"`
	FunctionName string     `json:"functionName"`
	Category     string     `json:"category"`
}

// problemRef accepts a problem id sent either as a JSON string or a number.
type problemRef string

func (p *problemRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = problemRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return stderrors.New("problemId must be a string or a number")
	}
	*p = problemRef(n.String())
	return nil
}

// decodeExecuteRequest parses the body once, tolerating a BOM and surrounding
// whitespace.
func (s *Server) decodeExecuteRequest(c *gin.Context) (*executeRequest, error) {
	limit := int64(s.cfg.Executor.MaxCodeBytes)*2 + 64*1024
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.Newf(errors.CodeTooLarge, "request body exceeds %d bytes", limit)
		}
		return nil, errors.Newf(errors.InvalidParams, "read request body: %v", err)
	}
	body = bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(body), utf8BOM))
	if len(body) == 0 {
		return nil, errors.Newf(errors.InvalidParams, "request body is empty")
	}

	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.Newf(errors.InvalidParams, "invalid JSON body: %v", err)
	}
	switch {
	case req.Code == "":
		return nil, errors.Newf(errors.InvalidParams, "code is required")
	case req.ProblemID == "":
		return nil, errors.Newf(errors.InvalidParams, "problemId is required")
	case s.cfg.Executor.MaxCodeBytes > 0 && len(req.Code) > s.cfg.Executor.MaxCodeBytes:
		return nil, errors.Newf(errors.CodeTooLarge, "code exceeds %d bytes", s.cfg.Executor.MaxCodeBytes)
	}
	return &req, nil
}

func (s *Server) executeHandler(c *gin.Context) {
	req, err := s.decodeExecuteRequest(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	problemID := string(req.ProblemID)

	cases, err := s.testCases.ListByProblem(ctx, problemID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(cases) == 0 {
		s.failf(c, errors.TestCasesNotFound, "no test cases found for problem %s", problemID)
		return
	}

	result, err := s.exec.Execute(ctx, executor.ExecuteRequest{
		Code:         req.Code,
		FunctionName: req.FunctionName,
		Category:     req.Category,
		TestCases:    cases,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if !s.isAdmin(c) {
		hideNonPublicCases(result)
	}

	if s.cfg.Executor.SaveSubmissions && s.submissions != nil {
		if id, err := s.saveSubmission(c, problemID, req.Code, result); err != nil {
			logger.FromContext(s.logger, ctx).Warn("save submission failed", zap.Error(err))
		} else {
			c.Header(submissionIDHeader, id)
		}
	}
	c.JSON(http.StatusOK, result)
}

// hideNonPublicCases blanks the input and expected output of hidden cases, so
// grading a submission reveals no more than the test case listing does.
func hideNonPublicCases(result *model.ExecutionResult) {
	for i := range result.TestResults {
		tc := &result.TestResults[i].TestCase
		if !tc.IsPublic {
			tc.Input = ""
			tc.ExpectedOutput = ""
		}
	}
}

func (s *Server) saveSubmission(c *gin.Context, problemID, code string, result *model.ExecutionResult) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	sub := &model.Submission{
		ProblemID:   problemID,
		UserID:      userID(c),
		Code:        code,
		Success:     result.Success,
		PassedCount: result.PassedCount(),
		TotalCount:  len(result.TestResults),
		ResultJSON:  string(data),
	}
	if err := s.submissions.Create(c.Request.Context(), sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

type submissionView struct {
	ID          string          `json:"id"`
	ProblemID   string          `json:"problemId"`
	UserID      string          `json:"userId"`
	Code        string          `json:"code"`
	Success     bool            `json:"success"`
	PassedCount int             `json:"passedCount"`
	TotalCount  int             `json:"totalCount"`
	Result      json.RawMessage `json:"result"`
	CreatedAt   string          `json:"createdAt"`
}

func (s *Server) getSubmissionHandler(c *gin.Context) {
	if s.submissions == nil {
		s.failf(c, errors.SubmissionNotFound, "submissions are not recorded")
		return
	}
	sub, err := s.submissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	// Callers only see their own submissions unless they are admins.
	if s.verifier.Enabled() && !s.isAdmin(c) && sub.UserID != userID(c) {
		s.failf(c, errors.SubmissionNotFound, "submission %s not found", sub.ID)
		return
	}
	c.JSON(http.StatusOK, submissionView{
		ID:          sub.ID,
		ProblemID:   sub.ProblemID,
		UserID:      sub.UserID,
		Code:        sub.Code,
		Success:     sub.Success,
		PassedCount: sub.PassedCount,
		TotalCount:  sub.TotalCount,
		Result:      json.RawMessage(sub.ResultJSON),
		CreatedAt:   sub.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
