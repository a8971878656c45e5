package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/namnv2496/bytescript/internal/errors"
	"github.com/namnv2496/bytescript/internal/model"
)

type createTestCaseRequest struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput" binding:"required"`
	IsPublic       bool   `json:"isPublic"`
}

// listTestCasesHandler returns every case to admins and only the public ones
// to everyone else. `?public=true` narrows an admin listing too.
func (s *Server) listTestCasesHandler(c *gin.Context) {
	cases, err := s.testCases.ListByProblem(c.Request.Context(), c.Param("problemId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	publicOnly := !s.isAdmin(c) || parseBool(c.Query("public"))
	out := make([]model.TestCase, 0, len(cases))
	for _, tc := range cases {
		if publicOnly && !tc.IsPublic {
			continue
		}
		out = append(out, tc)
	}
	c.JSON(http.StatusOK, gin.H{"testCases": out})
}

func (s *Server) createTestCaseHandler(c *gin.Context) {
	var req createTestCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failf(c, errors.InvalidParams, "invalid request: %v", err)
		return
	}
	tc := &model.TestCase{
		ProblemID:      c.Param("problemId"),
		Input:          req.Input,
		ExpectedOutput: req.ExpectedOutput,
		IsPublic:       req.IsPublic,
	}
	if err := s.testCases.Create(c.Request.Context(), tc); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tc)
}

func (s *Server) deleteTestCaseHandler(c *gin.Context) {
	if err := s.testCases.Delete(c.Request.Context(), c.Param("problemId"), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
