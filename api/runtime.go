package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/namnv2496/bytescript/internal/executor"
	"github.com/namnv2496/bytescript/internal/logger"
	"github.com/namnv2496/bytescript/internal/model"
)

const (
	healthCode     = "function add(a, b) { return a + b; }"
	healthFunction = "add"
)

var healthCase = model.TestCase{ID: "runtime-health", ProblemID: "runtime-health", Input: "1, 2", ExpectedOutput: "3"}

// testRuntimeHandler runs a fixed trivial test case through the execution path.
func (s *Server) testRuntimeHandler(c *gin.Context) {
	result, err := s.exec.Execute(c.Request.Context(), executor.ExecuteRequest{
		Code:         healthCode,
		FunctionName: healthFunction,
		TestCases:    []model.TestCase{healthCase},
	})
	now := time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		logger.FromContext(s.logger, c.Request.Context()).Error("runtime health check failed to start", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"status":    "degraded",
			"timestamp": now,
			"error":     err.Error(),
		})
		return
	}
	status := "operational"
	code := http.StatusOK
	if !result.Success {
		status = "degraded"
		code = http.StatusInternalServerError
	}
	c.JSON(code, gin.H{
		"success":     result.Success,
		"status":      status,
		"timestamp":   now,
		"testResults": result.TestResults,
	})
}
