package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/namnv2496/bytescript/internal/errors"
	"github.com/namnv2496/bytescript/internal/logger"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Code    errors.ErrorCode `json:"code"`
}

// fail writes err with the HTTP status of its code. Server-side faults are
// logged; caller faults are not.
func (s *Server) fail(c *gin.Context, err error) {
	appErr := errors.GetError(err)
	status := appErr.Code.HTTPStatus()
	if status >= 500 {
		logger.FromContext(s.logger, c.Request.Context()).Error("request failed",
			zap.Int("code", int(appErr.Code)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, errorResponse{Success: false, Error: appErr.Error(), Code: appErr.Code})
}

func (s *Server) failf(c *gin.Context, code errors.ErrorCode, format string, args ...interface{}) {
	s.fail(c, errors.Newf(code, format, args...))
}
