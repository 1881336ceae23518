package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/internal/handler"
	"github.com/jwalitptl/patient-flow/pkg/errors"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/validator"
)

// ErrorHandler renders the last error a handler attached with c.Error. The
// status comes from the error itself when it knows one.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			log.ZL.Warn().
				Err(e.Err).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last().Err
		status := http.StatusInternalServerError
		var coded interface{ StatusCode() int }
		if stderrors.As(lastErr, &coded) {
			status = coded.StatusCode()
		}

		resp := handler.NewErrorResponse(message(lastErr, status))
		var fields validator.Errors
		if stderrors.As(lastErr, &fields) {
			resp.Data = fields
		}
		c.JSON(status, resp)
	}
}

// message keeps internal detail out of 5xx bodies.
func message(err error, status int) string {
	if status >= 500 {
		if kind := errors.KindOf(err); kind != errors.KindUnknown {
			return errors.MessageFor(kind)
		}
		return "Internal server error"
	}
	return err.Error()
}
