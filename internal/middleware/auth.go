package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/internal/handler"
	"github.com/jwalitptl/patient-flow/internal/session"
)

const ContextUserID = "user_id"

// RequireSession rejects requests while the desk has no valid session, so
// actions are never sent to the backend without a token.
func RequireSession(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sess.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("no active session"))
			return
		}
		if u, ok := sess.User(); ok {
			c.Set(ContextUserID, u.ID)
		}
		c.Next()
	}
}
