package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-flow/pkg/errors"
)

// Abort attaches err for the error middleware and stops the chain.
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// BindJSON decodes the body into obj. A malformed body aborts the request
// as a validation failure and BindJSON returns false.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		Abort(c, errors.Validation("invalid request body", err))
		return false
	}
	return true
}
