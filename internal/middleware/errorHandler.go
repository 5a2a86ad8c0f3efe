package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/monica-infra/deployer/internal/errdef"
)

// StackError is implemented by errors concerning a single stack.
type StackError interface {
	error
	StackName() string
}

// StackErrorResponse is the body of a conflict caused by a [StackError].
type StackErrorResponse struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// statuses maps error kinds onto HTTP status codes. The first matching kind wins.
var statuses = []struct {
	is     func(error) bool
	status int
}{
	{errdef.IsBadRequest, http.StatusBadRequest},
	{errdef.IsUnauthorized, http.StatusUnauthorized},
	{errdef.IsForbidden, http.StatusForbidden},
	{errdef.IsNotFound, http.StatusNotFound},
	{errdef.IsDuplicated, http.StatusConflict},
	{errdef.IsConflict, http.StatusConflict},
}

func status(err error) (int, bool) {
	for _, s := range statuses {
		if s.is(err) {
			return s.status, true
		}
	}
	return http.StatusInternalServerError, false
}

// ErrorHandler maps the last error of the request onto an HTTP status code. Conflicts concerning a
// stack are answered with a JSON body naming the stack. Errors not classified by errdef are not
// shown to the client, the client gets the correlation ID instead.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}
		if c.Writer.Status() != http.StatusOK {
			_, _ = c.Writer.WriteString(err.Error())
			return
		}

		code, classified := status(err)
		if !classified {
			id, _ := GetCorrelationID(c.Request.Context())
			c.String(code, "deployment service failed unexpectedly, report correlation ID %q", id)
			return
		}

		var stackErr StackError
		if code == http.StatusConflict && errors.As(err, &stackErr) {
			c.JSON(code, StackErrorResponse{Message: stackErr.Error(), Stack: stackErr.StackName()})
			return
		}
		c.String(code, err.Error())
	}
}
