package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/keygate-io/keygate/internal/auth/apikey"
)

// ErrorBody is the structured error response emitted for every
// rejected request.
type ErrorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code alongside the
// human-readable message.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// AbortWithRejection writes the structured error body for a rejection
// and aborts the request.
func AbortWithRejection(c *gin.Context, rejection *apikey.Rejection) {
	c.AbortWithStatusJSON(rejection.HTTPStatus(), ErrorBody{
		Success: false,
		Error: ErrorDetail{
			Code:    string(rejection.Code),
			Message: rejection.Message,
			Details: rejection.Details,
		},
	})
}
