package api

import "github.com/gin-gonic/gin"

// Error kinds reported in the "error" field of an error response.
const (
	KindBadRequest = "bad_request"
	KindConflict   = "conflict"
	KindNotFound   = "not_found"
	KindInternal   = "internal_error"
	KindAuth       = "unauthorized"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: kind, Message: message})
}
