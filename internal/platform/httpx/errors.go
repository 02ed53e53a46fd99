package httpx

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned in API error bodies.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// APIError is an error with an HTTP status and a machine-readable code.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func NewError(status int, code, message string, err error) *APIError {
	return &APIError{Status: status, Code: code, Message: message, Err: err}
}

func BadRequest(message string, err error) *APIError {
	return NewError(http.StatusBadRequest, CodeValidation, message, err)
}

func NotFound(message string, err error) *APIError {
	return NewError(http.StatusNotFound, CodeNotFound, message, err)
}

func Conflict(message string, err error) *APIError {
	return NewError(http.StatusConflict, CodeConflict, message, err)
}

func Unavailable(message string, err error) *APIError {
	return NewError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, err)
}

func Internal(err error) *APIError {
	return NewError(http.StatusInternalServerError, CodeInternal, "Internal server error", err)
}

// Response is the envelope of every API response.
type Response struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

func OK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

func Fail(c *gin.Context, apiErr *APIError) {
	c.AbortWithStatusJSON(apiErr.Status, Response{Success: false, Message: apiErr.Message, Error: apiErr})
}
