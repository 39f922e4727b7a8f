/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error codes carried in APIError.Code.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
)

// APIError is the body of every error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// RespondBadRequest sends a 400 for malformed JSON, missing fields or
// invalid addresses and messages.
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIError{
		Error: message,
		Code:  CodeBadRequest,
	})
}

// RespondNotFound sends a 404, e.g. for an unknown sender or carrier id.
func RespondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, APIError{
		Error: message,
		Code:  CodeNotFound,
	})
}

// RespondUnauthorized sends a 401. An empty message uses a generic one.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "user not authenticated"
	}
	c.JSON(http.StatusUnauthorized, APIError{
		Error: message,
		Code:  CodeUnauthorized,
	})
}

// RespondConflict sends a 409 for records that already exist.
func RespondConflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, APIError{
		Error: message,
		Code:  CodeConflict,
	})
}

// RespondInternalError logs err and sends a 500 that names only the failed
// operation. Causes such as SMTP replies stay out of the response.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
	}
	c.JSON(http.StatusInternalServerError, APIError{
		Error: fmt.Sprintf("failed to %s", operation),
		Code:  CodeInternal,
	})
}

// RespondTooManyRequests aborts the chain with a 429 and a Retry-After header.
func RespondTooManyRequests(c *gin.Context, message string, retryAfterSeconds int) {
	c.Header("Retry-After", fmt.Sprint(retryAfterSeconds))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, APIError{
		Error: message,
		Code:  CodeRateLimited,
	})
}

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with the given data.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}
