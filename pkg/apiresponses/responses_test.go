package apiresponses

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func record(fn func(c *gin.Context)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	fn(c)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		respond func(c *gin.Context)
		status  int
		code    string
		message string
	}{
		{"bad request", func(c *gin.Context) { RespondBadRequest(c, "invalid email address") }, http.StatusBadRequest, CodeBadRequest, "invalid email address"},
		{"not found", func(c *gin.Context) { RespondNotFound(c, "unknown sender") }, http.StatusNotFound, CodeNotFound, "unknown sender"},
		{"unauthorized", func(c *gin.Context) { RespondUnauthorized(c, "invalid bearer token") }, http.StatusUnauthorized, CodeUnauthorized, "invalid bearer token"},
		{"unauthorized default", func(c *gin.Context) { RespondUnauthorized(c, "") }, http.StatusUnauthorized, CodeUnauthorized, "user not authenticated"},
		{"conflict", func(c *gin.Context) { RespondConflict(c, "record already exists") }, http.StatusConflict, CodeConflict, "record already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := record(tt.respond)
			require.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Error)
		})
	}
}

func TestRespondInternalErrorHidesCause(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	w := record(func(c *gin.Context) {
		RespondInternalError(c, "send email", errors.New("535 auth rejected for sender@example.com"), zap.New(core).Sugar())
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "failed to send email", body.Error)
	assert.NotContains(t, w.Body.String(), "535")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to send email", logs.All()[0].Message)

	assert.NotPanics(t, func() {
		record(func(c *gin.Context) { RespondInternalError(c, "send email", errors.New("x"), nil) })
	})
}

func TestRespondTooManyRequestsAborts(t *testing.T) {
	var aborted bool
	w := record(func(c *gin.Context) {
		RespondTooManyRequests(c, "slow down", 3)
		aborted = c.IsAborted()
	})

	assert.True(t, aborted)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decode(t, w).Code)
}

func TestSuccessResponses(t *testing.T) {
	w := record(func(c *gin.Context) { RespondCreated(c, gin.H{"msg": "Record created successfully"}) })
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"msg":"Record created successfully"}`, w.Body.String())

	w = record(func(c *gin.Context) { RespondOK(c, gin.H{"msg": "ok"}) })
	assert.Equal(t, http.StatusOK, w.Code)
}
