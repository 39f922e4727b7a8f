package system

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetReqLoggerFallbackWhenContextNil(t *testing.T) {
	fallback := zap.NewNop().Sugar()
	require.Same(t, fallback, GetReqLogger(nil, fallback))
}

func TestGetReqLoggerFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	stored := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, stored)
	require.Same(t, stored, GetReqLogger(ctx, zap.NewNop().Sugar()))
}

func TestGetReqLoggerIgnoresInvalidTypes(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	fallback := zap.NewNop().Sugar()
	ctx.Set(ReqLoggerKey, "not-a-logger")
	require.Same(t, fallback, GetReqLogger(ctx, fallback))
}

func TestEnrichReqLoggerWithAuthAddsSubject(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Set(SubjectKey, "ops-bot")

	core, recorded := observer.New(zap.InfoLevel)
	EnrichReqLoggerWithAuth(ctx, zap.New(core).Sugar()).Infow("sent")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "ops-bot", entries[0].ContextMap()["subject"])
}

func TestEnrichReqLoggerWithAuthWithoutSubject(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Set(SubjectKey, "")

	core, recorded := observer.New(zap.InfoLevel)
	EnrichReqLoggerWithAuth(ctx, zap.New(core).Sugar()).Infow("sent")
	require.NotContains(t, recorded.All()[0].ContextMap(), "subject")
}

func TestEnrichReqLoggerWithAuthHandlesNil(t *testing.T) {
	sugar := zap.NewNop().Sugar()
	require.Same(t, sugar, EnrichReqLoggerWithAuth(nil, sugar))
	require.Nil(t, EnrichReqLoggerWithAuth(&gin.Context{}, nil))
}
