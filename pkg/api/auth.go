package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/apiresponses"
	"github.com/telekom/mail-sms-gateway/pkg/system"
)

const (
	AuthHeaderKey = "Authorization"
	// SubjectKey holds the verified "sub" claim in the gin context.
	SubjectKey = system.SubjectKey
)

// NewJWTMiddleware verifies HS256 bearer tokens signed with secret. When
// issuer is set, tokens must carry a matching "iss" claim.
func NewJWTMiddleware(secret []byte, issuer string, log *zap.SugaredLogger) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)
		bearer, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || bearer == "" {
			apiresponses.RespondUnauthorized(c, "No Bearer token provided in Authorization header")
			c.Abort()
			return
		}

		claims := jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(bearer, &claims, keyFunc)
		if err != nil || !token.Valid {
			system.GetReqLogger(c, log).Debugw("Rejected bearer token", "error", err)
			apiresponses.RespondUnauthorized(c, "invalid bearer token")
			c.Abort()
			return
		}
		if issuer != "" && !claims.VerifyIssuer(issuer, true) {
			apiresponses.RespondUnauthorized(c, "unexpected token issuer")
			c.Abort()
			return
		}

		c.Set(SubjectKey, claims.Subject)
		if reqLog := system.GetReqLogger(c, nil); reqLog != nil {
			c.Set(system.ReqLoggerKey, system.EnrichReqLoggerWithAuth(c, reqLog))
		}
		c.Next()
	}
}
