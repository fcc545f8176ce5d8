package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/service/gateway"
)

const (
	accessTokenBytes     = 32
	minAccessTokenLength = 8
)

// NewAccessToken returns a random token for the /api and /mcp endpoints.
func NewAccessToken() (string, error) {
	b := make([]byte, accessTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CheckAccessToken rejects operator supplied tokens that could not be sent
// verbatim in a bearer header.
func CheckAccessToken(token string) error {
	if len(token) < minAccessTokenLength {
		return fmt.Errorf("access token must be at least %d characters long", minAccessTokenLength)
	}
	if strings.ContainsFunc(token, unicode.IsSpace) {
		return errors.New("access token must not contain whitespace")
	}
	return nil
}

// requireAccessToken rejects requests without the configured bearer token.
// It lets every request through when no token is configured.
func (s *Server) requireAccessToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.accessToken == "" {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.accessToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid access token"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// errorStatus maps gateway errors to HTTP status codes. Anything unknown is a bad request.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrServerNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrServerExists), errors.Is(err, gateway.ErrServerDisabled):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrNotRemovable):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotConnected):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}
