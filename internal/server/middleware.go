package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/amoylab/botgate/internal/i18n"

	"github.com/gin-gonic/gin"
	"github.com/ifuryst/lol"
	"go.uber.org/zap"
)

// loggerMiddleware logs every request once it has been served
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Int("status", c.Writer.Status()),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
				)
				s.deps.Translator.RespondWithError(c, i18n.ErrInternalServer)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// corsMiddleware handles CORS configuration
func (s *Server) corsMiddleware(cors *config.CORSConfig) gin.HandlerFunc {
	origins := lol.UniqSlice(cors.AllowOrigins)
	methods := strings.Join(lol.UniqSlice(cors.AllowMethods), ", ")
	headers := strings.Join(lol.UniqSlice(cors.AllowHeaders), ", ")
	expose := strings.Join(lol.UniqSlice(cors.ExposeHeaders), ", ")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		allowed := false
		for _, allowedOrigin := range origins {
			if allowedOrigin == "*" || origin == allowedOrigin {
				allowed = true
				c.Header("Access-Control-Allow-Origin", allowedOrigin)
				break
			}
		}

		if !allowed {
			c.Next()
			return
		}

		if methods != "" {
			c.Header("Access-Control-Allow-Methods", methods)
		}
		if headers != "" {
			c.Header("Access-Control-Allow-Headers", headers)
		}
		if expose != "" {
			c.Header("Access-Control-Expose-Headers", expose)
		}
		if cors.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
