package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/session"
)

const sessionContextKey = "admin_session"

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := logger.Logger.Info()
		if status >= http.StatusInternalServerError {
			evt = logger.Logger.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", GetClientIP(c.Request)).
			Msg("http request")
	}
}

// requestTimeout bounds the store round trips of one request.
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// sessionToken reads the token from the session cookie or a bearer header.
func (s *Server) sessionToken(c *gin.Context) string {
	return requestToken(c.Request, s.opts.CookieName)
}

func requestToken(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.sessions.Lookup(c.Request.Context(), s.sessionToken(c))
		if errors.Is(err, session.ErrNoSession) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// AdminAuthorizer reports whether a plain HTTP request carries a live admin
// session. Handlers mounted outside the gin admin group use it.
func AdminAuthorizer(sessions *session.Manager, cookieName string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		_, err := sessions.Lookup(r.Context(), requestToken(r, cookieName))
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			logger.Logger.Warn().Err(err).Msg("admin session lookup failed")
		}
		return err == nil
	}
}

// GetClientIP takes the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address.
func GetClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
