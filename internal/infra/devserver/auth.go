package devserver

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rentme-inbox/internal/infra/obs"
	"rentme-inbox/internal/infra/security"
)

const principalContextKey = "inbox.principal"

type principal struct {
	ID    string
	Name  string
	Token string
}

// AuthMiddleware resolves the session token of a request. Browsers cannot set headers on
// websocket upgrades, so the token query parameter is accepted as well.
type AuthMiddleware struct {
	Tokens *security.TokenRegistry
	Store  *Store
	Logger *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" || m.Tokens == nil {
		c.Next()
		return
	}
	userID, ok := m.Tokens.Resolve(token)
	if !ok {
		if m.Logger != nil {
			m.Logger.Debug("unknown session token", "path", c.FullPath())
		}
		c.Next()
		return
	}
	p := principal{ID: userID, Name: userID, Token: token}
	if m.Store != nil {
		if u, found := m.Store.User(userID); found {
			p.Name = u.Name
		}
	}
	setPrincipal(c, p)
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
	obs.SetUserID(c, p.ID)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
