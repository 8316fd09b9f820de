package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

// Context keys set by the auth middlewares.
const (
	ContextUserID     = "user_id"
	ContextBusinessID = "business_id"
	ContextRole       = "role"
	ContextToken      = "token"
)

// AuthMiddleware requires a valid "Authorization: Bearer <jwt>" header.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("authorization header missing"))
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("invalid authorization format"))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if !authenticate(c, tokenString) {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("invalid or expired token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, tokenString string) bool {
	claims, err := utils.ParseToken(tokenString)
	if err != nil {
		return false
	}
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextBusinessID, claims.BusinessID)
	c.Set(ContextRole, claims.Role)
	c.Set(ContextToken, tokenString)
	return true
}

// CurrentScope builds the tenant scope of the authenticated principal.
func CurrentScope(c *gin.Context) services.Scope {
	return services.Scope{
		BusinessID: c.GetUint(ContextBusinessID),
		UserID:     c.GetUint(ContextUserID),
		Role:       c.GetString(ContextRole),
	}
}
