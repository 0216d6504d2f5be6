// internal/middleware/helpers.go
package middleware

import (
	"condo-session/internal/domain/user"

	"github.com/gin-gonic/gin"
)

// GetUser returns the user stored by Auth.
func GetUser(c *gin.Context) (*user.User, bool) {
	v, exists := c.Get(userKey)
	if !exists {
		return nil, false
	}
	u, ok := v.(*user.User)
	return u, ok && u != nil
}

// MustGetUser gets the session user from context or panics
func MustGetUser(c *gin.Context) *user.User {
	u, exists := GetUser(c)
	if !exists {
		panic("session user not found in context")
	}
	return u
}
