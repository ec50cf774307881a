package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the *Result of a request.
const ResultKey = "auth_result"

// GinAuth authenticates every request. GET and HEAD need read access,
// anything else write access.
func (s *Service) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.Authenticate(c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", `Basic realm="mcvisor"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		action := ActionWrite
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			action = ActionRead
		}
		if !Allowed(res.Role, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// LoginHandler serves POST {basePath}/auth/login.
func (s *Service) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	tok, err := s.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tok)
}
