package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// Wallet API authentication. The token gates everything that can move or
// reveal funds: /transfer, /outputs, /balance, the sync controls. Reads
// VEILWALLET_API_TOKEN once at router setup; when unset the wallet runs in
// open local-dev mode.
//
// Browser websocket clients cannot set an Authorization header, so the
// token is also accepted as a ?token= query parameter.

const authTokenEnv = "VEILWALLET_API_TOKEN"

// AuthMiddleware validates the wallet API token on protected routes.
func AuthMiddleware() gin.HandlerFunc {
	token := os.Getenv(authTokenEnv)

	if token == "" && os.Getenv("GIN_MODE") == "release" {
		log.Printf("[SECURITY WARNING] %s is not set in release mode. "+
			"Anyone who can reach this port can spend from the wallet. "+
			"Set %s before exposing the API beyond localhost.", authTokenEnv, authTokenEnv)
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		supplied, ok := suppliedToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "this wallet API requires a bearer token",
				"hint":  "send Authorization: Bearer <" + authTokenEnv + "> or ?token=",
			})
			c.Abort()
			return
		}

		// Constant-time compare so the token cannot be enumerated byte by
		// byte off response timing.
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid wallet API token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// suppliedToken extracts the credential from the Authorization header or,
// failing that, the token query parameter.
func suppliedToken(c *gin.Context) (string, bool) {
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1], true
		}
		return "", false
	}
	if q := c.Query("token"); q != "" {
		return q, true
	}
	return "", false
}
