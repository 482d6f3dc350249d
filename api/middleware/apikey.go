package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/customeros/mailreader/api/errors"
)

type APIKeyConfig struct {
	HeaderName string
	// Keys is a comma separated list so a key can be rotated without downtime.
	Keys string
}

func (c APIKeyConfig) keys() [][]byte {
	var keys [][]byte
	for _, k := range strings.Split(c.Keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return keys
}

// APIKeyMiddleware rejects requests whose key header does not match one of
// the configured keys.
func APIKeyMiddleware(config APIKeyConfig) gin.HandlerFunc {
	accepted := config.keys()

	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader(config.HeaderName))
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierrors.ErrorResponse{Error: "missing API key"})
			return
		}

		if !matchesAny([]byte(presented), accepted) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierrors.ErrorResponse{Error: "invalid API key"})
			return
		}

		c.Next()
	}
}

func matchesAny(presented []byte, accepted [][]byte) bool {
	match := 0
	for _, key := range accepted {
		match |= subtle.ConstantTimeCompare(presented, key)
	}
	return match == 1
}
