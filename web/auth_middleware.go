package web

import (
	"crypto/sha256"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// apiKeyMiddleware 校验 X-API-Key（bcrypt 哈希），hash 为空时不认证
func apiKeyMiddleware(hash string) gin.HandlerFunc {
	if hash == "" {
		return func(c *gin.Context) { c.Next() }
	}

	// bcrypt 比较较慢，缓存已验证通过的 key 摘要
	var (
		mu       sync.RWMutex
		verified = make(map[[sha256.Size]byte]struct{})
	)

	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			respondError(c, http.StatusUnauthorized, "missing api key")
			return
		}

		sum := sha256.Sum256([]byte(key))
		mu.RLock()
		_, ok := verified[sum]
		mu.RUnlock()

		if !ok {
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				respondError(c, http.StatusUnauthorized, "invalid api key")
				return
			}
			mu.Lock()
			verified[sum] = struct{}{}
			mu.Unlock()
		}

		c.Next()
	}
}
