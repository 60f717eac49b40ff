package web

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"spottrader/logger"
)

// 监控轮询的路径成功时不写日志
var quietPaths = map[string]bool{
	"/metrics":    true,
	"/api/health": true,
}

// GinLoggerMiddleware 请求日志写入 web 日志文件。
// logAll=false 时只记录状态码 >= 400 的请求
func GinLoggerMiddleware(logAll bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status < 400 && (!logAll || quietPaths[c.Request.URL.Path]) {
			return
		}

		line := fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
			status, time.Since(start), c.ClientIP(), c.Request.Method, c.Request.URL.RequestURI())
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			line += " | Error: " + errs
		}
		logger.WriteWebLog(line)
	}
}
