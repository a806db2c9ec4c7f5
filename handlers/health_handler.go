package handlers

import (
	"net/http"
	"time"

	"union-voting-backend/cache"
	"union-voting-backend/database"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// HealthCheck 健康检查端点：探测数据库和Redis连通性
func HealthCheck(c *gin.Context) {
	status := http.StatusOK
	overall := "ok"
	dbStatus := "ok"

	sqlDB, err := database.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		dbStatus = "unavailable"
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}

	redisStatus := "ok"
	if client, err := cache.GetClient(); err != nil || client == nil {
		// 模拟模式下Redis不可用但服务可以降级运行
		redisStatus = "mock"
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"database": dbStatus,
		"redis":    redisStatus,
		"uptime":   time.Since(startTime).String(),
	})
}
