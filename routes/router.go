package routes

import (
	"log"
	"net/http"
	"os"
	"time"

	"union-voting-backend/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// SetupRouter 设置和配置Gin路由
func SetupRouter() *gin.Engine {
	router := gin.Default()

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 初始化限流器
	handlers.InitRateLimiters()

	// 启动会话过期检查器
	go startSessionExpirationChecker()

	// 定义API路由
	api := router.Group("/api")
	{
		// 全局API限流中间件
		api.Use(handlers.RateLimitMiddleware())

		api.GET("/health", handlers.HealthCheck)

		// 会话管理端点
		sessions := api.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession)
			sessions.GET("", handlers.GetSessions)
			sessions.GET("/:id", handlers.GetSession)
			sessions.PUT("/:id", handlers.UpdateSession)
			sessions.POST("/:id/open", handlers.OpenSession)
			sessions.POST("/:id/close", handlers.CloseSession)

			// 资格名册与委托
			sessions.POST("/:id/roster", handlers.ImportRoster)
			sessions.POST("/:id/delegate", handlers.Delegate)

			// 投票端点
			sessions.POST("/:id/vote", handlers.SubmitVote)
			sessions.POST("/:id/vote/proxy", handlers.SubmitProxyVote)
			sessions.GET("/:id/voted", handlers.HasVoted)

			// 结果端点
			sessions.GET("/:id/results", handlers.GetResults)
			sessions.GET("/:id/results/ranked", handlers.GetRankedResults)

			// 实时更新端点（WebSocket）
			sessions.GET("/:id/ws", handlers.HandleWebSocket)
		}
	}

	return router
}

// StartServer 启动HTTP服务器
func StartServer(router *gin.Engine) *Server {
	// 从环境变量获取端口，默认为8090
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8090"
	}

	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	// 在单独的goroutine中启动服务器
	go func() {
		log.Printf("服务器启动在 %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}

// startSessionExpirationChecker 定期检查并关闭过期的会话
func startSessionExpirationChecker() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		handlers.CheckAndCloseExpiredSessions()
	}
}
