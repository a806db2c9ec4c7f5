package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"union-voting-backend/cache"
	"union-voting-backend/database"
	"union-voting-backend/handlers"
	"union-voting-backend/identity"
	"union-voting-backend/mq"
	"union-voting-backend/routes"
)

func main() {
	// 初始化数据库连接
	err := database.InitDB()
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("数据库连接初始化成功")

	// 初始化Redis连接（失败时自动降级为模拟模式）
	err = cache.InitRedis()
	if err != nil {
		log.Printf("警告: Redis初始化失败: %v", err)
	}

	// 初始化分布式锁
	cache.InitDistLock()

	// 身份派生密钥是硬前提：密钥缺失或过短时拒绝启动，
	// 否则投票人ID可被暴力还原
	deriver, err := identity.NewDeriver(os.Getenv("VOTING_SECRET"))
	if err != nil {
		log.Fatalf("无法初始化身份派生器: %v", err)
	}

	// 审计事件发布器（按MQ_TYPE自动选择RocketMQ、Redis Stream或空实现）
	publisher := mq.NewPublisherFromEnv()

	// 装配处理程序
	handlers.InitHandlers(deriver, publisher)

	// 设置路由并启动服务器
	router := routes.SetupRouter()
	srv := routes.StartServer(router)
	log.Println("服务器启动成功")

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	// 关闭外部连接
	publisher.Close()
	cache.CloseRedis()
	database.CloseDB()

	log.Println("服务器优雅关闭")
}
