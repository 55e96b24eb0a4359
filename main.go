package main

import (
	"log"
	"time"

	"pally_chat/config"
	"pally_chat/handler"
	"pally_chat/middleware"
	"pally_chat/service"
	"pally_chat/utils"

	"github.com/gin-gonic/gin"
)

func init() {
	// 设置时区为 UTC（推荐服务端统一使用 UTC）
	time.Local = time.UTC
}

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化数据库
	if err := utils.InitDB(cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer utils.CloseDB()

	// 初始化 Redis
	if err := utils.InitRedis(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer utils.CloseRedis()

	// 初始化认证中间件
	middleware.InitAuth(cfg.JWTSecret)

	// 创建服务
	friendSvc := service.NewFriendshipService(utils.GetDB())
	msgSvc := service.NewMessageServiceWithConfig(utils.GetDB(), friendSvc, cfg.MaxMessageLen)

	// 创建 WebSocket Hub 并启动跨 Pod 广播订阅
	hub := handler.NewHub(utils.GetRedis(), friendSvc, msgSvc)
	hub.StartPubSub()
	defer hub.StopPubSub()

	// 创建处理器
	friendHandler := handler.NewFriendshipHandler(friendSvc)
	msgHandler := handler.NewMessageHandler(msgSvc)

	// 创建 Gin 路由
	r := gin.Default()

	// 注册统一错误处理中间件
	r.Use(middleware.ErrorHandlerMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		utils.SuccessResponse(c, gin.H{"status": "ok"})
	})

	// WebSocket 连接（使用 token 认证，不需要 HTTP 中间件）
	r.GET("/ws", handler.HandleWebSocket(hub))

	// HTTP API 路由组（需要认证）
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware())
	{
		// 好友关系
		api.POST("/friends/requests", friendHandler.CreateRequest)                // 发起好友请求
		api.POST("/friends/requests/:id/resolve", friendHandler.ResolveRequest)   // 接受/拒绝请求
		api.GET("/friends", friendHandler.ListRelationships)                      // 待处理请求 + 好友列表
		api.GET("/conversations/:id/messages", msgHandler.GetHistory)             // 获取消息历史
	}

	// 启动服务
	log.Printf("🚀 pally_chat service starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
