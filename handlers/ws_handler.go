package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"union-voting-backend/database"
	"union-voting-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HandleWebSocket 将HTTP连接升级为WebSocket，订阅指定会话的实时结果
func HandleWebSocket(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	// 会话必须存在才接受订阅
	var session models.VotingSession
	if err := database.DB.First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话失败"})
		}
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}

	client := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 64),
		sessionID:    sessionID,
		lastActivity: time.Now(),
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// parseSessionID 解析URL中的会话ID参数，非法时直接写响应
func parseSessionID(c *gin.Context) (uint, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的会话ID格式"})
		return 0, false
	}
	return uint(id), true
}
