package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"union-voting-backend/cache"
	"union-voting-backend/database"
	"union-voting-backend/models"
	"union-voting-backend/service"

	"github.com/gin-gonic/gin"
)

// GetResults 返回单选会话的统计结果，优先走Redis缓存
func GetResults(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	// 缓存命中直接返回，新票写入时缓存会被失效
	if data := cache.GetCachedResults(ctx, sessionID); data != nil {
		var cached service.TallyResult
		if err := json.Unmarshal(data, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
		log.Printf("结果缓存损坏，回退到重新计票: session=%d", sessionID)
	}

	result, err := tally.CalculateResults(ctx, sessionID)
	if err != nil {
		respondResultsError(c, err)
		return
	}

	if payload, err := json.Marshal(result); err == nil {
		cache.CacheResults(ctx, sessionID, payload)
	}

	c.JSON(http.StatusOK, result)
}

// GetRankedResults 返回排序选择会话的逐轮IRV结果。轮次数据逐次重算，
// 不走缓存：调用频率低且结果必须带完整轮次记录。
func GetRankedResults(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	result, err := tabulator.CalculateResults(c.Request.Context(), sessionID)
	if err != nil {
		respondResultsError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondResultsError 将计票错误映射为HTTP状态码
func respondResultsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
	case errors.Is(err, service.ErrBadBallot):
		c.JSON(http.StatusBadRequest, gin.H{"error": "会话类型与该结果端点不符"})
	case errors.Is(err, service.ErrNoBallots):
		c.JSON(http.StatusConflict, gin.H{"error": "尚无选票，无法计票"})
	case errors.Is(err, service.ErrTabulationOverrun):
		log.Printf("计票轮次超限: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "计票异常，请联系管理员"})
	default:
		log.Printf("计票失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "计票失败"})
	}
}

// broadcastResults 计算会话最新结果并推送给WebSocket订阅者。
// 投票热路径上异步调用，失败只记日志。
func broadcastResults(sessionID uint) {
	ctx := context.Background()

	var session models.VotingSession
	if err := database.DB.First(&session, sessionID).Error; err != nil {
		log.Printf("广播前加载会话失败: session=%d, 错误: %v", sessionID, err)
		return
	}

	var results interface{}
	var err error
	switch session.BallotType {
	case models.RankedChoice:
		results, err = tabulator.CalculateResults(ctx, sessionID)
	default:
		results, err = tally.CalculateResults(ctx, sessionID)
	}
	if err != nil {
		if !errors.Is(err, service.ErrNoBallots) {
			log.Printf("广播前计票失败: session=%d, 错误: %v", sessionID, err)
		}
		return
	}

	hub.Broadcast(sessionID, results)
}
