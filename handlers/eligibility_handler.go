package handlers

import (
	"errors"
	"log"
	"net/http"

	"union-voting-backend/models"
	"union-voting-backend/service"

	"github.com/gin-gonic/gin"
)

// RosterEntryInput 名册中一条资格记录
type RosterEntryInput struct {
	MemberID string `json:"member_id" binding:"required"`
	Eligible *bool  `json:"eligible,omitempty"` // 缺省视为合格
	Weight   int64  `json:"weight,omitempty"`   // 缺省为1
}

// ImportRosterInput 名册导入请求
type ImportRosterInput struct {
	Entries []RosterEntryInput `json:"entries" binding:"required,min=1,dive"`
}

// DelegateInput 委托投票请求。delegate_to为null表示撤销委托。
type DelegateInput struct {
	MemberID   string  `json:"member_id" binding:"required"`
	DelegateTo *string `json:"delegate_to"`
}

// ImportRoster 批量导入会话的资格名册
func ImportRoster(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var input ImportRosterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := gate.ImportRoster(c.Request.Context(), sessionID, rosterToSlots(input.Entries))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		case errors.Is(err, service.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "会话已关闭，名册不可修改"})
		default:
			log.Printf("导入名册失败: session=%d, 错误: %v", sessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "导入名册失败"})
		}
		return
	}

	log.Printf("名册导入成功: session=%d, 导入=%d条, 合格总数=%d", sessionID, len(input.Entries), count)
	c.JSON(http.StatusOK, gin.H{
		"session_id":     sessionID,
		"imported":       len(input.Entries),
		"total_eligible": count,
	})
}

// Delegate 登记或撤销代理投票人
func Delegate(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var input DelegateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 不允许委托给自己
	if input.DelegateTo != nil && *input.DelegateTo == input.MemberID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不能委托给自己"})
		return
	}

	err := gate.Delegate(c.Request.Context(), sessionID, input.MemberID, input.DelegateTo)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		case errors.Is(err, service.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "会话已关闭，委托不可修改"})
		case errors.Is(err, service.ErrNotEligible):
			c.JSON(http.StatusForbidden, gin.H{"error": "成员不具备本会话的投票资格"})
		default:
			log.Printf("更新委托失败: session=%d, 错误: %v", sessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新委托失败"})
		}
		return
	}

	message := "委托已登记"
	if input.DelegateTo == nil {
		message = "委托已撤销"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "session_id": sessionID})
}

// rosterToSlots 将名册输入转换为资格记录
func rosterToSlots(entries []RosterEntryInput) []models.VoterEligibility {
	slots := make([]models.VoterEligibility, len(entries))
	for i, entry := range entries {
		eligible := true
		if entry.Eligible != nil {
			eligible = *entry.Eligible
		}
		slots[i] = models.VoterEligibility{
			MemberID: entry.MemberID,
			Eligible: eligible,
			Weight:   entry.Weight,
		}
	}
	return slots
}
