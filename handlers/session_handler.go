package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"union-voting-backend/cache"
	"union-voting-backend/database"
	"union-voting-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateSessionInput defines the expected input structure for creating a session
type CreateSessionInput struct {
	Title          string              `json:"title" binding:"required"`
	Description    string              `json:"description,omitempty"`
	OrganizationID string              `json:"organization_id" binding:"required"`
	BallotType     models.BallotType   `json:"ballot_type" binding:"omitempty,oneof=0 1"`
	RequireQuorum  bool                `json:"require_quorum"`
	QuorumPercent  *float64            `json:"quorum_percent,omitempty"`
	StartTime      *time.Time          `json:"start_time,omitempty"`
	EndTime        *time.Time          `json:"end_time,omitempty"`
	Options        []CreateOptionInput `json:"options" binding:"required,min=2,dive"`
	Roster         []RosterEntryInput  `json:"roster,omitempty"` // 可在创建时直接附带名册
}

// CreateOptionInput defines the structure for options when creating a session
type CreateOptionInput struct {
	Text string `json:"text" binding:"required"`
}

// CreateSession handles the creation of a new voting session with its options
func CreateSession(c *gin.Context) {
	var input CreateSessionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if input.EndTime != nil && input.StartTime != nil && !input.EndTime.After(*input.StartTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "结束时间必须晚于开始时间"})
		return
	}
	if input.QuorumPercent != nil && (*input.QuorumPercent <= 0 || *input.QuorumPercent > 100) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "法定人数百分比必须在(0, 100]范围内"})
		return
	}

	session := models.VotingSession{
		Title:          input.Title,
		Description:    input.Description,
		OrganizationID: input.OrganizationID,
		BallotType:     input.BallotType,
		Status:         models.SessionDraft,
		RequireQuorum:  input.RequireQuorum,
		QuorumPercent:  input.QuorumPercent,
		StartTime:      input.StartTime,
		EndTime:        input.EndTime,
	}

	// Use a transaction to ensure the session and its options land together
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		options := make([]models.VotingOption, len(input.Options))
		for i, optInput := range input.Options {
			options[i] = models.VotingOption{
				SessionID:  session.ID,
				Text:       optInput.Text,
				OrderIndex: i,
			}
		}
		return tx.Create(&options).Error
	})
	if err != nil {
		log.Printf("创建会话失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建会话失败"})
		return
	}

	log.Printf("会话创建成功: ID=%d, 标题=%s, 类型=%d", session.ID, session.Title, session.BallotType)

	// 创建时附带名册则一并导入
	if len(input.Roster) > 0 {
		slots := rosterToSlots(input.Roster)
		if _, err := gate.ImportRoster(c.Request.Context(), session.ID, slots); err != nil {
			log.Printf("导入名册失败: session=%d, 错误: %v", session.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会话已创建但名册导入失败"})
			return
		}
	}

	var created models.VotingSession
	if err := database.DB.Preload("Options").First(&created, session.ID).Error; err != nil {
		c.JSON(http.StatusCreated, session)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetSessions retrieves all sessions, newest first
func GetSessions(c *gin.Context) {
	query := database.DB.Preload("Options").Order("created_at desc")

	// 可按组织过滤
	if orgID := c.Query("organization_id"); orgID != "" {
		query = query.Where("organization_id = ?", orgID)
	}

	var sessions []models.VotingSession
	if err := query.Find(&sessions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话列表失败"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSession handles retrieving a single session by ID
func GetSession(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var session models.VotingSession
	if err := database.DB.Preload("Options").First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话失败"})
		}
		return
	}
	c.JSON(http.StatusOK, session)
}

// UpdateSessionInput 会话更新输入。指针字段区分"未提供"和"清空"
type UpdateSessionInput struct {
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	RequireQuorum *bool      `json:"require_quorum,omitempty"`
	QuorumPercent *float64   `json:"quorum_percent,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	AuditNote     *string    `json:"audit_note,omitempty"`
}

// UpdateSession 更新会话。草稿期可改全部字段；开放后只能改结束时间和
// 审计备注；关闭后仅审计备注可改，其余一律拒绝。
func UpdateSession(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var input UpdateSessionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var session models.VotingSession
	if err := database.DB.First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话失败"})
		}
		return
	}

	restricted := input.Title != nil || input.Description != nil ||
		input.RequireQuorum != nil || input.QuorumPercent != nil || input.StartTime != nil

	switch session.Status {
	case models.SessionClosed:
		if restricted || input.EndTime != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "会话已关闭，只允许修改审计备注"})
			return
		}
	case models.SessionOpen:
		if restricted {
			c.JSON(http.StatusConflict, gin.H{"error": "会话开放期间只允许修改结束时间和审计备注"})
			return
		}
	}

	if input.Title != nil {
		session.Title = *input.Title
	}
	if input.Description != nil {
		session.Description = *input.Description
	}
	if input.RequireQuorum != nil {
		session.RequireQuorum = *input.RequireQuorum
	}
	if input.QuorumPercent != nil {
		session.QuorumPercent = input.QuorumPercent
	}
	if input.StartTime != nil {
		session.StartTime = input.StartTime
	}
	if input.EndTime != nil {
		session.EndTime = input.EndTime
	}
	if input.AuditNote != nil {
		session.AuditNote = *input.AuditNote
	}

	if err := database.DB.Save(&session).Error; err != nil {
		log.Printf("更新会话失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新会话失败"})
		return
	}

	var updated models.VotingSession
	if err := database.DB.Preload("Options").First(&updated, session.ID).Error; err != nil {
		c.JSON(http.StatusOK, session)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// OpenSession 将草稿会话置为开放。状态流转在分布式锁下执行，
// 避免多实例并发重复流转。
func OpenSession(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	err := cache.WithSessionLock(sessionID, func() error {
		var session models.VotingSession
		if err := database.DB.First(&session, sessionID).Error; err != nil {
			return err
		}
		if session.Status != models.SessionDraft {
			return errAlreadyTransitioned
		}
		updates := map[string]interface{}{"status": models.SessionOpen}
		if session.StartTime == nil {
			now := time.Now()
			updates["start_time"] = &now
		}
		return database.DB.Model(&session).Updates(updates).Error
	})

	respondTransition(c, sessionID, err, "会话已开放")
}

// CloseSession 关闭开放中的会话。关闭后台账冻结，选票不再被接受。
func CloseSession(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	err := cache.WithSessionLock(sessionID, func() error {
		var session models.VotingSession
		if err := database.DB.First(&session, sessionID).Error; err != nil {
			return err
		}
		if session.Status != models.SessionOpen {
			return errAlreadyTransitioned
		}

		// 关闭前固化合格人数，投票率以关闭时刻的名册为准
		if _, err := gate.RefreshEligibleCount(c.Request.Context(), sessionID); err != nil {
			return err
		}

		now := time.Now()
		return database.DB.Model(&session).Updates(map[string]interface{}{
			"status":   models.SessionClosed,
			"end_time": &now,
		}).Error
	})
	if err == nil {
		// 关闭是最后一次结果变化，推送终态给订阅者
		go broadcastResults(sessionID)
	}

	respondTransition(c, sessionID, err, "会话已关闭")
}

var errAlreadyTransitioned = errors.New("会话状态不允许该流转")

// respondTransition 状态流转结果的统一响应
func respondTransition(c *gin.Context, sessionID uint, err error, okMessage string) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": okMessage, "session_id": sessionID})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
	case errors.Is(err, errAlreadyTransitioned):
		c.JSON(http.StatusConflict, gin.H{"error": "会话状态不允许该操作"})
	case errors.Is(err, cache.ErrLockNotAcquired):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "操作正在处理中，请稍后重试"})
	default:
		log.Printf("会话状态流转失败: session=%d, 错误: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "操作失败"})
	}
}

// CheckAndCloseExpiredSessions 查找并关闭所有已过期的开放会话
func CheckAndCloseExpiredSessions() {
	now := time.Now()

	var expired []models.VotingSession
	err := database.DB.
		Where("status = ? AND end_time IS NOT NULL AND end_time < ?", models.SessionOpen, now).
		Find(&expired).Error
	if err != nil {
		log.Printf("查询过期会话失败: %v", err)
		return
	}

	for _, session := range expired {
		result := database.DB.Model(&models.VotingSession{}).
			Where("id = ? AND status = ?", session.ID, models.SessionOpen).
			Update("status", models.SessionClosed)
		if result.Error != nil {
			log.Printf("关闭过期会话失败: session=%d, 错误: %v", session.ID, result.Error)
			continue
		}
		if result.RowsAffected > 0 {
			log.Printf("已关闭过期会话: ID=%d, 标题=%s", session.ID, session.Title)
			go broadcastResults(session.ID)
		}
	}
}
