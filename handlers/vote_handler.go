package handlers

import (
	"errors"
	"log"
	"net/http"

	"union-voting-backend/service"

	"github.com/gin-gonic/gin"
)

// VoteInput defines the expected input structure for submitting a ballot
type VoteInput struct {
	MemberID  string `json:"member_id" binding:"required"`
	OptionID  *uint  `json:"option_id,omitempty"`  // 单选票
	Ranking   []uint `json:"ranking,omitempty"`    // 排序票，从最优先到最次
	Anonymous bool   `json:"anonymous"`
}

// ProxyVoteInput 代理投票输入：代理人代表委托人提交选票
type ProxyVoteInput struct {
	DelegateID  string `json:"delegate_id" binding:"required"`
	PrincipalID string `json:"principal_id" binding:"required"`
	OptionID    *uint  `json:"option_id,omitempty"`
	Ranking     []uint `json:"ranking,omitempty"`
	Anonymous   bool   `json:"anonymous"`
}

// SubmitVote 处理投票提交。成员ID只用于资格检查和身份派生，
// 响应和广播里都不会出现。
func SubmitVote(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ballot := service.BallotInput{
		OptionID:  input.OptionID,
		Ranking:   input.Ranking,
		Anonymous: input.Anonymous,
	}

	vote, err := ledger.CastVote(c.Request.Context(), sessionID, input.MemberID, ballot)
	if err != nil {
		respondVoteError(c, err)
		return
	}

	log.Printf("选票已记录: session=%d, hash=%s", sessionID, vote.VoterHash[:12])

	// 异步广播最新结果给订阅者
	go broadcastResults(sessionID)

	c.JSON(http.StatusCreated, gin.H{
		"message":    "选票已记录",
		"session_id": sessionID,
		"voter_hash": vote.VoterHash,
		"cast_at":    vote.CastAt,
	})
}

// SubmitProxyVote 处理代理投票：选票占用委托人的投票名额
func SubmitProxyVote(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	var input ProxyVoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ballot := service.BallotInput{
		OptionID:  input.OptionID,
		Ranking:   input.Ranking,
		Anonymous: input.Anonymous,
	}

	vote, err := ledger.CastProxyVote(c.Request.Context(), sessionID, input.DelegateID, input.PrincipalID, ballot)
	if err != nil {
		respondVoteError(c, err)
		return
	}

	log.Printf("代理选票已记录: session=%d, hash=%s", sessionID, vote.VoterHash[:12])

	go broadcastResults(sessionID)

	c.JSON(http.StatusCreated, gin.H{
		"message":    "代理选票已记录",
		"session_id": sessionID,
		"voter_hash": vote.VoterHash,
		"cast_at":    vote.CastAt,
	})
}

// HasVoted 查询成员在会话中是否已投票
func HasVoted(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}

	memberID := c.Query("member_id")
	if memberID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "member_id不能为空"})
		return
	}

	voted := ledger.HasVoted(c.Request.Context(), sessionID, memberID)
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"has_voted":  voted,
	})
}

// respondVoteError 将台账错误映射为HTTP状态码
func respondVoteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
	case errors.Is(err, service.ErrSessionNotOpen):
		c.JSON(http.StatusForbidden, gin.H{"error": "会话不在投票期内"})
	case errors.Is(err, service.ErrNotEligible):
		c.JSON(http.StatusForbidden, gin.H{"error": "成员不具备本会话的投票资格"})
	case errors.Is(err, service.ErrVoteDelegated):
		c.JSON(http.StatusForbidden, gin.H{"error": "投票权已委托，须由代理人提交"})
	case errors.Is(err, service.ErrNotDelegate):
		c.JSON(http.StatusForbidden, gin.H{"error": "不是该成员登记的代理人"})
	case errors.Is(err, service.ErrDuplicateVote):
		c.JSON(http.StatusConflict, gin.H{"error": "该投票人已投过票"})
	case errors.Is(err, service.ErrOptionNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "选项不存在或不属于该会话"})
	case errors.Is(err, service.ErrBadBallot):
		c.JSON(http.StatusBadRequest, gin.H{"error": "选票内容与会话类型不符"})
	default:
		log.Printf("记录选票失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "记录选票失败"})
	}
}
