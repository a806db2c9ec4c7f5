package service

import (
	"context"
	"errors"
	"sort"

	"union-voting-backend/models"

	"gorm.io/gorm"
)

// OptionTally 单个选项的计票结果
type OptionTally struct {
	OptionID   uint    `json:"option_id"`
	Text       string  `json:"text"`
	VoteCount  int64   `json:"vote_count"`
	Percentage float64 `json:"percentage"`
}

// TallyResult 单选/是否类会话的统计汇总
type TallyResult struct {
	SessionID         uint          `json:"session_id"`
	TotalVotes        int64         `json:"total_votes"`
	Options           []OptionTally `json:"options"`
	TurnoutPercentage float64       `json:"turnout_percentage"`
	QuorumMet         bool          `json:"quorum_met"`
	Winner            *OptionTally  `json:"winner,omitempty"`
}

// SimpleTallyEngine 单选会话的计票引擎。计票是台账当前状态的纯函数，
// 任何时刻重跑都安全，新票到达后重跑只是得到新的快照。
type SimpleTallyEngine struct {
	db *gorm.DB
}

// NewSimpleTallyEngine 创建计票引擎
func NewSimpleTallyEngine(db *gorm.DB) *SimpleTallyEngine {
	return &SimpleTallyEngine{db: db}
}

// CalculateResults tallies a single-choice session: weighted per-option
// counts, turnout against the eligible roster, quorum satisfaction and the
// winning option. Ties for the top count resolve to the lowest option ID --
// the one canonical ordering used everywhere in this package.
func (e *SimpleTallyEngine) CalculateResults(ctx context.Context, sessionID uint) (*TallyResult, error) {
	var session models.VotingSession
	if err := e.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.BallotType != models.SingleChoice {
		return nil, ErrBadBallot
	}

	var options []models.VotingOption
	err := e.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("order_index asc, id asc").
		Find(&options).Error
	if err != nil {
		return nil, err
	}

	var votes []models.Vote
	if err := e.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&votes).Error; err != nil {
		return nil, err
	}

	// 按选项汇总加权票数
	weighted := make(map[uint]int64, len(options))
	var totalWeighted int64
	for _, v := range votes {
		if v.OptionID == nil {
			continue
		}
		weighted[*v.OptionID] += v.Weight
		totalWeighted += v.Weight
	}

	result := &TallyResult{
		SessionID:  sessionID,
		TotalVotes: int64(len(votes)),
		Options:    make([]OptionTally, len(options)),
	}

	for i, opt := range options {
		count := weighted[opt.ID]
		percentage := 0.0
		if totalWeighted > 0 {
			percentage = float64(count) / float64(totalWeighted) * 100
		}
		result.Options[i] = OptionTally{
			OptionID:   opt.ID,
			Text:       opt.Text,
			VoteCount:  count,
			Percentage: percentage,
		}
	}

	// 投票率：0名合格投票人时报0，不产生NaN
	if session.TotalEligible > 0 {
		result.TurnoutPercentage = float64(len(votes)) / float64(session.TotalEligible) * 100
	}

	// 法定人数：不要求时恒为满足
	if !session.RequireQuorum {
		result.QuorumMet = true
	} else {
		result.QuorumMet = result.TurnoutPercentage >= session.QuorumThreshold()
	}

	result.Winner = pickWinner(result.Options)
	return result, nil
}

// pickWinner 返回票数最高的选项；并列时取选项ID最小者，无票时返回nil
func pickWinner(tallies []OptionTally) *OptionTally {
	candidates := make([]OptionTally, len(tallies))
	copy(candidates, tallies)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].VoteCount != candidates[j].VoteCount {
			return candidates[i].VoteCount > candidates[j].VoteCount
		}
		return candidates[i].OptionID < candidates[j].OptionID
	})

	if len(candidates) == 0 || candidates[0].VoteCount == 0 {
		return nil
	}
	winner := candidates[0]
	return &winner
}
