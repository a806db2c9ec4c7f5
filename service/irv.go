package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"union-voting-backend/models"

	"gorm.io/gorm"
)

// MaxTabulationRounds IRV轮次安全上限。超过说明偏好数据异常（如环状或
// 畸形数据），必须报错而不是沉默地给出错误答案。
const MaxTabulationRounds = 50

// RankedOutcome IRV终态
type RankedOutcome string

const (
	OutcomeMajority     RankedOutcome = "majority"      // 某选项获得过半继续票
	OutcomeSoleSurvivor RankedOutcome = "sole_survivor" // 淘汰到只剩一个选项
)

// RoundCount 单轮中一个选项的首选票数
type RoundCount struct {
	OptionID uint  `json:"option_id"`
	Count    int64 `json:"count"`
}

// RankedRound 一轮计票的完整记录
type RankedRound struct {
	Number     int          `json:"number"`
	Counts     []RoundCount `json:"counts"` // 按选项ID升序
	Exhausted  int64        `json:"exhausted_ballots"`
	Continuing int64        `json:"continuing_ballots"`
	Eliminated *uint        `json:"eliminated_option_id,omitempty"`
}

// RankedResult 排序选择（IRV）会话的统计汇总
type RankedResult struct {
	SessionID         uint          `json:"session_id"`
	TotalBallots      int64         `json:"total_ballots"`
	TurnoutPercentage float64       `json:"turnout_percentage"`
	QuorumMet         bool          `json:"quorum_met"`
	Outcome           RankedOutcome `json:"outcome"`
	WinnerOptionID    uint          `json:"winner_option_id"`
	RunnerUpOptionID  *uint         `json:"runner_up_option_id,omitempty"`
	Rounds            []RankedRound `json:"rounds"`
}

// RankedChoiceTabulator 即时复选（IRV）计票器：逐轮淘汰最少首选票的
// 选项，直到出现过半多数或只剩一个选项。与简单计票一样是台账状态的
// 纯函数，可随时重跑。
type RankedChoiceTabulator struct {
	db *gorm.DB
}

// NewRankedChoiceTabulator 创建IRV计票器
func NewRankedChoiceTabulator(db *gorm.DB) *RankedChoiceTabulator {
	return &RankedChoiceTabulator{db: db}
}

// CalculateResults runs instant-runoff rounds over the session's ranked
// ballots. Every tie breaks to the lowest option ID: among minimum counts
// that option is eliminated, among maximum counts it is preferred for
// runner-up. The majority test is strictly-greater-than half the continuing
// (non-exhausted) votes of the round, so an exact 50/50 split never
// terminates on majority and falls through to elimination.
func (t *RankedChoiceTabulator) CalculateResults(ctx context.Context, sessionID uint) (*RankedResult, error) {
	var session models.VotingSession
	if err := t.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.BallotType != models.RankedChoice {
		return nil, ErrBadBallot
	}

	var options []models.VotingOption
	if err := t.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&options).Error; err != nil {
		return nil, err
	}

	var votes []models.Vote
	if err := t.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&votes).Error; err != nil {
		return nil, err
	}
	if len(votes) == 0 {
		// 零票快速失败：空会话没有"赢家"可言
		return nil, ErrNoBallots
	}

	ballots := make([][]uint, 0, len(votes))
	for _, v := range votes {
		ranking, err := v.RankedOptionIDs()
		if err != nil {
			return nil, fmt.Errorf("解析排序票失败 (vote %d): %w", v.ID, err)
		}
		ballots = append(ballots, ranking)
	}

	result := &RankedResult{
		SessionID:    sessionID,
		TotalBallots: int64(len(ballots)),
	}
	if session.TotalEligible > 0 {
		result.TurnoutPercentage = float64(len(ballots)) / float64(session.TotalEligible) * 100
	}
	if !session.RequireQuorum {
		result.QuorumMet = true
	} else {
		result.QuorumMet = result.TurnoutPercentage >= session.QuorumThreshold()
	}

	active := make(map[uint]bool, len(options))
	for _, opt := range options {
		active[opt.ID] = true
	}

	var lastEliminated *uint

	for round := 1; round <= MaxTabulationRounds; round++ {
		counts, exhausted := countFirstPreferences(ballots, active)
		continuing := result.TotalBallots - exhausted

		record := RankedRound{
			Number:     round,
			Counts:     sortedCounts(counts),
			Exhausted:  exhausted,
			Continuing: continuing,
		}

		// 多数判定：严格大于继续票的一半
		winnerID, ok := majorityWinner(counts, continuing)
		if ok {
			result.Rounds = append(result.Rounds, record)
			result.Outcome = OutcomeMajority
			result.WinnerOptionID = winnerID
			result.RunnerUpOptionID = runnerUp(counts, winnerID)
			return result, nil
		}

		// 淘汰首选票最少的选项；并列时淘汰ID最小者
		eliminated := minimumOption(counts)
		record.Eliminated = &eliminated
		result.Rounds = append(result.Rounds, record)

		delete(active, eliminated)
		lastEliminated = &eliminated

		// 只剩一个选项：默认当选（无真正多数），对手为上一轮被淘汰者
		if len(active) == 1 {
			for optID := range active {
				result.Outcome = OutcomeSoleSurvivor
				result.WinnerOptionID = optID
				result.RunnerUpOptionID = lastEliminated
			}
			return result, nil
		}
	}

	return nil, ErrTabulationOverrun
}

// countFirstPreferences 统计每张票在活跃集中的第一偏好；无活跃偏好的
// 票计为耗尽票（计入轮次记录，不会被悄悄丢弃）
func countFirstPreferences(ballots [][]uint, active map[uint]bool) (map[uint]int64, int64) {
	counts := make(map[uint]int64, len(active))
	for optID := range active {
		counts[optID] = 0
	}

	var exhausted int64
	for _, ranking := range ballots {
		assigned := false
		for _, optID := range ranking {
			if active[optID] {
				counts[optID]++
				assigned = true
				break
			}
		}
		if !assigned {
			exhausted++
		}
	}
	return counts, exhausted
}

// majorityWinner 返回获得严格过半继续票的选项（若有）。过半者必然唯一
func majorityWinner(counts map[uint]int64, continuing int64) (uint, bool) {
	for optID, count := range counts {
		if count*2 > continuing {
			return optID, true
		}
	}
	return 0, false
}

// minimumOption 返回票数最少的活跃选项，并列取ID最小者
func minimumOption(counts map[uint]int64) uint {
	ids := sortedOptionIDs(counts)
	minID := ids[0]
	for _, optID := range ids[1:] {
		if counts[optID] < counts[minID] {
			minID = optID
		}
	}
	return minID
}

// runnerUp 终轮中除获胜者外票数最高的选项，并列取ID最小者
func runnerUp(counts map[uint]int64, winnerID uint) *uint {
	var best *uint
	for _, optID := range sortedOptionIDs(counts) {
		if optID == winnerID {
			continue
		}
		if best == nil || counts[optID] > counts[*best] {
			id := optID
			best = &id
		}
	}
	return best
}

// sortedCounts 轮次记录按选项ID升序输出，保证跨运行稳定
func sortedCounts(counts map[uint]int64) []RoundCount {
	out := make([]RoundCount, 0, len(counts))
	for _, optID := range sortedOptionIDs(counts) {
		out = append(out, RoundCount{OptionID: optID, Count: counts[optID]})
	}
	return out
}

func sortedOptionIDs(counts map[uint]int64) []uint {
	ids := make([]uint, 0, len(counts))
	for optID := range counts {
		ids = append(ids, optID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
