package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"union-voting-backend/cache"
	"union-voting-backend/identity"
	"union-voting-backend/models"
	"union-voting-backend/mq"

	"gorm.io/gorm"
)

// BallotInput 一张待记录的选票
type BallotInput struct {
	OptionID  *uint  // 单选票的选项
	Ranking   []uint // 排序票的偏好列表，从最优先到最次
	Anonymous bool
}

// VoteLedger 选票台账：每个合格的匿名投票人恰好记一票。
// 唯一性由votes表上(session_id, voter_id)的唯一索引在存储层原子保证，
// 应用层的Redis标记只是快速路径。
type VoteLedger struct {
	db        *gorm.DB
	gate      *EligibilityGate
	deriver   *identity.Deriver
	publisher mq.Publisher
}

// NewVoteLedger 创建选票台账服务
func NewVoteLedger(db *gorm.DB, gate *EligibilityGate, deriver *identity.Deriver, publisher mq.Publisher) *VoteLedger {
	if publisher == nil {
		publisher = mq.NoopPublisher{}
	}
	return &VoteLedger{
		db:        db,
		gate:      gate,
		deriver:   deriver,
		publisher: publisher,
	}
}

// CastVote records one ballot for an eligible member. A member who has
// delegated their vote is refused; the delegate must use CastProxyVote.
func (l *VoteLedger) CastVote(ctx context.Context, sessionID uint, memberID string, ballot BallotInput) (*models.Vote, error) {
	slot, session, err := l.admitDirect(ctx, sessionID, memberID)
	if err != nil {
		return nil, err
	}
	return l.record(ctx, session, slot, memberID, ballot, false)
}

// CastProxyVote records a ballot cast by a delegate on behalf of a
// principal. The voter identity is derived from the principal's member ID,
// so the proxy ballot consumes the principal's single-vote allowance and a
// later direct attempt by either party collides on the same ledger entry.
func (l *VoteLedger) CastProxyVote(ctx context.Context, sessionID uint, delegateID, principalID string, ballot BallotInput) (*models.Vote, error) {
	session, err := l.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	slot, err := l.gate.CheckProxy(ctx, sessionID, delegateID, principalID)
	if err != nil {
		return nil, err
	}
	return l.record(ctx, session, slot, principalID, ballot, true)
}

// HasVoted 重新派生voter ID并查询是否已记票。任何内部错误都保守地
// 返回false：宁可让上游走一次必然失败的正常投票流程，也不因错误
// 泄露投票人状态。这是有意的匿名保护，不是漏检。
func (l *VoteLedger) HasVoted(ctx context.Context, sessionID uint, memberID string) bool {
	id, err := l.deriver.Derive(sessionKey(sessionID), memberID)
	if err != nil {
		return false
	}

	if cache.HasVotedMarker(ctx, sessionID, id.VoterID) {
		return true
	}

	var count int64
	err = l.db.WithContext(ctx).Model(&models.Vote{}).
		Where("session_id = ? AND voter_id = ?", sessionID, id.VoterID).
		Count(&count).Error
	if err != nil {
		return false
	}
	return count > 0
}

// admitDirect 直接投票的准入检查
func (l *VoteLedger) admitDirect(ctx context.Context, sessionID uint, memberID string) (*models.VoterEligibility, *models.VotingSession, error) {
	session, err := l.openSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	slot, err := l.gate.Check(ctx, sessionID, memberID)
	if err != nil {
		return nil, nil, err
	}
	if slot.DelegatedTo != nil {
		return nil, nil, ErrVoteDelegated
	}
	return slot, session, nil
}

// openSession 加载会话并验证其处于可投票状态
func (l *VoteLedger) openSession(ctx context.Context, sessionID uint) (*models.VotingSession, error) {
	var session models.VotingSession
	if err := l.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !session.IsOpenAt(time.Now()) {
		return nil, ErrSessionNotOpen
	}
	return &session, nil
}

// record 派生身份、校验选票内容并原子写入
func (l *VoteLedger) record(ctx context.Context, session *models.VotingSession, slot *models.VoterEligibility, slotMemberID string, ballot BallotInput, proxy bool) (*models.Vote, error) {
	vote := &models.Vote{
		SessionID: session.ID,
		Anonymous: ballot.Anonymous,
		Weight:    slot.Weight,
		CastAt:    time.Now(),
	}

	if err := l.fillChoice(ctx, session, ballot, vote); err != nil {
		return nil, err
	}

	// 身份派生以资格槽位的成员ID为键：代理票和本人票落在同一槽位
	id, err := l.deriver.Derive(sessionKey(session.ID), slotMemberID)
	if err != nil {
		return nil, err
	}
	vote.VoterID = id.VoterID
	vote.VoterHash = id.VoterHash

	// Redis快速路径：标记已存在则直接拒绝，省一次数据库往返
	marked, markerErr := cache.MarkVoted(ctx, session.ID, id.VoterID)
	if markerErr == nil && !marked {
		return nil, ErrDuplicateVote
	}

	if err := l.db.WithContext(ctx).Create(vote).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 重复票：标记留着是正确的
			return nil, ErrDuplicateVote
		}
		// 其他写入失败要撤销标记，避免假阳性拒票
		if markerErr == nil && marked {
			cache.UnmarkVoted(ctx, session.ID, id.VoterID)
		}
		return nil, err
	}

	cache.InvalidateResults(ctx, session.ID)

	// 审计事件发送失败只记日志，不影响已落库的选票
	event := mq.NewBallotAuditEvent(session.ID, vote.VoterHash, proxy, vote.CastAt)
	if err := l.publisher.PublishBallotEvent(ctx, event); err != nil {
		log.Printf("发布审计事件失败: session=%d, 错误: %v", session.ID, err)
	}

	return vote, nil
}

// fillChoice 按会话类型校验并填充选票内容
func (l *VoteLedger) fillChoice(ctx context.Context, session *models.VotingSession, ballot BallotInput, vote *models.Vote) error {
	valid, err := l.validOptionIDs(ctx, session.ID)
	if err != nil {
		return err
	}

	switch session.BallotType {
	case models.SingleChoice:
		if ballot.OptionID == nil || len(ballot.Ranking) > 0 {
			return ErrBadBallot
		}
		if !valid[*ballot.OptionID] {
			return ErrOptionNotFound
		}
		vote.OptionID = ballot.OptionID
	case models.RankedChoice:
		if ballot.OptionID != nil || len(ballot.Ranking) == 0 {
			return ErrBadBallot
		}
		seen := make(map[uint]bool, len(ballot.Ranking))
		for _, optID := range ballot.Ranking {
			if !valid[optID] {
				return ErrOptionNotFound
			}
			if seen[optID] {
				return fmt.Errorf("%w: duplicate option %d in ranking", ErrBadBallot, optID)
			}
			seen[optID] = true
		}
		if err := vote.EncodeRanking(ballot.Ranking); err != nil {
			return err
		}
	default:
		return ErrBadBallot
	}
	return nil
}

// validOptionIDs 返回会话下全部有效选项ID的集合
func (l *VoteLedger) validOptionIDs(ctx context.Context, sessionID uint) (map[uint]bool, error) {
	var options []models.VotingOption
	if err := l.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&options).Error; err != nil {
		return nil, err
	}
	valid := make(map[uint]bool, len(options))
	for _, opt := range options {
		valid[opt.ID] = true
	}
	return valid, nil
}

// sessionKey 身份派生使用的会话标识
func sessionKey(sessionID uint) string {
	return strconv.FormatUint(uint64(sessionID), 10)
}
