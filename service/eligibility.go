package service

import (
	"context"
	"errors"

	"union-voting-backend/models"

	"gorm.io/gorm"
)

// EligibilityGate 资格检查：决定成员能否在会话中投票
type EligibilityGate struct {
	db *gorm.DB
}

// NewEligibilityGate 创建资格检查器
func NewEligibilityGate(db *gorm.DB) *EligibilityGate {
	return &EligibilityGate{db: db}
}

// Check looks up the eligibility slot for (session, member). It returns
// ErrNotEligible when no record exists or the record is flagged ineligible;
// delegation state is returned to the caller, which decides whether a direct
// or a proxy cast is allowed.
func (g *EligibilityGate) Check(ctx context.Context, sessionID uint, memberID string) (*models.VoterEligibility, error) {
	var slot models.VoterEligibility
	err := g.db.WithContext(ctx).
		Where("session_id = ? AND member_id = ?", sessionID, memberID).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEligible
		}
		return nil, err
	}
	if !slot.Eligible {
		return nil, ErrNotEligible
	}
	return &slot, nil
}

// CheckProxy verifies that delegateID is the registered proxy for
// principalID in the session and returns the principal's slot. The returned
// slot is what the ledger derives the voter identity from, so a proxy ballot
// consumes the principal's single-vote allowance.
func (g *EligibilityGate) CheckProxy(ctx context.Context, sessionID uint, delegateID, principalID string) (*models.VoterEligibility, error) {
	slot, err := g.Check(ctx, sessionID, principalID)
	if err != nil {
		return nil, err
	}
	if slot.DelegatedTo == nil || *slot.DelegatedTo != delegateID {
		return nil, ErrNotDelegate
	}
	return slot, nil
}

// Delegate 设置或清除代理投票人（nil表示撤销委托）。会话关闭后拒绝修改。
func (g *EligibilityGate) Delegate(ctx context.Context, sessionID uint, memberID string, delegateTo *string) error {
	var session models.VotingSession
	if err := g.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if session.Status == models.SessionClosed {
		return ErrSessionClosed
	}

	result := g.db.WithContext(ctx).Model(&models.VoterEligibility{}).
		Where("session_id = ? AND member_id = ?", sessionID, memberID).
		Update("delegated_to", delegateTo)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotEligible
	}
	return nil
}

// ImportRoster 批量导入资格记录，并刷新会话的合格人数统计
func (g *EligibilityGate) ImportRoster(ctx context.Context, sessionID uint, slots []models.VoterEligibility) (int64, error) {
	var session models.VotingSession
	if err := g.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}
	if session.Status == models.SessionClosed {
		return 0, ErrSessionClosed
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range slots {
			slots[i].ID = 0
			slots[i].SessionID = sessionID
			if slots[i].Weight <= 0 {
				slots[i].Weight = 1
			}
			if err := tx.Create(&slots[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return g.RefreshEligibleCount(ctx, sessionID)
}

// RefreshEligibleCount 重算并回写会话的合格投票人总数
func (g *EligibilityGate) RefreshEligibleCount(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.VoterEligibility{}).
		Where("session_id = ? AND eligible = ?", sessionID, true).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	err = g.db.WithContext(ctx).Model(&models.VotingSession{}).
		Where("id = ?", sessionID).
		Update("total_eligible", count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
