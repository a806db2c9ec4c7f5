package models

import (
	"time"

	"gorm.io/gorm"
)

// BallotType defines how votes in a session are cast and tallied
// We use iota for enum-like behavior
type BallotType int

const (
	SingleChoice BallotType = iota // 0
	RankedChoice                   // 1
)

// SessionStatus 会话生命周期状态
type SessionStatus int

const (
	SessionDraft  SessionStatus = iota // 0 筹备中
	SessionOpen                        // 1 投票中
	SessionClosed                      // 2 已关闭
)

// VotingSession represents one ballot event within an organization
type VotingSession struct {
	gorm.Model                  // Includes fields like ID, CreatedAt, UpdatedAt, DeletedAt
	Title          string       `gorm:"not null" json:"title"`
	Description    string       `gorm:"type:text" json:"description"`
	OrganizationID string       `gorm:"not null;index" json:"organization_id"`
	BallotType     BallotType   `gorm:"not null;default:0" json:"ballot_type"` // 0 single-choice, 1 ranked-choice
	Status         SessionStatus `gorm:"not null;default:0" json:"status"`
	RequireQuorum  bool         `gorm:"default:false" json:"require_quorum"`
	QuorumPercent  *float64     `json:"quorum_percent,omitempty"` // nil means default (50) when quorum is required
	TotalEligible  int64        `gorm:"default:0" json:"total_eligible"`
	StartTime      *time.Time   `json:"start_time,omitempty"`
	EndTime        *time.Time   `json:"end_time,omitempty"`
	AuditNote      string       `gorm:"type:text" json:"audit_note,omitempty"` // 关闭后唯一可修改的字段
	Options        []VotingOption `gorm:"foreignKey:SessionID" json:"options"`
}

// VotingOption represents one selectable choice within a session.
// Never mutated after votes exist.
type VotingOption struct {
	gorm.Model
	SessionID  uint   `gorm:"not null;index" json:"session_id"`
	Text       string `gorm:"not null" json:"text"`
	OrderIndex int    `gorm:"default:0" json:"order_index"`
}

// IsOpenAt reports whether the session accepts ballots at the given time.
func (s *VotingSession) IsOpenAt(now time.Time) bool {
	if s.Status != SessionOpen {
		return false
	}
	if s.StartTime != nil && now.Before(*s.StartTime) {
		return false
	}
	if s.EndTime != nil && now.After(*s.EndTime) {
		return false
	}
	return true
}

// QuorumThreshold 返回会话的法定人数阈值（未设置时默认50）
func (s *VotingSession) QuorumThreshold() float64 {
	if s.QuorumPercent != nil {
		return *s.QuorumPercent
	}
	return 50
}
