package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// VoterEligibility records whether a member may vote in a session and an
// optional delegation target. Unique per (session, member); mutable only
// before the session closes.
type VoterEligibility struct {
	gorm.Model
	SessionID   uint    `gorm:"not null;uniqueIndex:idx_eligibility_slot" json:"session_id"`
	MemberID    string  `gorm:"not null;uniqueIndex:idx_eligibility_slot" json:"member_id"`
	Eligible    bool    `gorm:"default:true" json:"eligible"`
	Weight      int64   `gorm:"default:1" json:"weight"`
	DelegatedTo *string `json:"delegated_to,omitempty"` // 受托人member ID，nil表示未委托
}

// Vote is one cast ballot, keyed by the pseudonymous voter ID.
// The unique index on (session_id, voter_id) is what enforces
// at-most-one-vote-per-voter-per-session, atomically at the storage layer.
// Rows are immutable once written.
type Vote struct {
	gorm.Model
	SessionID uint      `gorm:"not null;uniqueIndex:idx_session_voter" json:"session_id"`
	VoterID   string    `gorm:"not null;size:64;uniqueIndex:idx_session_voter" json:"-"`
	VoterHash string    `gorm:"not null;size:64" json:"voter_hash"` // SHA256 of the voter token, for audit storage
	OptionID  *uint     `json:"option_id,omitempty"`                // 单选票的选项
	Ranking   string    `gorm:"type:text" json:"ranking,omitempty"` // 排序票的偏好列表（JSON数组）
	Anonymous bool      `gorm:"default:true" json:"anonymous"`
	Weight    int64     `gorm:"default:1" json:"weight"`
	CastAt    time.Time `gorm:"not null" json:"cast_at"`
}

// RankedOptionIDs decodes the stored preference list of a ranked ballot.
func (v *Vote) RankedOptionIDs() ([]uint, error) {
	if v.Ranking == "" {
		return nil, nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(v.Ranking), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// EncodeRanking 序列化偏好列表到票据
func (v *Vote) EncodeRanking(ids []uint) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	v.Ranking = string(data)
	return nil
}
