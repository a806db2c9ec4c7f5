package service

import (
	"fmt"
	"os"
	"testing"
	"time"

	"union-voting-backend/cache"
	"union-voting-backend/database"
	"union-voting-backend/identity"
	"union-voting-backend/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// setupServiceTest opens a per-test in-memory SQLite database and puts the
// cache layer into mock mode so the voted-marker fast path behaves like a
// real Redis without one running.
func setupServiceTest(t *testing.T) *gorm.DB {
	t.Helper()
	testing.Init()

	os.Setenv("REDIS_MOCK", "true")
	require.NoError(t, cache.InitRedis())
	cache.ResetForTest()

	// 每个测试独立的命名内存库，连接池内共享同一份数据
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true, // 唯一索引冲突要映射为gorm.ErrDuplicatedKey
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

// newTestLedger wires a ledger with a real deriver and no-op publisher.
func newTestLedger(t *testing.T, db *gorm.DB) *VoteLedger {
	t.Helper()
	deriver, err := identity.NewDeriver(testSecret)
	require.NoError(t, err)
	return NewVoteLedger(db, NewEligibilityGate(db), deriver, nil)
}

// createTestSession 建立一个开放中的会话和选项
func createTestSession(t *testing.T, db *gorm.DB, ballotType models.BallotType, optionTexts ...string) *models.VotingSession {
	t.Helper()

	session := &models.VotingSession{
		Title:          "Test Ballot",
		OrganizationID: "org-1",
		BallotType:     ballotType,
		Status:         models.SessionOpen,
	}
	require.NoError(t, db.Create(session).Error)

	for i, text := range optionTexts {
		opt := &models.VotingOption{SessionID: session.ID, Text: text, OrderIndex: i}
		require.NoError(t, db.Create(opt).Error)
	}

	require.NoError(t, db.Preload("Options").First(session, session.ID).Error)
	return session
}

// seedEligibility 为成员建立资格记录并刷新合格人数
func seedEligibility(t *testing.T, db *gorm.DB, sessionID uint, memberIDs ...string) {
	t.Helper()
	for _, memberID := range memberIDs {
		slot := &models.VoterEligibility{
			SessionID: sessionID,
			MemberID:  memberID,
			Eligible:  true,
			Weight:    1,
		}
		require.NoError(t, db.Create(slot).Error)
	}

	var count int64
	require.NoError(t, db.Model(&models.VoterEligibility{}).
		Where("session_id = ? AND eligible = ?", sessionID, true).
		Count(&count).Error)
	require.NoError(t, db.Model(&models.VotingSession{}).
		Where("id = ?", sessionID).
		Update("total_eligible", count).Error)
}

// castRanked 直接写入一张排序票，绕过台账（供计票测试铺数据）
func castRanked(t *testing.T, db *gorm.DB, sessionID uint, voterID string, ranking []uint) {
	t.Helper()
	vote := &models.Vote{
		SessionID: sessionID,
		VoterID:   voterID,
		VoterHash: "hash-" + voterID,
		Weight:    1,
		CastAt:    time.Now(),
	}
	require.NoError(t, vote.EncodeRanking(ranking))
	require.NoError(t, db.Create(vote).Error)
}

// castSingle 直接写入一张单选票
func castSingle(t *testing.T, db *gorm.DB, sessionID uint, voterID string, optionID uint, weight int64) {
	t.Helper()
	vote := &models.Vote{
		SessionID: sessionID,
		VoterID:   voterID,
		VoterHash: "hash-" + voterID,
		OptionID:  &optionID,
		Weight:    weight,
		CastAt:    time.Now(),
	}
	require.NoError(t, db.Create(vote).Error)
}
