package handlers

import (
	"fmt"
	"os"
	"testing"
	"time"

	"union-voting-backend/cache"
	"union-voting-backend/database"
	"union-voting-backend/identity"
	"union-voting-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// SetupTestEnvironment sets up the Gin router and in-memory SQLite database
// for testing. Handlers read the global database.DB, so the test database is
// assigned there; each test gets its own named in-memory instance.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	testing.Init()
	gin.SetMode(gin.TestMode)

	os.Setenv("REDIS_MOCK", "true")
	require.NoError(t, cache.InitRedis())
	cache.ResetForTest()

	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	database.DB = db

	// 重新装配处理程序，使服务绑定到本测试的数据库
	deriver, err := identity.NewDeriver(testSecret)
	require.NoError(t, err)
	InitHandlers(deriver, nil)

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	// Setup routes the same way the production router does, minus
	// middleware that only adds noise to unit tests.
	router := gin.New()
	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("", CreateSession)
			sessions.GET("", GetSessions)
			sessions.GET("/:id", GetSession)
			sessions.PUT("/:id", UpdateSession)
			sessions.POST("/:id/open", OpenSession)
			sessions.POST("/:id/close", CloseSession)
			sessions.POST("/:id/roster", ImportRoster)
			sessions.POST("/:id/delegate", Delegate)
			sessions.POST("/:id/vote", SubmitVote)
			sessions.POST("/:id/vote/proxy", SubmitProxyVote)
			sessions.GET("/:id/voted", HasVoted)
			sessions.GET("/:id/results", GetResults)
			sessions.GET("/:id/results/ranked", GetRankedResults)
		}
	}

	return router, db
}

// createOpenSession 建立一个开放中的会话、选项和名册
func createOpenSession(t *testing.T, db *gorm.DB, ballotType models.BallotType, optionTexts []string, memberIDs ...string) *models.VotingSession {
	t.Helper()

	session := &models.VotingSession{
		Title:          "Handler Test Ballot",
		OrganizationID: "org-1",
		BallotType:     ballotType,
		Status:         models.SessionOpen,
	}
	require.NoError(t, db.Create(session).Error)

	for i, text := range optionTexts {
		opt := &models.VotingOption{SessionID: session.ID, Text: text, OrderIndex: i}
		require.NoError(t, db.Create(opt).Error)
	}

	for _, memberID := range memberIDs {
		slot := &models.VoterEligibility{
			SessionID: session.ID,
			MemberID:  memberID,
			Eligible:  true,
			Weight:    1,
		}
		require.NoError(t, db.Create(slot).Error)
	}
	require.NoError(t, db.Model(&models.VotingSession{}).
		Where("id = ?", session.ID).
		Update("total_eligible", int64(len(memberIDs))).Error)

	require.NoError(t, db.Preload("Options").First(session, session.ID).Error)
	return session
}

// futureTime 返回相对当前时刻偏移的时间指针
func futureTime(d time.Duration) *time.Time {
	ts := time.Now().Add(d)
	return &ts
}
