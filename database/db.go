package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"union-voting-backend/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是全局数据库连接
var DB *gorm.DB

// InitDB 初始化数据库连接
func InitDB() error {
	// 配置GORM
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second, // 慢SQL阈值
			LogLevel:                  logger.Warn, // 日志级别
			IgnoreRecordNotFoundError: true,        // 忽略ErrRecordNotFound错误
			Colorful:                  true,        // 启用彩色打印
		},
	)

	var err error

	// 从环境变量获取MySQL数据库配置
	dbUser := getEnv("DB_USER", "voteuser")
	dbPassword := getEnv("DB_PASSWORD", "votepassword")
	dbHost := getEnv("DB_HOST", "mysql")
	dbPort := getEnv("DB_PORT", "3306")
	dbName := getEnv("DB_NAME", "unionvotedb")

	// 构建DSN
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		dbUser, dbPassword, dbHost, dbPort, dbName)

	// TranslateError makes the unique-index violation on votes surface as
	// gorm.ErrDuplicatedKey, which the ledger depends on for the
	// exactly-once guarantee.
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})

	if err != nil {
		return fmt.Errorf("连接数据库失败: %v", err)
	}

	// 自动迁移模型
	if err := Migrate(DB); err != nil {
		return fmt.Errorf("迁移模型失败: %v", err)
	}

	log.Println("数据库连接和迁移成功")
	return nil
}

// Migrate 迁移投票相关模型（测试环境的sqlite内存库也走这里）
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.VotingSession{},
		&models.VotingOption{},
		&models.VoterEligibility{},
		&models.Vote{},
	)
}

// CloseDB 关闭数据库连接
func CloseDB() {
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("获取数据库连接失败: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("关闭数据库连接失败: %v", err)
		return
	}

	log.Println("数据库连接已关闭")
}

// getEnv 获取环境变量值或使用默认值
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
