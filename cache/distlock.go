package cache

import (
	"fmt"
	"log"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

var (
	// rs 全局的Redsync实例
	rs *redsync.Redsync
)

// DistributedLockService 分布式锁服务，用于串行化会话状态变更
type DistributedLockService struct {
	rs *redsync.Redsync
}

// InitDistLock 初始化分布式锁
func InitDistLock() {
	// 使用现有的Redis客户端
	client, err := GetClient()
	if err != nil {
		log.Printf("初始化分布式锁失败: %v", err)
		return
	}

	pool := goredis.NewPool(client)
	rs = redsync.New(pool)
	log.Println("分布式锁初始化成功")
}

// GetLockService 获取分布式锁服务实例。Redis处于模拟模式时返回nil，
// 调用方退化为无锁执行（单实例部署下仍然正确）。
func GetLockService() *DistributedLockService {
	if rs == nil {
		InitDistLock()
	}
	if rs == nil {
		return nil
	}
	return &DistributedLockService{rs: rs}
}

// WithLock 在锁内执行操作
func (s *DistributedLockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),                        // 最大重试次数
		redsync.WithRetryDelay(50*time.Millisecond), // 重试延迟
		redsync.WithDriftFactor(0.01),               // 时钟漂移因子
	)

	if err := mutex.Lock(); err != nil {
		return ErrLockNotAcquired
	}

	// 确保解锁
	defer func() {
		_, _ = mutex.Unlock()
	}()

	return action()
}

// WithSessionLock 针对单个会话的锁封装
func WithSessionLock(sessionID uint, action func() error) error {
	svc := GetLockService()
	if svc == nil {
		return action()
	}
	lockName := fmt.Sprintf("ballot:session-lock:%d", sessionID)
	return svc.WithLock(lockName, 5*time.Second, action)
}
