package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 全局Redis客户端
var (
	redisClient *redis.Client
	redisCtx    = context.Background()
	initOnce    sync.Once
	initialized bool

	// 模拟模式（Redis不可用时降级为进程内map）
	mockMode  bool
	mockMutex sync.Mutex
	mockData  = make(map[string]string)

	// 已投标记的过期时间：覆盖任何合理的投票窗口
	votedMarkerTTL = 30 * 24 * time.Hour
	// 结果缓存过期时间
	resultsTTL = 1 * time.Hour
)

// InitRedis 初始化Redis连接
func InitRedis() error {
	var initErr error

	initOnce.Do(func() {
		// 检查是否强制使用模拟模式
		if os.Getenv("REDIS_MOCK") == "true" {
			log.Println("强制使用Redis模拟模式")
			mockMode = true
			initialized = true
			return
		}

		// 从环境变量获取Redis连接信息
		redisAddr := os.Getenv("REDIS_ADDR")
		redisPassword := os.Getenv("REDIS_PASSWORD")
		redisDb := 0

		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				redisDb = db
			}
		}

		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}

		log.Printf("初始化Redis连接, 地址: %s", redisAddr)

		client := redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          redisDb,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		})

		// 测试连接
		if _, err := client.Ping(redisCtx).Result(); err != nil {
			log.Printf("Redis连接失败: %v，将使用模拟模式", err)
			mockMode = true
			initialized = true
			return
		}

		redisClient = client
		initialized = true
		mockMode = false
		log.Println("Redis连接初始化成功")
	})

	return initErr
}

// GetClient 获取Redis客户端实例
func GetClient() (*redis.Client, error) {
	if !initialized {
		return nil, ErrRedisNotAvailable
	}
	if mockMode {
		return nil, ErrRedisNotAvailable
	}
	return redisClient, nil
}

// votedKey 已投标记的键格式
func votedKey(sessionID uint, voterID string) string {
	return fmt.Sprintf("ballot:%d:voted:%s", sessionID, voterID)
}

// MarkVoted sets the voted marker for a voter. Returns false when the marker
// already existed. This is only a fast path in front of the database unique
// index; the index remains the authority on duplicates.
func MarkVoted(ctx context.Context, sessionID uint, voterID string) (bool, error) {
	if !initialized {
		return true, ErrRedisNotAvailable
	}

	key := votedKey(sessionID, voterID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		if _, exists := mockData[key]; exists {
			return false, nil
		}
		mockData[key] = "1"
		return true, nil
	}

	return redisClient.SetNX(ctx, key, time.Now().Unix(), votedMarkerTTL).Result()
}

// UnmarkVoted 回滚已投标记（数据库写入失败时调用，避免假阳性拒票）
func UnmarkVoted(ctx context.Context, sessionID uint, voterID string) {
	if !initialized {
		return
	}

	key := votedKey(sessionID, voterID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		delete(mockData, key)
		return
	}

	if err := redisClient.Del(ctx, key).Err(); err != nil {
		log.Printf("删除已投标记失败: %s, 错误: %v", key, err)
	}
}

// HasVotedMarker 查询已投标记，出错时保守返回未命中
func HasVotedMarker(ctx context.Context, sessionID uint, voterID string) bool {
	if !initialized {
		return false
	}

	key := votedKey(sessionID, voterID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		_, exists := mockData[key]
		return exists
	}

	n, err := redisClient.Exists(ctx, key).Result()
	if err != nil {
		log.Printf("查询已投标记失败: %v", err)
		return false
	}
	return n > 0
}

// CacheResults 缓存会话的统计结果JSON
func CacheResults(ctx context.Context, sessionID uint, payload []byte) {
	if !initialized {
		return
	}

	key := fmt.Sprintf("ballot:%d:results", sessionID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		mockData[key] = string(payload)
		return
	}

	if err := redisClient.Set(ctx, key, payload, resultsTTL).Err(); err != nil {
		log.Printf("缓存统计结果失败: %s, 错误: %v", key, err)
	}
}

// InvalidateResults 删除会话的结果缓存（新票写入后调用）
func InvalidateResults(ctx context.Context, sessionID uint) {
	if !initialized {
		return
	}

	key := fmt.Sprintf("ballot:%d:results", sessionID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		delete(mockData, key)
		return
	}

	if err := redisClient.Del(ctx, key).Err(); err != nil {
		log.Printf("删除结果缓存失败: %s, 错误: %v", key, err)
	}
}

// GetCachedResults 读取会话的结果缓存，未命中返回nil
func GetCachedResults(ctx context.Context, sessionID uint) []byte {
	if !initialized {
		return nil
	}

	key := fmt.Sprintf("ballot:%d:results", sessionID)

	if mockMode {
		mockMutex.Lock()
		defer mockMutex.Unlock()
		if data, exists := mockData[key]; exists {
			return []byte(data)
		}
		return nil
	}

	data, err := redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("读取结果缓存失败: %v", err)
		}
		return nil
	}
	return data
}

// ResetForTest 清空模拟模式数据，供测试使用
func ResetForTest() {
	mockMutex.Lock()
	defer mockMutex.Unlock()
	mockData = make(map[string]string)
}

// CloseRedis 关闭Redis连接
func CloseRedis() {
	if initialized && !mockMode && redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("关闭Redis连接错误: %v", err)
		}
		log.Println("Redis连接已关闭")
	}
}
