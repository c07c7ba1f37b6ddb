package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"scrapeapi/backend/internal/domain"
	redisstore "scrapeapi/backend/internal/storage/redis"
)

// DefaultTTL 主体快照的默认缓存时长
const DefaultTTL = time.Hour

// Loader 缓存未命中时回源主体存储的加载函数
type Loader func(ctx context.Context) (*domain.User, error)

// IdentityCache 主体存储的 cache-aside 包装。
// 命中时直接返回快照；未命中时调用 loader 回源并以固定 TTL 写入。
// loader 的错误原样向上传播且不会被缓存（瞬时故障不能污染缓存）。
// 并发未命中各自独立回源，不做 single-flight 去重：回源是幂等读。
type IdentityCache struct {
	store *redisstore.Client
	ttl   time.Duration
	log   *zap.Logger

	// onLookup 命中/未命中回调，用于暴露指标（可为 nil）
	onLookup func(hit bool)
}

// SetLookupHook 设置命中回调（指标用）
func (c *IdentityCache) SetLookupHook(hook func(hit bool)) {
	c.onLookup = hook
}

// NewIdentityCache 创建身份缓存。ttl <= 0 时使用 DefaultTTL。
func NewIdentityCache(store *redisstore.Client, ttl time.Duration, log *zap.Logger) *IdentityCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdentityCache{
		store: store,
		ttl:   ttl,
		log:   log,
	}
}

// Get 按键获取主体快照，未命中时通过 loader 回源。
// 缓存读写故障按回源处理并记录日志：缓存不可用只损失性能，不影响正确性。
func (c *IdentityCache) Get(ctx context.Context, key string, loader Loader) (*domain.User, error) {
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("identity cache read failed, falling through to loader",
			zap.String("key", key),
			zap.Error(err),
		)
	} else if found {
		var user domain.User
		if err := json.Unmarshal([]byte(data), &user); err == nil {
			c.lookup(true)
			return &user, nil
		}
		// 无法解析的条目视为未命中，回源后覆盖
		c.log.Warn("identity cache entry corrupted, reloading",
			zap.String("key", key),
		)
	}

	c.lookup(false)

	user, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	if user != nil {
		snapshot, err := json.Marshal(user)
		if err == nil {
			if err := c.store.Set(ctx, key, snapshot, c.ttl); err != nil {
				c.log.Warn("identity cache write failed",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		}
	}

	return user, nil
}

func (c *IdentityCache) lookup(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

// Invalidate 删除缓存条目。主体的任何变更操作都必须在向调用方
// 返回成功之前调用本方法，使下一次解析观察到最新状态。
func (c *IdentityCache) Invalidate(ctx context.Context, keys ...string) error {
	return c.store.Del(ctx, keys...)
}

// UserKey 构造按主体ID索引的缓存键
func UserKey(userID string) string {
	return "user:" + userID
}

// APIKeyKey 构造按API密钥哈希索引的缓存键。
// 原始密钥值不直接出现在缓存键中。
func APIKeyKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return "apikey:" + hex.EncodeToString(sum[:])
}
