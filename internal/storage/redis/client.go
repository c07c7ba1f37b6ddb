package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConnState Redis 连接状态机的状态
type ConnState int32

const (
	// StateConnecting 初始连接中
	StateConnecting ConnState = iota
	// StateConnected 已连接
	StateConnected
	// StateBackoff 连接失败，按指数退避等待重试
	StateBackoff
	// StateFailed 重试次数耗尽，放弃重连
	StateFailed
)

// String 返回状态名称
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config Redis 客户端配置
type Config struct {
	Address  string
	Password string
	DB       int

	// PingInterval 健康探测间隔，默认 5 秒
	PingInterval time.Duration
	// InitialBackoff 首次重连退避时长，默认 1 秒
	InitialBackoff time.Duration
	// MaxBackoff 退避上限，默认 30 秒
	MaxBackoff time.Duration
	// MaxRetries 连续失败重试上限，超出后进入 Failed 状态，默认 10
	MaxRetries int
}

// Client 封装共享计数/缓存存储的 Redis 客户端。
// 连接状态由后台探测协程维护，对上层暴露为 Available 信号：
// 限流器据此选择放行（fail-open），认证路径则始终以操作错误为准（fail-closed）。
type Client struct {
	rdb   *goredis.Client
	log   *zap.Logger
	state atomic.Int32

	pingInterval   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxRetries     int

	stop chan struct{}
	done chan struct{}
}

// New 创建 Redis 客户端并启动连接监控。
// 初始连接失败不会返回错误：客户端进入退避状态，由监控协程负责重连，
// 网关层按各自的失败策略降级。
func New(cfg Config, log *zap.Logger) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}

	c := &Client{
		rdb:            rdb,
		log:            log,
		pingInterval:   cfg.PingInterval,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxRetries:     cfg.MaxRetries,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("initial Redis connection failed, entering backoff",
			zap.String("address", cfg.Address),
			zap.Error(err),
		)
		c.state.Store(int32(StateBackoff))
	} else {
		c.state.Store(int32(StateConnected))
		log.Info("connected to Redis",
			zap.String("address", cfg.Address),
			zap.Int("db", cfg.DB),
		)
	}

	go c.monitor()
	return c
}

// NewFromClient 使用已有的 go-redis 客户端构造包装器，测试用。
func NewFromClient(rdb *goredis.Client, log *zap.Logger) *Client {
	c := &Client{
		rdb:            rdb,
		log:            log,
		pingInterval:   time.Hour, // 测试中不需要探测
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
		maxRetries:     10,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	go c.monitor()
	return c
}

// monitor 周期性探测连接，失败时按指数退避重试。
// 状态迁移：Connecting/Connected -> Backoff(n) -> Connected 或 Failed。
func (c *Client) monitor() {
	defer close(c.done)

	backoff := c.initialBackoff
	retries := 0
	wait := c.pingInterval

	for {
		select {
		case <-c.stop:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := c.rdb.Ping(ctx).Err()
		cancel()

		if err == nil {
			if c.State() != StateConnected {
				c.log.Info("Redis connection restored")
			}
			c.state.Store(int32(StateConnected))
			backoff = c.initialBackoff
			retries = 0
			wait = c.pingInterval
			continue
		}

		retries++
		if retries >= c.maxRetries {
			c.state.Store(int32(StateFailed))
			c.log.Error("Redis reconnect retries exhausted",
				zap.Int("retries", retries),
				zap.Error(err),
			)
			// Failed 状态下降低探测频率，仍保留恢复的可能
			wait = c.maxBackoff
			continue
		}

		c.state.Store(int32(StateBackoff))
		c.log.Warn("Redis unavailable, backing off",
			zap.Duration("backoff", backoff),
			zap.Int("attempt", retries),
			zap.Error(err),
		)
		wait = backoff
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// State 返回当前连接状态
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Available 返回存储是否可用（供失败策略与健康检查消费）
func (c *Client) Available() bool {
	return c.State() == StateConnected
}

// Close 停止监控并关闭连接
func (c *Client) Close() error {
	close(c.stop)
	<-c.done
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}

// Ping 测试连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get 获取键值。键不存在时返回 (""，false, nil)。
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, true, nil
}

// Set 设置键值（带过期时间）
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Incr 原子自增计数器，返回自增后的值
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// ExpireNX 仅当键尚无过期时间时设置过期时间。
// 固定窗口限流依赖该原语避免窗口起点竞态：两个并发请求都观察到
// count==1 时，TTL 也只会被建立一次。
func (c *Client) ExpireNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.ExpireNX(ctx, key, ttl).Result()
}

// TTL 获取键的剩余生存时间
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}
