package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出与详细堆栈
	File        string // 日志文件路径，留空仅输出到标准输出
}

// CORSConfig 定义跨域资源共享配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示全部
}

// DatabaseConfig 定义主体存储的数据库连接配置
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义共享计数/缓存存储配置
type RedisConfig struct {
	Address  string // Redis 服务地址，默认 "localhost:6379"
	Password string // 认证密码，留空表示无密码
	DB       int    // 数据库编号，默认 0
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // 签名密钥，必须至少 32 字符
	Issuer        string        // 签发者标识，默认 "scrapeapi"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// RateLimitConfig 定义限流窗口与等级上限
type RateLimitConfig struct {
	APIWindow   time.Duration // 通用 API 范围的窗口长度，默认 60 秒
	AuthWindow  time.Duration // 认证尝试范围的窗口长度，默认 15 分钟
	AuthCeiling int64         // 单 IP 每个认证窗口的尝试上限，默认 10
	FreeLimit   int64         // FREE 等级每窗口请求上限，默认 100
	BasicLimit  int64         // BASIC 等级每窗口请求上限，默认 1000
	ProLimit    int64         // PRO 等级每窗口请求上限，默认 10000
}

// CacheConfig 定义身份缓存配置
type CacheConfig struct {
	TTL time.Duration // 主体快照缓存时长，默认 1 小时
}

// FederatedConfig 定义联合身份断言验证配置
type FederatedConfig struct {
	Enabled  bool   // 是否启用联合身份方案
	Audience string // ID Token 的目标 audience
}

// GatewayConfig 定义网关管道配置
type GatewayConfig struct {
	RequestTimeout time.Duration // 单请求的管道期限，默认 10 秒
}

// Config 是系统核心配置的根结构体
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	CORS      CORSConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Federated FederatedConfig
	Gateway   GatewayConfig
}

// Load 从环境变量加载配置。
//
// 环境变量统一使用 SCRAPEAPI_ 前缀，层级用下划线展开，
// 例如: SCRAPEAPI_SERVER_PORT, SCRAPEAPI_JWT_SECRET。
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// .env 文件是可选的，加载失败静默跳过
	loadEnvFile()

	viper.SetEnvPrefix("scrapeapi")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "scrapeapi")
	viper.SetDefault("jwt.access_expiry", "15m")
	viper.SetDefault("jwt.refresh_expiry", "168h")
	viper.SetDefault("ratelimit.api_window", "60s")
	viper.SetDefault("ratelimit.auth_window", "15m")
	viper.SetDefault("ratelimit.auth_ceiling", 10)
	viper.SetDefault("ratelimit.free_limit", 100)
	viper.SetDefault("ratelimit.basic_limit", 1000)
	viper.SetDefault("ratelimit.pro_limit", 10000)
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("federated.enabled", false)
	viper.SetDefault("federated.audience", "")
	viper.SetDefault("gateway.request_timeout", "10s")

	jwtSecret := viper.GetString("jwt.secret")

	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set SCRAPEAPI_JWT_SECRET environment variable")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: duration("database.conn_max_lifetime", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        viper.GetString("jwt.issuer"),
			AccessExpiry:  duration("jwt.access_expiry", 15*time.Minute),
			RefreshExpiry: duration("jwt.refresh_expiry", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			APIWindow:   duration("ratelimit.api_window", time.Minute),
			AuthWindow:  duration("ratelimit.auth_window", 15*time.Minute),
			AuthCeiling: viper.GetInt64("ratelimit.auth_ceiling"),
			FreeLimit:   viper.GetInt64("ratelimit.free_limit"),
			BasicLimit:  viper.GetInt64("ratelimit.basic_limit"),
			ProLimit:    viper.GetInt64("ratelimit.pro_limit"),
		},
		Cache: CacheConfig{
			TTL: duration("cache.ttl", time.Hour),
		},
		Federated: FederatedConfig{
			Enabled:  viper.GetBool("federated.enabled"),
			Audience: viper.GetString("federated.audience"),
		},
		Gateway: GatewayConfig{
			RequestTimeout: duration("gateway.request_timeout", 10*time.Second),
		},
	}

	if cfg.Federated.Enabled && cfg.Federated.Audience == "" {
		return nil, fmt.Errorf("federated.audience is required when federated auth is enabled")
	}

	return cfg, nil
}

// duration 读取时长配置，解析失败时回退默认值
func duration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载当前目录或父目录的 .env 文件。
// 已存在的环境变量优先级更高，不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
