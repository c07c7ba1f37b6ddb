package gateway

import "errors"

// 网关层错误分类。对外响应只区分这四类；
// 具体失败原因（缺失头、格式错误、过期、吊销等）只进日志，不回传调用方。
var (
	// ErrAuthenticationFailed 凭证缺失/无效/过期/吊销，或身份断言验证器不可达。
	// 一律 fail-closed。
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrAuthorizationDenied 角色不在路由允许列表中
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrRateLimitExceeded 达到等级配额上限
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrUpstreamUnavailable 主体存储或计数存储不可达。
	// 影响限流时降级放行；影响凭证解析时请求失败。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ReasonRateLimitExceeded 配额拒绝的机器可读原因码
const ReasonRateLimitExceeded = "rate_limit_exceeded"
