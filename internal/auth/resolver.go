package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scrapeapi/backend/internal/auth/assertion"
	jwtpkg "scrapeapi/backend/internal/auth/jwt"
	"scrapeapi/backend/internal/cache"
	"scrapeapi/backend/internal/domain"
	"scrapeapi/backend/internal/gateway"
	"scrapeapi/backend/internal/storage"
)

// Resolver 凭证解析器：把任意一种请求凭证解析为已验证的主体。
//
// 三种凭证方案在 Credential 标签上做穷尽分派。所有失败原因
// （缺失头、未知方案、令牌格式错误、过期、密钥吊销、断言验证器不可达）
// 对调用方坍缩为同一个 ErrAuthenticationFailed，避免泄露是哪一步
// 未通过；内部按原因分别记录日志。
type Resolver struct {
	store      storage.Store
	cache      *cache.IdentityCache
	tokens     *jwtpkg.Manager
	assertions assertion.Verifier
	log        *zap.Logger

	// onFailure / onSuccess 解析结果回调，用于暴露指标（可为 nil）
	onFailure func(scheme, cause string)
	onSuccess func(scheme string)
}

// NewResolver 创建凭证解析器
func NewResolver(store storage.Store, identityCache *cache.IdentityCache, tokens *jwtpkg.Manager, assertions assertion.Verifier, log *zap.Logger) *Resolver {
	return &Resolver{
		store:      store,
		cache:      identityCache,
		tokens:     tokens,
		assertions: assertions,
		log:        log,
	}
}

// SetFailureHook 设置认证失败回调（指标用）
func (r *Resolver) SetFailureHook(hook func(scheme, cause string)) {
	r.onFailure = hook
}

// SetSuccessHook 设置认证成功回调（指标用）
func (r *Resolver) SetSuccessHook(hook func(scheme string)) {
	r.onSuccess = hook
}

func (r *Resolver) accept(scheme string) {
	if r.onSuccess != nil {
		r.onSuccess(scheme)
	}
}

// Resolve 按凭证方案分派解析。成功返回已验证的主体快照，
// 失败一律返回 gateway.ErrAuthenticationFailed（fail-closed）。
func (r *Resolver) Resolve(ctx context.Context, cred domain.Credential) (*domain.User, error) {
	switch cred.Scheme {
	case domain.SchemeBearer:
		return r.resolveBearer(ctx, cred.Value)
	case domain.SchemeFederated:
		return r.resolveFederated(ctx, cred.Value)
	case domain.SchemeAPIKey:
		return r.resolveAPIKey(ctx, cred.Value)
	default:
		return nil, r.reject(string(cred.Scheme), "unknown_scheme", nil)
	}
}

// resolveBearer 验证本系统签发的 JWT 并解析完整主体。
func (r *Resolver) resolveBearer(ctx context.Context, token string) (*domain.User, error) {
	claims, err := r.tokens.ValidateToken(token)
	if err != nil {
		cause := "token_invalid"
		if errors.Is(err, jwtpkg.ErrExpiredToken) {
			cause = "token_expired"
		}
		return nil, r.reject("bearer", cause, err)
	}

	user, err := r.cache.Get(ctx, cache.UserKey(claims.UserID), func(ctx context.Context) (*domain.User, error) {
		return r.store.GetUserByID(ctx, claims.UserID)
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, r.reject("bearer", "principal_missing", err)
		}
		// 主体存储不可达：身份无法假定，fail-closed
		return nil, r.reject("bearer", "principal_store_unavailable", err)
	}
	if !user.IsActive {
		return nil, r.reject("bearer", "principal_inactive", nil)
	}

	r.accept("bearer")
	return user, nil
}

// resolveFederated 把验证委托给外部身份断言验证器，
// 首次出现的邮箱自动注册（role=user, tier=FREE）。
// 注册必须幂等：并发的首次解析依赖主体存储对 email 的唯一约束，
// 冲突时重查而不是使请求失败。
func (r *Resolver) resolveFederated(ctx context.Context, token string) (*domain.User, error) {
	ident, err := r.assertions.Verify(ctx, token)
	if err != nil {
		return nil, r.reject("federated", "assertion_rejected", err)
	}

	user, err := r.store.GetUserByEmail(ctx, ident.Email)
	if errors.Is(err, storage.ErrUserNotFound) {
		user, err = r.provisionFederated(ctx, ident)
	}
	if err != nil {
		return nil, r.reject("federated", "principal_store_unavailable", err)
	}
	if !user.IsActive {
		return nil, r.reject("federated", "principal_inactive", nil)
	}

	r.accept("federated")
	return user, nil
}

// provisionFederated 自动注册联合身份用户。
func (r *Resolver) provisionFederated(ctx context.Context, ident *assertion.Identity) (*domain.User, error) {
	now := time.Now()
	user := &domain.User{
		ID:               uuid.New().String(),
		Email:            ident.Email,
		Name:             ident.Name,
		Role:             domain.RoleUser,
		Tier:             domain.TierFree,
		IsActive:         true,
		IsEmailVerified:  ident.EmailVerified,
		FederatedSubject: ident.Subject,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := r.store.CreateUser(ctx, user)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, storage.ErrEmailExists) {
		// 输给了并发的首次解析，重查即可
		r.log.Debug("federated provisioning lost creation race, re-reading",
			zap.String("email", ident.Email),
		)
		return r.store.GetUserByEmail(ctx, ident.Email)
	}
	return nil, err
}

// resolveAPIKey 按密钥值解析所属主体并校验密钥状态。
func (r *Resolver) resolveAPIKey(ctx context.Context, key string) (*domain.User, error) {
	user, err := r.cache.Get(ctx, cache.APIKeyKey(key), func(ctx context.Context) (*domain.User, error) {
		return r.store.GetUserByAPIKey(ctx, key)
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, r.reject("api_key", "key_unknown", err)
		}
		return nil, r.reject("api_key", "principal_store_unavailable", err)
	}

	var record *domain.APIKey
	for i := range user.APIKeys {
		if user.APIKeys[i].Key == key {
			record = &user.APIKeys[i]
			break
		}
	}
	if record == nil {
		return nil, r.reject("api_key", "key_unknown", nil)
	}
	if !record.IsActive {
		return nil, r.reject("api_key", "key_revoked", nil)
	}
	if record.IsExpired(time.Now()) {
		return nil, r.reject("api_key", "key_expired", nil)
	}
	if !user.IsActive {
		return nil, r.reject("api_key", "principal_inactive", nil)
	}

	// lastUsed 更新是尽力而为：不阻塞请求，失败只记日志。
	// 使用独立的后台上下文，请求被取消后更新仍可完成或静默失败。
	go r.touchAPIKey(record.ID)

	r.accept("api_key")
	return user, nil
}

func (r *Resolver) touchAPIKey(keyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.store.UpdateAPIKeyLastUsed(ctx, keyID); err != nil {
		r.log.Debug("failed to update api key last used",
			zap.String("key_id", keyID),
			zap.Error(err),
		)
	}
}

// reject 记录具体失败原因并返回统一的认证失败错误。
func (r *Resolver) reject(scheme, cause string, err error) error {
	fields := []zap.Field{
		zap.String("scheme", scheme),
		zap.String("cause", cause),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.log.Warn("credential resolution failed", fields...)

	if r.onFailure != nil {
		r.onFailure(scheme, cause)
	}
	return gateway.ErrAuthenticationFailed
}
