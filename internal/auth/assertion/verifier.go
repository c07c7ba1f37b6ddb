package assertion

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// ErrAssertionInvalid 身份断言验证失败
var ErrAssertionInvalid = errors.New("identity assertion invalid")

// Identity 外部身份提供方验证通过后返回的断言内容
type Identity struct {
	Email         string
	Subject       string // 提供方内部的 subject id
	EmailVerified bool
	Name          string
}

// Verifier 外部身份断言验证器。联合身份令牌的签名验证
// 完全委托给提供方，网关只消费验证结果。
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Disabled 返回一个拒绝所有断言的验证器，
// 用于未启用联合身份方案的部署。
func Disabled() Verifier {
	return disabledVerifier{}
}

type disabledVerifier struct{}

func (disabledVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	return nil, fmt.Errorf("%w: federated authentication is not enabled", ErrAssertionInvalid)
}

// GoogleVerifier 基于 Google ID Token 的断言验证器实现
type GoogleVerifier struct {
	audience  string
	validator *idtoken.Validator
}

// NewGoogleVerifier 创建 Google ID Token 验证器
func NewGoogleVerifier(ctx context.Context, audience string) (*GoogleVerifier, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create idtoken validator: %w", err)
	}
	return &GoogleVerifier{
		audience:  audience,
		validator: validator,
	}, nil
}

// Verify 验证 ID Token 并提取断言内容
func (v *GoogleVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	payload, err := v.validator.Validate(ctx, token, v.audience)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("%w: assertion carries no email", ErrAssertionInvalid)
	}
	verified, _ := payload.Claims["email_verified"].(bool)
	name, _ := payload.Claims["name"].(string)

	return &Identity{
		Email:         email,
		Subject:       payload.Subject,
		EmailVerified: verified,
		Name:          name,
	}, nil
}
