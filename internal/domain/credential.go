package domain

// CredentialScheme 凭证类型标签。新增认证方式时在此增加变体，
// 并在解析器中补充对应的处理分支。
type CredentialScheme string

const (
	// SchemeBearer 本系统签发的 JWT 访问令牌
	SchemeBearer CredentialScheme = "Bearer"
	// SchemeFederated 外部身份提供方签发的联合身份令牌
	SchemeFederated CredentialScheme = "Federated"
	// SchemeAPIKey 不透明 API 密钥
	SchemeAPIKey CredentialScheme = "APIKey"
)

// Credential 单次请求携带的临时凭证，不做持久化。
type Credential struct {
	Scheme CredentialScheme
	Value  string
}

// BearerCredential 构造 Bearer 令牌凭证
func BearerCredential(token string) Credential {
	return Credential{Scheme: SchemeBearer, Value: token}
}

// FederatedCredential 构造联合身份令牌凭证
func FederatedCredential(token string) Credential {
	return Credential{Scheme: SchemeFederated, Value: token}
}

// APIKeyCredential 构造 API 密钥凭证
func APIKeyCredential(key string) Credential {
	return Credential{Scheme: SchemeAPIKey, Value: key}
}
