package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/passport/internal/model"
)

// TokenManagerConfig は署名付きトークンの設定。
type TokenManagerConfig struct {
	Secret []byte        // HS256署名鍵
	TTL    time.Duration // トークン有効期間
	Issuer string
}

// TokenManager はクレームをHS256署名のJWTへ相互変換する。
// トークンは自己完結であり、サーバー側セッションストアは持たない。
type TokenManager struct {
	config TokenManagerConfig
}

// NewTokenManager はTokenManagerを生成する。
func NewTokenManager(config TokenManagerConfig) (*TokenManager, error) {
	if len(config.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if config.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	return &TokenManager{config: config}, nil
}

// tokenClaims はJWTペイロードの内部表現。
type tokenClaims struct {
	Provider   string `json:"prv"`
	Name       string `json:"name,omitempty"`
	AvatarURL  string `json:"avatar,omitempty"`
	Incomplete bool   `json:"incomplete,omitempty"`
	ExternalID string `json:"ext,omitempty"`
	Email      string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Sign はクレームを署名し、トークン文字列とセッションIDを返す。
// セッションIDはJWTのjtiであり、ログイン履歴との突合に使用する。
func (m *TokenManager) Sign(claims Claims) (token string, sessionID string, err error) {
	base := claims.Base()
	now := time.Now()
	sessionID = uuid.New().String()

	tc := tokenClaims{
		Provider:   string(base.Provider),
		Name:       base.Name,
		AvatarURL:  base.AvatarURL,
		Incomplete: base.Incomplete,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   base.AccountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	switch c := claims.(type) {
	case DelegatedClaims:
		tc.ExternalID = c.ExternalID
	case OtpClaims:
		tc.Email = c.Email
	default:
		return "", "", fmt.Errorf("unsupported claims type %T", claims)
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(m.config.Secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, sessionID, nil
}

// Parse はトークンを検証し、プロバイダータグに応じたクレーム型と
// セッションID（jti）を返す。
func (m *TokenManager) Parse(tokenString string) (Claims, string, error) {
	tc := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, tc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.config.Secret, nil
	}, jwt.WithIssuer(m.config.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, "", errors.New("invalid token")
	}

	base := BaseClaims{
		AccountID:  tc.Subject,
		Provider:   model.Provider(tc.Provider),
		Name:       tc.Name,
		AvatarURL:  tc.AvatarURL,
		Incomplete: tc.Incomplete,
	}

	switch base.Provider {
	case model.ProviderDelegated:
		return DelegatedClaims{BaseClaims: base, ExternalID: tc.ExternalID}, tc.ID, nil
	case model.ProviderOTP:
		return OtpClaims{BaseClaims: base, Email: tc.Email}, tc.ID, nil
	default:
		return nil, "", fmt.Errorf("unknown provider tag %q", tc.Provider)
	}
}
