// Package otp はメールOTPコードの発行と単回使用検証を提供する。
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

const (
	// CodeLength は数字コードの桁数。
	CodeLength = 6
	// DefaultTTL はコード発行から失効までの既定時間。
	DefaultTTL = 10 * time.Minute
)

// ServiceConfig はOTPサービスの設定。
type ServiceConfig struct {
	TTL time.Duration // コード有効期間。0の場合はDefaultTTL
}

// Service はOTPコードの発行・検証サービス。
type Service struct {
	credRepo repository.CredentialRepository
	mailer   Mailer
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(credRepo repository.CredentialRepository, mailer Mailer, config ServiceConfig) *Service {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Service{
		credRepo: credRepo,
		mailer:   mailer,
		config:   config,
	}
}

// Issue は6桁の数字コードを生成・保存し、メール送信する。
// 再送は新規コードの追加発行であり、既存の未使用コードは各自の期限まで有効のまま残る。
func (s *Service) Issue(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return model.NewInvalidIdentityError("メールアドレスの形式が不正です")
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate otp code: %w", err)
	}

	now := time.Now()
	credential := &model.Credential{
		ID:        uuid.New().String(),
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(s.config.TTL),
		Used:      false,
		CreatedAt: now,
	}

	if err := s.credRepo.Create(ctx, credential); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	if err := s.mailer.SendCode(ctx, email, code); err != nil {
		return fmt.Errorf("failed to deliver otp code: %w", err)
	}

	slog.Info("otp code issued",
		slog.String("credential_id", credential.ID),
	)
	return nil
}

// Verify はコードを検証し、同一操作で使用済みに遷移させる。
// 不正・期限切れ・使用済みのいずれの場合も同一のINVALID_CREDENTIALを返し、
// 理由を外部に開示しない。
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	code = strings.TrimSpace(code)

	if email == "" || code == "" {
		return model.NewInvalidCredentialError()
	}

	ok, err := s.credRepo.Consume(ctx, email, code, time.Now())
	if err != nil {
		return fmt.Errorf("failed to verify credential: %w", err)
	}
	if !ok {
		return model.NewInvalidCredentialError()
	}
	return nil
}

// generateCode は一様乱数から固定桁の数字コードを生成する。
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}
