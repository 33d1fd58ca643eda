package otp

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Mailer はOTPコードの配送インターフェース。
type Mailer interface {
	// SendCode は認証コードを指定メールアドレスへ送信する。
	SendCode(ctx context.Context, email, code string) error
}

// SMTPMailerConfig はSMTP経由のメール送信設定。
type SMTPMailerConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer はSMTP経由でOTPコードを送信する。
type SMTPMailer struct {
	config SMTPMailerConfig
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(config SMTPMailerConfig) *SMTPMailer {
	return &SMTPMailer{config: config}
}

// SendCode は認証コードをメール送信する。
func (m *SMTPMailer) SendCode(ctx context.Context, email, code string) error {
	addr := m.config.Host + ":" + m.config.Port

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	msg := strings.Join([]string{
		"From: " + m.config.From,
		"To: " + email,
		"Subject: =?UTF-8?B?44Ot44Kw44Kk44Oz6KqN6Ki844Kz44O844OJ?=", // ログイン認証コード
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		fmt.Sprintf("認証コード: %s", code),
		"このコードの有効期限は10分です。",
		"",
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, m.config.From, []string{email}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send otp mail: %w", err)
	}
	return nil
}

// LogMailer はメールを送信せず、コードをログ出力する開発用実装。
type LogMailer struct{}

// SendCode はコードをログ出力する。
func (m *LogMailer) SendCode(ctx context.Context, email, code string) error {
	slog.Info("otp code issued (log mailer)",
		slog.String("email", email),
		slog.String("code", code),
	)
	return nil
}

// compile-time interface checks
var _ Mailer = (*SMTPMailer)(nil)
var _ Mailer = (*LogMailer)(nil)
