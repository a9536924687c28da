package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"CREDIT-backend/internal/platform/db"
)

// Mailer は借用者・管理者向けメール送信の薄いSMTPアダプタ。
// 送信失敗は呼び出し元の業務処理を失敗させない（ログのみ）。
type Mailer struct {
	cfg db.SMTPConfig
	log *zap.Logger
}

func New(cfg db.SMTPConfig, log *zap.Logger) *Mailer {
	m := &Mailer{cfg: cfg, log: log}
	if !m.Configured() {
		log.Warn("SMTP未設定のためメールは送信されません")
	}
	return m
}

func (m *Mailer) Configured() bool {
	return m.cfg.Host != "" && m.cfg.Username != "" && m.cfg.Password != "" && m.cfg.FromEmail != ""
}

func (m *Mailer) newClient() (*gomail.Client, error) {
	tlsPolicy := gomail.TLSOpportunistic
	if m.cfg.UseTLS {
		tlsPolicy = gomail.TLSMandatory
	}
	return gomail.NewClient(m.cfg.Host,
		gomail.WithPort(m.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.cfg.Username),
		gomail.WithPassword(m.cfg.Password),
		gomail.WithTLSPolicy(tlsPolicy),
		gomail.WithTimeout(10*time.Second),
	)
}

// Send は1通のテキストメールを送る。
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if !m.Configured() {
		m.log.Warn("SMTP未設定のため送信スキップ", zap.String("to", to), zap.String("subject", subject))
		return fmt.Errorf("smtp not configured")
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient address")
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.FromEmail); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := m.newClient()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.log.Error("メール送信失敗", zap.String("to", to), zap.Error(err))
		return err
	}
	return nil
}

// SendToAdmins は設定済みの管理者アドレス全員に同じ本文を送る。
// 1通でも失敗すればエラーを返すが、残りの宛先への送信は続行する。
func (m *Mailer) SendToAdmins(ctx context.Context, subject, body string) error {
	var lastErr error
	sent := 0
	for _, addr := range m.cfg.AdminEmails {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		if err := m.Send(ctx, addr, subject, body); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if len(m.cfg.AdminEmails) == 0 {
		return fmt.Errorf("no admin emails configured")
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}
