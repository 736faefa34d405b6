package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"invoicehub/internal/config"
	"invoicehub/internal/model"
	"invoicehub/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// 邮件类别。
const (
	KindVerification = "verification"
	KindReset        = "reset"
	KindReceipt      = "receipt"
)

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Configured 判断 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n.cfg != nil && n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// Send 发送一封邮件。配置缺失或收件人为空时返回错误。
func (n *EmailNotifier) Send(ctx context.Context, msg Message) (err error) {
	defer func() {
		metrics.EmailsTotal.WithLabelValues(kindLabel(msg.Kind), metrics.Result(err)).Inc()
	}()

	if !n.Configured() {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	if n.cfg.FromName != "" {
		m.SetAddressHeader("From", n.cfg.FromEmail, n.cfg.FromName)
	} else {
		m.SetHeader("From", n.cfg.FromEmail)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email sent", slog.String("to", msg.To), slog.String("kind", kindLabel(msg.Kind)))
	return nil
}

func kindLabel(kind string) string {
	if kind == "" {
		return "other"
	}
	return kind
}

// VerificationMessage 构造注册验证码邮件。
func VerificationMessage(to, code string, ttl time.Duration) Message {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Verify your InvoiceHub account</h2>
    <p>Your verification code is:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>The code expires in %s.</p>
  </div>
</body>
</html>`, html.EscapeString(code), humanDuration(ttl))
	return Message{To: to, Subject: "[InvoiceHub] Your verification code", HTML: body, Kind: KindVerification}
}

// ResetMessage 构造重置密码邮件，link 中包含原始令牌。
func ResetMessage(to, link string, ttl time.Duration) Message {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Reset your password</h2>
    <p>We received a request to reset the password for your account.</p>
    <p><a href="%s" style="display: inline-block; padding: 12px 20px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 8px;">Reset password</a></p>
    <p>The link expires in %s. If you did not request a reset, ignore this email.</p>
  </div>
</body>
</html>`, html.EscapeString(link), humanDuration(ttl))
	return Message{To: to, Subject: "[InvoiceHub] Password reset", HTML: body, Kind: KindReset}
}

// ReceiptMessage 构造发票结清回执，发送给发票上的客户邮箱。
func ReceiptMessage(inv *model.Invoice) Message {
	paidAt := ""
	if inv.PaidAt != nil {
		paidAt = inv.PaidAt.UTC().Format("2006-01-02 15:04 MST")
	}
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; padding: 20px;">
    <h2>Payment received</h2>
    <p>Hello %s,</p>
    <p>Invoice #%d for %s has been paid in full.</p>
    <div style="font-size: 26px; font-weight: bold; margin: 8px 0 12px;">%s</div>
    <p style="font-size: 12px; color: #6b7280;">Settled at %s</p>
  </div>
</body>
</html>`, html.EscapeString(inv.Name), inv.ID, html.EscapeString(inv.CompanyName), FormatAmount(inv.TotalAmount), paidAt)
	return Message{
		To:      inv.Email,
		Subject: fmt.Sprintf("[InvoiceHub] Receipt for invoice #%d", inv.ID),
		HTML:    body,
		Kind:    KindReceipt,
	}
}

// FormatAmount 将最小货币单位格式化为带千分位的两位小数，如 123456 -> "1,234.56"。
func FormatAmount(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%d", v/100)
	n := len(s)
	out := make([]byte, 0, n+n/3)
	for i, ch := range []byte(s) {
		out = append(out, ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, ',')
		}
	}
	return fmt.Sprintf("%s%s.%02d", sign, out, v%100)
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	default:
		return d.String()
	}
}
