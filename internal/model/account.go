package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// 账户角色。
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account 表示一个可登录的账户。
//
// OTP 与重置令牌都以 "值 + 过期时间" 成对出现，Validate 在每次持久化前检查这一约束。
// 重置令牌只保存 SHA-256 摘要，原始令牌仅出现在邮件链接中。
type Account struct {
	ID                  uint       `gorm:"primaryKey"`                             // 账户 ID
	Handle              *string    `gorm:"type:varchar(64);uniqueIndex"`           // 用户名（user 角色必填，唯一）
	Email               string     `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（小写，唯一）
	PasswordHash        string     `gorm:"not null"`                               // bcrypt 哈希
	Role                string     `gorm:"type:varchar(16);not null;default:user"` // 角色: user / admin
	IsVerified          bool       `gorm:"default:false"`                          // 邮箱是否已验证
	OTPCode             *string    `gorm:"type:varchar(16)"`                       // 一次性验证码
	OTPExpiresAt        *time.Time // 验证码过期时间
	OTPSentAt           *time.Time // 验证码发送时间（重发频控）
	ResetTokenHash      *string    `gorm:"type:char(64);index"` // 重置令牌摘要
	ResetTokenExpiresAt *time.Time // 重置令牌过期时间
	CreatedAt           time.Time  // 创建时间
	UpdatedAt           time.Time  // 更新时间
}

// ValidRole 判断角色是否合法。
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

// NormalizeEmail 统一邮箱格式，使查找大小写不敏感。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail 判断 email 是否为不带显示名的单个地址，且域名包含点号。
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// HandleValue 返回用户名，未设置时为空串。
func (a *Account) HandleValue() string {
	if a.Handle == nil {
		return ""
	}
	return *a.Handle
}

// Validate 检查账户不变量。
func (a *Account) Validate() error {
	if a.Email == "" {
		return fmt.Errorf("account: email is required")
	}
	if a.Email != NormalizeEmail(a.Email) {
		return fmt.Errorf("account: email must be normalized")
	}
	if !ValidEmail(a.Email) {
		return fmt.Errorf("account: invalid email %q", a.Email)
	}
	if a.PasswordHash == "" {
		return fmt.Errorf("account: password hash is required")
	}
	if !ValidRole(a.Role) {
		return fmt.Errorf("account: invalid role %q", a.Role)
	}
	if a.Role == RoleUser && a.HandleValue() == "" {
		return fmt.Errorf("account: user id is required for role user")
	}
	if (a.OTPCode == nil) != (a.OTPExpiresAt == nil) {
		return fmt.Errorf("account: otp and otp expiry must be set together")
	}
	if (a.ResetTokenHash == nil) != (a.ResetTokenExpiresAt == nil) {
		return fmt.Errorf("account: reset token and expiry must be set together")
	}
	return nil
}

// SetOTP 绑定新的验证码。
func (a *Account) SetOTP(code string, expiresAt, sentAt time.Time) {
	a.OTPCode = &code
	a.OTPExpiresAt = &expiresAt
	a.OTPSentAt = &sentAt
}

// ClearOTP 清除验证码。
func (a *Account) ClearOTP() {
	a.OTPCode = nil
	a.OTPExpiresAt = nil
}

// SetResetToken 绑定重置令牌摘要。
func (a *Account) SetResetToken(hash string, expiresAt time.Time) {
	a.ResetTokenHash = &hash
	a.ResetTokenExpiresAt = &expiresAt
}

// ClearResetToken 清除重置令牌。
func (a *Account) ClearResetToken() {
	a.ResetTokenHash = nil
	a.ResetTokenExpiresAt = nil
}

// Clone 返回深拷贝。
func (a *Account) Clone() *Account {
	c := *a
	c.Handle = clonePtr(a.Handle)
	c.OTPCode = clonePtr(a.OTPCode)
	c.OTPExpiresAt = clonePtr(a.OTPExpiresAt)
	c.OTPSentAt = clonePtr(a.OTPSentAt)
	c.ResetTokenHash = clonePtr(a.ResetTokenHash)
	c.ResetTokenExpiresAt = clonePtr(a.ResetTokenExpiresAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
