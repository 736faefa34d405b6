package model

import (
	"fmt"
	"time"
)

// 发票状态。
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusOverdue = "overdue"
)

// 允许的附件类型。
var AllowedFileTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// Invoice 表示一张发票。
//
// 金额均为最小货币单位的整数。状态非 paid 时 TotalAmount == AmountPaid + PendingAmount；
// 状态为 paid 时 PendingAmount == 0 且 AmountPaid == TotalAmount。
type Invoice struct {
	ID        uint      `gorm:"primaryKey"` // 发票 ID
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	OwnerID     uint   `gorm:"not null;uniqueIndex:idx_owner_email"`                   // 所属账户 ID
	Name        string `gorm:"not null"`                                               // 客户姓名
	Mobile      string `gorm:"not null"`                                               // 客户电话
	Email       string `gorm:"type:varchar(191);not null;uniqueIndex:idx_owner_email"` // 客户邮箱（同一账户下唯一）
	CompanyName string `gorm:"not null"`                                               // 公司名称

	AmountPaid    int64  `gorm:"not null"`                        // 已付金额
	PendingAmount int64  `gorm:"not null;default:0"`              // 待付金额
	TotalAmount   int64  `gorm:"not null"`                        // 总金额
	Status        string `gorm:"type:varchar(16);not null;index"` // 状态: pending / paid / overdue

	FileRef  string `gorm:"not null"`                  // 附件引用
	FileType string `gorm:"type:varchar(64);not null"` // 附件 MIME 类型

	DueAt  *time.Time `gorm:"index"` // 到期时间（为空表示不会逾期）
	PaidAt *time.Time // 结清时间
}

// Validate 检查发票不变量。
func (i *Invoice) Validate() error {
	if i.OwnerID == 0 {
		return fmt.Errorf("invoice: owner is required")
	}
	if i.AmountPaid < 0 || i.PendingAmount < 0 || i.TotalAmount < 0 {
		return fmt.Errorf("invoice: amounts must be non-negative")
	}
	switch i.Status {
	case StatusPaid:
		if i.PendingAmount != 0 || i.AmountPaid != i.TotalAmount {
			return fmt.Errorf("invoice: paid invoice must have no pending amount")
		}
	case StatusPending, StatusOverdue:
		if i.TotalAmount != i.AmountPaid+i.PendingAmount {
			return fmt.Errorf("invoice: total %d != paid %d + pending %d", i.TotalAmount, i.AmountPaid, i.PendingAmount)
		}
	default:
		return fmt.Errorf("invoice: invalid status %q", i.Status)
	}
	if i.FileRef == "" {
		return fmt.Errorf("invoice: attachment is required")
	}
	if !AllowedFileTypes[i.FileType] {
		return fmt.Errorf("invoice: unsupported file type %q", i.FileType)
	}
	return nil
}

// Clone 返回深拷贝。
func (i *Invoice) Clone() *Invoice {
	c := *i
	c.DueAt = clonePtr(i.DueAt)
	c.PaidAt = clonePtr(i.PaidAt)
	return &c
}
