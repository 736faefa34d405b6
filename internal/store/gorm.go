package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoicehub/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// GormStore implements AccountStore and InvoiceStore on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenMySQL connects to MySQL and migrates the schema.
func OpenMySQL(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&model.Account{}, &model.Invoice{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return NewGormStore(db), nil
}

// NewGormStore wraps an existing connection without migrating.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

func (s *GormStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Create(a).Error)
}

func (s *GormStore) AccountByID(ctx context.Context, id uint) (*model.Account, error) {
	return s.firstAccount(ctx, "id = ?", id)
}

func (s *GormStore) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.firstAccount(ctx, "email = ?", model.NormalizeEmail(email))
}

func (s *GormStore) AccountByHandle(ctx context.Context, handle string) (*model.Account, error) {
	return s.firstAccount(ctx, "handle = ?", handle)
}

func (s *GormStore) AccountByResetTokenHash(ctx context.Context, hash string) (*model.Account, error) {
	return s.firstAccount(ctx, "reset_token_hash = ?", hash)
}

func (s *GormStore) firstAccount(ctx context.Context, query string, arg any) (*model.Account, error) {
	var a model.Account
	if err := s.db.WithContext(ctx).Where(query, arg).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (s *GormStore) UpdateAccount(ctx context.Context, id uint, fn func(a *model.Account) error) (*model.Account, error) {
	var out model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&out).Error; err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		if err := out.Validate(); err != nil {
			return err
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) DeleteAccount(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Account{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Create(inv).Error)
}

func (s *GormStore) InvoiceByID(ctx context.Context, id uint) (*model.Invoice, error) {
	var inv model.Invoice
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (s *GormStore) InvoiceByOwnerEmail(ctx context.Context, ownerID uint, email string) (*model.Invoice, error) {
	var inv model.Invoice
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND email = ?", ownerID, model.NormalizeEmail(email)).
		First(&inv).Error
	if err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (s *GormStore) ListInvoices(ctx context.Context, f InvoiceFilter) ([]model.Invoice, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if f.OwnerID != 0 {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	var out []model.Invoice
	if err := q.Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *GormStore) UpdateInvoice(ctx context.Context, id uint, fn func(inv *model.Invoice) error) (*model.Invoice, error) {
	var out model.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&out).Error; err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		if err := out.Validate(); err != nil {
			return err
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) DeleteInvoice(ctx context.Context, id uint, check func(inv *model.Invoice) error) (*model.Invoice, error) {
	var out model.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&out).Error; err != nil {
			return err
		}
		if err := check(&out); err != nil {
			return err
		}
		return tx.Delete(&model.Invoice{}, out.ID).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (s *GormStore) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Invoice{}).
		Where("status = ? AND due_at IS NOT NULL AND due_at <= ?", model.StatusPending, now).
		Update("status", model.StatusOverdue)
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return res.RowsAffected, nil
}
