// Package store persists accounts and invoices.
//
// Every mutation runs Validate on the record before it is written. Update style
// methods hand the caller a locked copy of the row so read-modify-write is
// atomic per record.
package store

import (
	"context"
	"errors"
	"time"

	"invoicehub/internal/model"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate record")
)

// AccountStore persists accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	AccountByID(ctx context.Context, id uint) (*model.Account, error)
	AccountByEmail(ctx context.Context, email string) (*model.Account, error)
	AccountByHandle(ctx context.Context, handle string) (*model.Account, error)
	AccountByResetTokenHash(ctx context.Context, hash string) (*model.Account, error)
	// UpdateAccount locks the account, applies fn and saves the result.
	// Nothing is written when fn returns an error.
	UpdateAccount(ctx context.Context, id uint, fn func(a *model.Account) error) (*model.Account, error)
	DeleteAccount(ctx context.Context, id uint) error
}

// InvoiceFilter narrows ListInvoices. A zero OwnerID lists every owner.
type InvoiceFilter struct {
	OwnerID uint
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	InvoiceByID(ctx context.Context, id uint) (*model.Invoice, error)
	InvoiceByOwnerEmail(ctx context.Context, ownerID uint, email string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]model.Invoice, error)
	// UpdateInvoice locks the invoice, applies fn and saves the result.
	UpdateInvoice(ctx context.Context, id uint, fn func(inv *model.Invoice) error) (*model.Invoice, error)
	// DeleteInvoice locks the invoice, calls check and deletes it when check returns nil.
	DeleteInvoice(ctx context.Context, id uint, check func(inv *model.Invoice) error) (*model.Invoice, error)
	// MarkOverdue moves pending invoices due at or before now to overdue.
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}
