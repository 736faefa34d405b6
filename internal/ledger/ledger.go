// Package ledger records invoices and applies partial payments to them.
//
// Amounts are integers in the smallest currency unit. Every mutation goes
// through the store's locked update so read-modify-write is atomic per
// invoice, and model.Invoice.Validate runs before each write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"invoicehub/internal/apperr"
	"invoicehub/internal/model"
	"invoicehub/internal/pkg/metrics"
	"invoicehub/internal/pkg/notify"
	"invoicehub/internal/pkg/queue"
	"invoicehub/internal/store"
)

// Caller is the verified identity an operation runs on behalf of.
type Caller struct {
	AccountID uint
	Role      string
}

func (c Caller) isAdmin() bool { return c.Role == model.RoleAdmin }

func (c Caller) canAccess(inv *model.Invoice) bool {
	return c.isAdmin() || inv.OwnerID == c.AccountID
}

// Contact identifies the invoiced customer.
type Contact struct {
	Name        string
	Mobile      string
	Email       string
	CompanyName string
}

// Attachment references an already stored invoice document.
type Attachment struct {
	Ref         string
	ContentType string
}

// CreateInput describes a new invoice.
type CreateInput struct {
	Contact
	AmountPaid    int64
	PendingAmount int64
	Status        string
	DueAt         *time.Time
	File          Attachment
}

// Enqueuer accepts fire-and-forget jobs.
type Enqueuer interface {
	Enqueue(job queue.Job) bool
}

// AttachmentRemover deletes stored attachments.
type AttachmentRemover interface {
	Delete(ctx context.Context, ref string) error
}

// Ledger implements the invoice operations.
type Ledger struct {
	invoices store.InvoiceStore
	jobs     Enqueuer
	sender   notify.Sender
	files    AttachmentRemover
	logger   *slog.Logger
	now      func() time.Time
}

func New(invoices store.InvoiceStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		invoices: invoices,
		logger:   logger,
		now:      time.Now,
	}
}

// WithReceipts makes the ledger queue a receipt email whenever an invoice is settled.
func (l *Ledger) WithReceipts(jobs Enqueuer, sender notify.Sender) *Ledger {
	l.jobs = jobs
	l.sender = sender
	return l
}

// WithAttachments makes Delete remove the invoice document as well.
func (l *Ledger) WithAttachments(files AttachmentRemover) *Ledger {
	l.files = files
	return l
}

var (
	errInvoiceNotFound = apperr.New(apperr.ErrNotFound, "Invoice not found")
	errForbidden       = apperr.New(apperr.ErrForbidden, "Not authorized to access this invoice")
	errNotPayable      = apperr.New(apperr.ErrInvalidStatus, "Only pending invoices can be paid")
	errPendingDelete   = apperr.New(apperr.ErrInvalidStatus, "Pending invoices cannot be deleted")
	errBadPayment      = apperr.New(apperr.ErrInvalidAmount, "Payment amount must be greater than zero")
)

// Create records a new invoice for ownerID. For status pending the total is
// paid + pending; for status paid the total equals the paid amount.
func (l *Ledger) Create(ctx context.Context, ownerID uint, in CreateInput) (_ *model.Invoice, err error) {
	defer func() { metrics.InvoiceOpsTotal.WithLabelValues("create", metrics.Result(err)).Inc() }()

	if strings.TrimSpace(in.File.Ref) == "" {
		return nil, apperr.New(apperr.ErrMissingAttachment, "No file uploaded")
	}
	if !model.AllowedFileTypes[in.File.ContentType] {
		return nil, apperr.New(apperr.ErrInvalidInput, "Invalid file type. Only PDF, JPEG, and PNG are allowed.")
	}
	c := Contact{
		Name:        strings.TrimSpace(in.Name),
		Mobile:      strings.TrimSpace(in.Mobile),
		Email:       model.NormalizeEmail(in.Email),
		CompanyName: strings.TrimSpace(in.CompanyName),
	}
	if c.Name == "" || c.Mobile == "" || c.Email == "" || c.CompanyName == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "Name, mobile, email and company name are required")
	}
	if !model.ValidEmail(c.Email) {
		return nil, apperr.New(apperr.ErrInvalidInput, "Please provide a valid email address")
	}
	if in.AmountPaid < 0 || in.PendingAmount < 0 {
		return nil, apperr.New(apperr.ErrInvalidAmount, "Amounts must not be negative")
	}

	now := l.now()
	inv := &model.Invoice{
		OwnerID:     ownerID,
		Name:        c.Name,
		Mobile:      c.Mobile,
		Email:       c.Email,
		CompanyName: c.CompanyName,
		AmountPaid:  in.AmountPaid,
		Status:      in.Status,
		FileRef:     in.File.Ref,
		FileType:    in.File.ContentType,
		DueAt:       in.DueAt,
	}
	switch in.Status {
	case model.StatusPending:
		if in.PendingAmount > math.MaxInt64-in.AmountPaid {
			return nil, apperr.New(apperr.ErrInvalidAmount, "Amount is too large")
		}
		inv.PendingAmount = in.PendingAmount
		inv.TotalAmount = in.AmountPaid + in.PendingAmount
	case model.StatusPaid:
		inv.PendingAmount = 0
		inv.TotalAmount = in.AmountPaid
		inv.PaidAt = &now
	default:
		return nil, apperr.New(apperr.ErrInvalidStatus, "Status must be either paid or pending")
	}

	if err := l.invoices.CreateInvoice(ctx, inv); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.New(apperr.ErrDuplicateInvoice, "An invoice for this email already exists")
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	l.logger.Info("invoice created",
		slog.Uint64("invoice_id", uint64(inv.ID)),
		slog.Uint64("owner_id", uint64(ownerID)),
		slog.String("status", inv.Status))
	return inv, nil
}

// Pay applies amount to the caller's invoice for the given customer email.
func (l *Ledger) Pay(ctx context.Context, caller Caller, email string, amount int64) (_ *model.Invoice, err error) {
	defer func() { metrics.InvoiceOpsTotal.WithLabelValues("pay", metrics.Result(err)).Inc() }()

	if amount <= 0 {
		return nil, errBadPayment
	}
	inv, err := l.invoices.InvoiceByOwnerEmail(ctx, caller.AccountID, email)
	if err != nil {
		return nil, l.lookupErr(err)
	}
	return l.applyPayment(ctx, caller, inv.ID, amount)
}

// PayByID applies amount to invoice id. Only the owner or an admin may pay.
func (l *Ledger) PayByID(ctx context.Context, caller Caller, id uint, amount int64) (_ *model.Invoice, err error) {
	defer func() { metrics.InvoiceOpsTotal.WithLabelValues("pay", metrics.Result(err)).Inc() }()

	if amount <= 0 {
		return nil, errBadPayment
	}
	return l.applyPayment(ctx, caller, id, amount)
}

// applyPayment adds amount under the row lock. Cumulative payments at or
// above the total settle the invoice; the excess is not recorded.
func (l *Ledger) applyPayment(ctx context.Context, caller Caller, id uint, amount int64) (*model.Invoice, error) {
	now := l.now()
	settled := false
	updated, err := l.invoices.UpdateInvoice(ctx, id, func(inv *model.Invoice) error {
		if !caller.canAccess(inv) {
			return errForbidden
		}
		if inv.Status != model.StatusPending {
			return errNotPayable
		}
		if amount >= inv.TotalAmount-inv.AmountPaid {
			inv.AmountPaid = inv.TotalAmount
			inv.PendingAmount = 0
			inv.Status = model.StatusPaid
			inv.PaidAt = &now
			settled = true
			return nil
		}
		inv.AmountPaid += amount
		inv.PendingAmount = inv.TotalAmount - inv.AmountPaid
		return nil
	})
	if err != nil {
		return nil, l.lookupErr(err)
	}

	l.logger.Info("payment applied",
		slog.Uint64("invoice_id", uint64(updated.ID)),
		slog.Int64("amount", amount),
		slog.String("status", updated.Status))
	if settled {
		l.queueReceipt(updated)
	}
	return updated, nil
}

func (l *Ledger) queueReceipt(inv *model.Invoice) {
	if l.jobs == nil || l.sender == nil {
		return
	}
	msg := notify.ReceiptMessage(inv)
	if !l.jobs.Enqueue(func(ctx context.Context) error {
		return l.sender.Send(ctx, msg)
	}) {
		l.logger.Warn("receipt not queued", slog.Uint64("invoice_id", uint64(inv.ID)))
	}
}

// Delete removes the caller's invoice for the given customer email.
func (l *Ledger) Delete(ctx context.Context, caller Caller, email string) (err error) {
	defer func() { metrics.InvoiceOpsTotal.WithLabelValues("delete", metrics.Result(err)).Inc() }()

	inv, err := l.invoices.InvoiceByOwnerEmail(ctx, caller.AccountID, email)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.ErrNotFound, "Invoice not found for this email")
	}
	if err != nil {
		return fmt.Errorf("lookup invoice: %w", err)
	}
	return l.remove(ctx, caller, inv.ID)
}

// DeleteByID removes invoice id. Pending invoices cannot be deleted.
func (l *Ledger) DeleteByID(ctx context.Context, caller Caller, id uint) (err error) {
	defer func() { metrics.InvoiceOpsTotal.WithLabelValues("delete", metrics.Result(err)).Inc() }()
	return l.remove(ctx, caller, id)
}

func (l *Ledger) remove(ctx context.Context, caller Caller, id uint) error {
	removed, err := l.invoices.DeleteInvoice(ctx, id, func(inv *model.Invoice) error {
		if !caller.canAccess(inv) {
			return errForbidden
		}
		if inv.Status == model.StatusPending {
			return errPendingDelete
		}
		return nil
	})
	if err != nil {
		return l.lookupErr(err)
	}

	if l.files != nil && removed.FileRef != "" {
		if err := l.files.Delete(ctx, removed.FileRef); err != nil {
			l.logger.Warn("remove attachment failed",
				slog.Uint64("invoice_id", uint64(removed.ID)),
				slog.String("error", err.Error()))
		}
	}
	l.logger.Info("invoice deleted", slog.Uint64("invoice_id", uint64(removed.ID)))
	return nil
}

// List returns every invoice for admins and the caller's own otherwise, newest first.
func (l *Ledger) List(ctx context.Context, caller Caller) ([]model.Invoice, error) {
	f := store.InvoiceFilter{OwnerID: caller.AccountID}
	if caller.isAdmin() {
		f = store.InvoiceFilter{}
	}
	out, err := l.invoices.ListInvoices(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return out, nil
}

// Get returns invoice id if the caller may see it.
func (l *Ledger) Get(ctx context.Context, caller Caller, id uint) (*model.Invoice, error) {
	inv, err := l.invoices.InvoiceByID(ctx, id)
	if err != nil {
		return nil, l.lookupErr(err)
	}
	if !caller.canAccess(inv) {
		return nil, errForbidden
	}
	return inv, nil
}

// Summary aggregates the invoices visible to a caller.
type Summary struct {
	Count         int   `json:"count"`
	Paid          int   `json:"paid"`
	Pending       int   `json:"pending"`
	Overdue       int   `json:"overdue"`
	AmountPaid    int64 `json:"amount_paid"`
	PendingAmount int64 `json:"pending_amount"`
	TotalAmount   int64 `json:"total_amount"`
}

func (l *Ledger) Summary(ctx context.Context, caller Caller) (*Summary, error) {
	invoices, err := l.List(ctx, caller)
	if err != nil {
		return nil, err
	}
	var s Summary
	for i := range invoices {
		inv := &invoices[i]
		s.Count++
		switch inv.Status {
		case model.StatusPaid:
			s.Paid++
		case model.StatusPending:
			s.Pending++
		case model.StatusOverdue:
			s.Overdue++
		}
		s.AmountPaid += inv.AmountPaid
		s.PendingAmount += inv.PendingAmount
		s.TotalAmount += inv.TotalAmount
	}
	return &s, nil
}

// MarkOverdue moves pending invoices whose due date has been reached to overdue.
func (l *Ledger) MarkOverdue(ctx context.Context) (int64, error) {
	n, err := l.invoices.MarkOverdue(ctx, l.now())
	metrics.InvoiceOpsTotal.WithLabelValues("mark_overdue", metrics.Result(err)).Inc()
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	if n > 0 {
		metrics.InvoicesMarkedOverdueTotal.Add(float64(n))
		l.logger.Info("invoices marked overdue", slog.Int64("count", n))
	}
	return n, nil
}

func (l *Ledger) lookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errInvoiceNotFound
	}
	if apperr.Kind(err) != nil {
		return err
	}
	return fmt.Errorf("invoice store: %w", err)
}
