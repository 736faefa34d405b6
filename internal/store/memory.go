package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"invoicehub/internal/model"
)

// MemoryStore is an in-process AccountStore and InvoiceStore used for local
// runs and tests. A single mutex serializes all mutations.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	nextAcc  uint
	nextInv  uint
	accounts map[uint]*model.Account
	invoices map[uint]*model.Invoice
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		accounts: make(map[uint]*model.Account),
		invoices: make(map[uint]*model.Invoice),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == a.Email {
			return ErrDuplicate
		}
		if a.Handle != nil && existing.Handle != nil && *existing.Handle == *a.Handle {
			return ErrDuplicate
		}
	}
	m.nextAcc++
	now := m.now()
	a.ID = m.nextAcc
	a.CreatedAt, a.UpdatedAt = now, now
	m.accounts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) AccountByID(ctx context.Context, id uint) (*model.Account, error) {
	return m.findAccount(func(a *model.Account) bool { return a.ID == id })
}

func (m *MemoryStore) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = model.NormalizeEmail(email)
	return m.findAccount(func(a *model.Account) bool { return a.Email == email })
}

func (m *MemoryStore) AccountByHandle(ctx context.Context, handle string) (*model.Account, error) {
	return m.findAccount(func(a *model.Account) bool { return a.Handle != nil && *a.Handle == handle })
}

func (m *MemoryStore) AccountByResetTokenHash(ctx context.Context, hash string) (*model.Account, error) {
	return m.findAccount(func(a *model.Account) bool { return a.ResetTokenHash != nil && *a.ResetTokenHash == hash })
}

func (m *MemoryStore) findAccount(match func(a *model.Account) bool) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateAccount(ctx context.Context, id uint, fn func(a *model.Account) error) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now()
	m.accounts[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) DeleteAccount(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *MemoryStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invoices {
		if existing.OwnerID == inv.OwnerID && existing.Email == inv.Email {
			return ErrDuplicate
		}
	}
	m.nextInv++
	now := m.now()
	inv.ID = m.nextInv
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	m.invoices[inv.ID] = inv.Clone()
	return nil
}

func (m *MemoryStore) InvoiceByID(ctx context.Context, id uint) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (m *MemoryStore) InvoiceByOwnerEmail(ctx context.Context, ownerID uint, email string) (*model.Invoice, error) {
	email = model.NormalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.OwnerID == ownerID && inv.Email == email {
			return inv.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListInvoices(ctx context.Context, f InvoiceFilter) ([]model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		if f.OwnerID != 0 && inv.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, *inv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateInvoice(ctx context.Context, id uint, fn func(inv *model.Invoice) error) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now()
	m.invoices[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) DeleteInvoice(ctx context.Context, id uint, check func(inv *model.Invoice) error) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := check(cur.Clone()); err != nil {
		return nil, err
	}
	delete(m.invoices, id)
	return cur.Clone(), nil
}

func (m *MemoryStore) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inv := range m.invoices {
		if inv.Status == model.StatusPending && inv.DueAt != nil && !inv.DueAt.After(now) {
			inv.Status = model.StatusOverdue
			inv.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}
