package model

import (
	"testing"
	"time"
)

func validAccount() *Account {
	handle := "alice"
	return &Account{Handle: &handle, Email: "alice@example.com", PasswordHash: "hash", Role: RoleUser}
}

func TestAccountValidate(t *testing.T) {
	if err := validAccount().Validate(); err != nil {
		t.Fatalf("expected valid account: %v", err)
	}

	a := validAccount()
	a.Handle = nil
	if err := a.Validate(); err == nil {
		t.Fatalf("expected error for user without handle")
	}

	admin := &Account{Email: "root@example.com", PasswordHash: "hash", Role: RoleAdmin}
	if err := admin.Validate(); err != nil {
		t.Fatalf("admin without handle should be valid: %v", err)
	}

	a = validAccount()
	a.Email = "Alice@Example.com"
	if err := a.Validate(); err == nil {
		t.Fatalf("expected error for non-normalized email")
	}

	a = validAccount()
	a.Email = "alice@localhost"
	if err := a.Validate(); err == nil {
		t.Fatalf("expected error for malformed email")
	}

	a = validAccount()
	code := "123456"
	a.OTPCode = &code
	if err := a.Validate(); err == nil {
		t.Fatalf("expected error for otp without expiry")
	}

	a = validAccount()
	exp := time.Now()
	a.ResetTokenExpiresAt = &exp
	if err := a.Validate(); err == nil {
		t.Fatalf("expected error for reset expiry without token")
	}
}

func TestValidEmail(t *testing.T) {
	cases := map[string]bool{
		"alice@example.com":         true,
		"a.b+tag@mail.example.org":  true,
		"":                          false,
		"not-an-email":              false,
		"alice@localhost":           false,
		"alice@example.":            false,
		"alice@.com":                false,
		"alice @example.com":        false,
		"Alice <alice@example.com>": false,
		"a@b@example.com":           false,
	}
	for in, want := range cases {
		if got := ValidEmail(in); got != want {
			t.Fatalf("ValidEmail(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAccountOTPAndResetHelpers(t *testing.T) {
	a := validAccount()
	now := time.Now()
	a.SetOTP("000123", now.Add(10*time.Minute), now)
	a.SetResetToken("abc", now.Add(time.Hour))
	if err := a.Validate(); err != nil {
		t.Fatalf("paired fields should validate: %v", err)
	}

	c := a.Clone()
	*c.OTPCode = "999999"
	if *a.OTPCode != "000123" {
		t.Fatalf("clone must not share pointers")
	}

	a.ClearOTP()
	a.ClearResetToken()
	if a.OTPCode != nil || a.OTPExpiresAt != nil || a.ResetTokenHash != nil || a.ResetTokenExpiresAt != nil {
		t.Fatalf("expected cleared fields")
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("cleared account should validate: %v", err)
	}
}

func TestInvoiceValidate(t *testing.T) {
	base := Invoice{OwnerID: 1, FileRef: "f.pdf", FileType: "application/pdf"}

	pending := base
	pending.Status, pending.AmountPaid, pending.PendingAmount, pending.TotalAmount = StatusPending, 300, 200, 500
	if err := pending.Validate(); err != nil {
		t.Fatalf("expected valid pending invoice: %v", err)
	}

	drift := pending
	drift.PendingAmount = 150
	if err := drift.Validate(); err == nil {
		t.Fatalf("expected error when total != paid + pending")
	}

	paid := base
	paid.Status, paid.AmountPaid, paid.TotalAmount = StatusPaid, 500, 500
	if err := paid.Validate(); err != nil {
		t.Fatalf("expected valid paid invoice: %v", err)
	}
	paid.PendingAmount = 1
	if err := paid.Validate(); err == nil {
		t.Fatalf("expected error for paid invoice with pending amount")
	}

	neg := pending
	neg.AmountPaid, neg.TotalAmount = -1, 199
	if err := neg.Validate(); err == nil {
		t.Fatalf("expected error for negative amount")
	}

	noFile := pending
	noFile.FileRef = ""
	if err := noFile.Validate(); err == nil {
		t.Fatalf("expected error for missing attachment")
	}

	badType := pending
	badType.FileType = "text/plain"
	if err := badType.Validate(); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
