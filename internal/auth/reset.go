package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"invoicehub/internal/apperr"
	"invoicehub/internal/model"
	"invoicehub/internal/pkg/metrics"
	"invoicehub/internal/pkg/notify"
	"invoicehub/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// ResetRequestedMessage is returned for every well formed reset request.
const ResetRequestedMessage = "If an account exists, a password reset email has been sent"

const (
	resetTokenBytes      = 32
	resetRollbackTries   = 3
	resetRollbackBackoff = 50 * time.Millisecond
)

var errInvalidResetToken = apperr.New(apperr.ErrInvalidOrExpiredToken, "Invalid or expired token. Please request a new password reset.")

func newResetToken() (raw, hash string, err error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, hashResetToken(raw), nil
}

// hashResetToken returns the digest persisted in place of raw.
func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func resetBindingValid(a *model.Account, hash string, now time.Time) bool {
	if a.ResetTokenHash == nil || a.ResetTokenExpiresAt == nil {
		return false
	}
	return *a.ResetTokenHash == hash && now.Before(*a.ResetTokenExpiresAt)
}

// RequestReset mints a reset token for email and mails a link carrying it.
// The same message is returned whether or not the account exists. If the
// link cannot be delivered the token is cleared before returning.
func (s *Service) RequestReset(ctx context.Context, email string) (_ string, err error) {
	defer func() { metrics.AuthEventsTotal.WithLabelValues("reset_request", metrics.Result(err)).Inc() }()

	email = model.NormalizeEmail(email)
	if !model.ValidEmail(email) {
		return "", apperr.New(apperr.ErrInvalidInput, "Please provide a valid email address")
	}

	acc, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("password reset requested for unknown email")
		return ResetRequestedMessage, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}

	if s.cooldown != nil {
		ok, cerr := s.cooldown.Acquire(ctx, email)
		if cerr != nil {
			s.logger.Warn("reset cooldown unavailable", slog.String("error", cerr.Error()))
		} else if !ok {
			s.logger.Info("password reset throttled", slog.String("email", email))
			return ResetRequestedMessage, nil
		}
	}

	raw, hash, err := newResetToken()
	if err != nil {
		return "", err
	}
	expiresAt := s.now().Add(s.opts.ResetTokenTTL)
	if _, err := s.accounts.UpdateAccount(ctx, acc.ID, func(a *model.Account) error {
		a.SetResetToken(hash, expiresAt)
		return nil
	}); err != nil {
		s.releaseCooldown(ctx, email)
		return "", fmt.Errorf("store reset token: %w", err)
	}

	link := strings.TrimRight(s.opts.FrontendURL, "/") + "/reset-password/" + raw
	if err := s.sender.Send(ctx, notify.ResetMessage(acc.Email, link, s.opts.ResetTokenTTL)); err != nil {
		s.logger.Warn("send reset email failed", slog.String("email", acc.Email), slog.String("error", err.Error()))
		s.rollbackReset(context.WithoutCancel(ctx), acc.ID, hash)
		s.releaseCooldown(ctx, email)
		return "", apperr.New(apperr.ErrDeliveryFailure, "Error processing password reset request")
	}

	s.logger.Info("password reset email sent", slog.String("email", acc.Email))
	return ResetRequestedMessage, nil
}

// releaseCooldown lets email request a new reset immediately.
func (s *Service) releaseCooldown(ctx context.Context, email string) {
	if s.cooldown == nil {
		return
	}
	if err := s.cooldown.Release(context.WithoutCancel(ctx), email); err != nil {
		s.logger.Warn("release reset cooldown failed", slog.String("email", email), slog.String("error", err.Error()))
	}
}

// rollbackReset clears the binding identified by hash, retrying on store errors.
func (s *Service) rollbackReset(ctx context.Context, id uint, hash string) {
	var err error
	for attempt := 0; attempt < resetRollbackTries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * resetRollbackBackoff)
		}
		_, err = s.accounts.UpdateAccount(ctx, id, func(a *model.Account) error {
			if a.ResetTokenHash != nil && *a.ResetTokenHash == hash {
				a.ClearResetToken()
			}
			return nil
		})
		if err == nil || errors.Is(err, store.ErrNotFound) {
			return
		}
	}
	s.logger.Error("reset token rollback failed", slog.Uint64("account_id", uint64(id)), slog.String("error", err.Error()))
}

// ValidateResetToken reports whether raw is bound to an account and unexpired.
// It never consumes the token.
func (s *Service) ValidateResetToken(ctx context.Context, raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	hash := hashResetToken(raw)
	acc, err := s.accounts.AccountByResetTokenHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup reset token: %w", err)
	}
	return resetBindingValid(acc, hash, s.now()), nil
}

// ConsumeReset replaces the password of the account bound to raw and clears
// the binding in the same locked update.
func (s *Service) ConsumeReset(ctx context.Context, raw, newPassword string) (err error) {
	defer func() { metrics.AuthEventsTotal.WithLabelValues("reset_consume", metrics.Result(err)).Inc() }()

	if len(newPassword) < minPasswordLen {
		return apperr.New(apperr.ErrInvalidInput, "Password must be at least 6 characters")
	}
	if raw == "" {
		return errInvalidResetToken
	}
	hash := hashResetToken(raw)
	acc, err := s.accounts.AccountByResetTokenHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return errInvalidResetToken
	}
	if err != nil {
		return fmt.Errorf("lookup reset token: %w", err)
	}

	pwHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if _, err := s.accounts.UpdateAccount(ctx, acc.ID, func(a *model.Account) error {
		if !resetBindingValid(a, hash, now) {
			return errInvalidResetToken
		}
		a.PasswordHash = string(pwHash)
		a.ClearResetToken()
		return nil
	}); err != nil {
		if errors.Is(err, apperr.ErrInvalidOrExpiredToken) || errors.Is(err, store.ErrNotFound) {
			return errInvalidResetToken
		}
		return fmt.Errorf("reset password: %w", err)
	}

	s.logger.Info("password reset", slog.String("email", acc.Email))
	return nil
}
