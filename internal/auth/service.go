// Package auth implements the credential lifecycle: signup with emailed OTP
// verification, login issuing bearer tokens and password reset.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"invoicehub/internal/apperr"
	"invoicehub/internal/config"
	"invoicehub/internal/model"
	"invoicehub/internal/pkg/metrics"
	"invoicehub/internal/pkg/notify"
	"invoicehub/internal/store"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

// Options holds the credential settings resolved from configuration.
type Options struct {
	OTPTTL        time.Duration
	OTPResendWait time.Duration
	ResetTokenTTL time.Duration
	BcryptCost    int
	FrontendURL   string
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(sec *config.SecurityConfig, frontendURL string) Options {
	return Options{
		OTPTTL:        sec.OTPTTL,
		OTPResendWait: sec.OTPResendWait,
		ResetTokenTTL: sec.ResetTokenTTL,
		BcryptCost:    sec.BcryptCost,
		FrontendURL:   frontendURL,
	}
}

func (o *Options) applyDefaults() {
	if o.OTPTTL <= 0 {
		o.OTPTTL = 10 * time.Minute
	}
	if o.OTPResendWait <= 0 {
		o.OTPResendWait = time.Minute
	}
	if o.ResetTokenTTL <= 0 {
		o.ResetTokenTTL = time.Hour
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
}

// Cooldown throttles repeated reset requests for the same email.
type Cooldown interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Service owns accounts and their credentials.
type Service struct {
	accounts store.AccountStore
	tokens   *Issuer
	sender   notify.Sender
	cooldown Cooldown
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the credential service.
func NewService(accounts store.AccountStore, tokens *Issuer, sender notify.Sender, opts Options, logger *slog.Logger) *Service {
	opts.applyDefaults()
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		sender:   sender,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// SetResetCooldown enables per-email throttling of reset requests.
func (s *Service) SetResetCooldown(c Cooldown) {
	s.cooldown = c
}

// RegisterInput is a signup request. Handle is required for role user.
type RegisterInput struct {
	Handle   string
	Email    string
	Password string
	Role     string
}

// Receipt acknowledges a signup that awaits OTP verification.
type Receipt struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	Handle  string `json:"user_id,omitempty"`
}

// AccountSummary is the public view of an account.
type AccountSummary struct {
	ID         uint   `json:"id"`
	Handle     string `json:"user_id,omitempty"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	IsVerified bool   `json:"is_verified"`
}

// Summarize returns the public view of a.
func Summarize(a *model.Account) AccountSummary {
	return AccountSummary{
		ID:         a.ID,
		Handle:     a.HandleValue(),
		Email:      a.Email,
		Role:       a.Role,
		IsVerified: a.IsVerified,
	}
}

// Session is returned after a successful OTP verification or login.
type Session struct {
	Token   string         `json:"token"`
	Account AccountSummary `json:"user"`
}

// Register creates an unverified account and emails it a fresh OTP. When the
// email cannot be delivered the account is removed again.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *Receipt, err error) {
	defer func() { metrics.AuthEventsTotal.WithLabelValues("signup", metrics.Result(err)).Inc() }()

	email := model.NormalizeEmail(in.Email)
	handle := strings.TrimSpace(in.Handle)
	if !model.ValidRole(in.Role) {
		return nil, apperr.New(apperr.ErrInvalidInput, "Invalid role specified")
	}
	if in.Role == model.RoleUser && handle == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "User ID is required for user role")
	}
	if !model.ValidEmail(email) {
		return nil, apperr.New(apperr.ErrInvalidInput, "Please provide a valid email address")
	}
	if len(in.Password) < minPasswordLen {
		return nil, apperr.New(apperr.ErrInvalidInput, "Password must be at least 6 characters")
	}

	if _, err := s.accounts.AccountByEmail(ctx, email); err == nil {
		return nil, apperr.New(apperr.ErrDuplicateAccount, "User already exists with this email")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if in.Role == model.RoleUser {
		if _, err := s.accounts.AccountByHandle(ctx, handle); err == nil {
			return nil, apperr.New(apperr.ErrDuplicateAccount, "User ID already taken")
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup user id: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := GenerateOTP()
	if err != nil {
		return nil, err
	}

	now := s.now()
	acc := &model.Account{
		Email:        email,
		PasswordHash: string(hash),
		Role:         in.Role,
	}
	if in.Role == model.RoleUser {
		acc.Handle = &handle
	}
	acc.SetOTP(code, now.Add(s.opts.OTPTTL), now)

	if err := s.accounts.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.New(apperr.ErrDuplicateAccount, "User already exists with this email or user ID")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	if err := s.sender.Send(ctx, notify.VerificationMessage(email, code, s.opts.OTPTTL)); err != nil {
		s.logger.Warn("send verification email failed", slog.String("email", email), slog.String("error", err.Error()))
		if derr := s.accounts.DeleteAccount(context.WithoutCancel(ctx), acc.ID); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			s.logger.Error("remove undelivered account failed", slog.String("email", email), slog.String("error", derr.Error()))
		}
		return nil, apperr.New(apperr.ErrDeliveryFailure, "Failed to send OTP email")
	}

	s.logger.Info("account registered", slog.String("email", email), slog.String("role", in.Role))
	return &Receipt{Message: "OTP sent to your email", Email: email, Handle: acc.HandleValue()}, nil
}

var errInvalidOTP = apperr.New(apperr.ErrInvalidOrExpiredOtp, "Invalid or expired OTP")

// VerifyOTP marks the account verified when code matches its unexpired OTP and
// returns the first session. The OTP is cleared in the same locked update.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (_ *Session, err error) {
	defer func() { metrics.AuthEventsTotal.WithLabelValues("verify_otp", metrics.Result(err)).Inc() }()

	acc, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errInvalidOTP
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now()
	code = strings.TrimSpace(code)
	verified, err := s.accounts.UpdateAccount(ctx, acc.ID, func(a *model.Account) error {
		if !otpMatches(a, code, now) {
			return errInvalidOTP
		}
		a.IsVerified = true
		a.ClearOTP()
		a.OTPSentAt = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidOrExpiredOtp) {
			return nil, err
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, errInvalidOTP
		}
		return nil, fmt.Errorf("verify account: %w", err)
	}

	token, err := s.tokens.Issue(verified)
	if err != nil {
		return nil, err
	}
	s.logger.Info("email verified", slog.String("email", verified.Email))
	return &Session{Token: token, Account: Summarize(verified)}, nil
}

// ResendOTP starts a new OTP cycle for an unverified account, at most once per
// resend window.
func (s *Service) ResendOTP(ctx context.Context, email string) (err error) {
	defer func() { metrics.AuthEventsTotal.WithLabelValues("resend_otp", metrics.Result(err)).Inc() }()

	acc, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.ErrNotFound, "Email not found")
	}
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}

	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	now := s.now()
	updated, err := s.accounts.UpdateAccount(ctx, acc.ID, func(a *model.Account) error {
		if a.IsVerified {
			return apperr.New(apperr.ErrInvalidInput, "Account already verified")
		}
		if a.OTPSentAt != nil {
			if elapsed := now.Sub(*a.OTPSentAt); elapsed < s.opts.OTPResendWait {
				return apperr.Throttled("Too many requests", s.opts.OTPResendWait-elapsed)
			}
		}
		a.SetOTP(code, now.Add(s.opts.OTPTTL), now)
		return nil
	})
	if err != nil {
		if apperr.Kind(err) != nil {
			return err
		}
		return fmt.Errorf("store otp: %w", err)
	}

	if err := s.sender.Send(ctx, notify.VerificationMessage(updated.Email, code, s.opts.OTPTTL)); err != nil {
		s.logger.Warn("resend verification email failed", slog.String("email", updated.Email), slog.String("error", err.Error()))
		// Let the caller retry right away.
		if _, uerr := s.accounts.UpdateAccount(context.WithoutCancel(ctx), updated.ID, func(a *model.Account) error {
			a.OTPSentAt = nil
			return nil
		}); uerr != nil {
			s.logger.Warn("clear otp resend time failed", slog.String("email", updated.Email), slog.String("error", uerr.Error()))
		}
		return apperr.New(apperr.ErrDeliveryFailure, "Failed to send OTP email")
	}
	s.logger.Info("verification code resent", slog.String("email", updated.Email))
	return nil
}

var errInvalidCredentials = apperr.New(apperr.ErrUnauthenticated, "Invalid credentials")

// Login checks email and password and issues a session for verified accounts.
func (s *Service) Login(ctx context.Context, email, password string) (_ *Session, err error) {
	defer func() { metrics.AuthEventsTotal.WithLabelValues("login", metrics.Result(err)).Inc() }()

	acc, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	if !acc.IsVerified {
		return nil, apperr.New(apperr.ErrNotVerified, "Please verify your email first")
	}

	token, err := s.tokens.Issue(acc)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", slog.String("email", acc.Email), slog.String("role", acc.Role))
	return &Session{Token: token, Account: Summarize(acc)}, nil
}

// CheckHandleAvailability reports whether handle is still free. The answer is
// advisory; Register remains the authority.
func (s *Service) CheckHandleAvailability(ctx context.Context, handle string) (bool, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return false, apperr.New(apperr.ErrInvalidInput, "User ID is required")
	}
	_, err := s.accounts.AccountByHandle(ctx, handle)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user id: %w", err)
	}
	return false, nil
}

// Me returns the account behind verified claims.
func (s *Service) Me(ctx context.Context, claims *Claims) (*AccountSummary, error) {
	acc, err := s.accounts.AccountByID(ctx, claims.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	summary := Summarize(acc)
	return &summary, nil
}
