package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"invoicehub/internal/model"
)

var otpSpace = big.NewInt(1_000_000)

// GenerateOTP returns a uniformly random six digit code, zero padded.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// otpMatches reports whether code equals the account's current OTP and now is
// strictly before its expiry.
func otpMatches(a *model.Account, code string, now time.Time) bool {
	if a.OTPCode == nil || a.OTPExpiresAt == nil {
		return false
	}
	if !now.Before(*a.OTPExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*a.OTPCode), []byte(code)) == 1
}
