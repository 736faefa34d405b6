package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"invoicehub/internal/apperr"
	"invoicehub/internal/model"
	"invoicehub/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

// AccountLookup resolves a token subject to an account.
type AccountLookup interface {
	AccountByID(ctx context.Context, id uint) (*model.Account, error)
}

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	AccountID uint
	Handle    string
	Role      string
	ExpiresAt time.Time
}

type customClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
}

var errUnauthenticated = apperr.New(apperr.ErrUnauthenticated, "Unauthenticated")

// Issuer signs and verifies HS256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	lookup AccountLookup
	now    func() time.Time
}

// NewIssuer creates an issuer. A non-positive ttl falls back to 24h.
func NewIssuer(secret string, ttl time.Duration, lookup AccountLookup) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		lookup: lookup,
		now:    time.Now,
	}
}

// Issue signs a token for a.
func (i *Issuer) Issue(a *model.Account) (string, error) {
	now := i.now()
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(a.ID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: a.HandleValue(),
		Role:   a.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, algorithm and expiry, then checks that the
// subject account still exists.
func (i *Issuer) Validate(ctx context.Context, tokenStr string) (*Claims, error) {
	claims := &customClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, errUnauthenticated
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return nil, errUnauthenticated
	}
	if !model.ValidRole(claims.Role) {
		return nil, errUnauthenticated
	}

	if i.lookup != nil {
		if _, err := i.lookup.AccountByID(ctx, uint(id)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errUnauthenticated
			}
			return nil, fmt.Errorf("lookup token subject: %w", err)
		}
	}

	return &Claims{
		AccountID: uint(id),
		Handle:    claims.UserID,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
