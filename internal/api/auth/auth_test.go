package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"invoicehub/internal/api/middleware"
	authsvc "invoicehub/internal/auth"
	"invoicehub/internal/pkg/notify"
	"invoicehub/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type captureSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (s *captureSender) Send(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) lastMatch(t *testing.T, re *regexp.Regexp) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatalf("no message sent")
	}
	m := re.FindStringSubmatch(s.sent[len(s.sent)-1].HTML)
	if m == nil {
		t.Fatalf("pattern %s not found in last message", re)
	}
	return m[1]
}

var (
	otpPattern   = regexp.MustCompile(`>(\d{6})<`)
	resetPattern = regexp.MustCompile(`reset-password/([0-9a-f]{64})`)
)

func newTestRouter(t *testing.T) (*gin.Engine, *captureSender) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemoryStore()
	issuer := authsvc.NewIssuer("test-secret", time.Hour, st)
	sender := &captureSender{}
	svc := authsvc.NewService(st, issuer, sender, authsvc.Options{
		BcryptCost:  bcrypt.MinCost,
		FrontendURL: "http://app.test",
	}, logger)
	h := NewHandler(svc, logger)

	r := gin.New()
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/verify-otp", h.VerifyOTP)
	r.POST("/auth/resend-otp", h.ResendOTP)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/validate", middleware.Authenticate(issuer, logger), h.Validate)
	r.GET("/auth/check-userid/:userId", h.CheckUserID)
	r.POST("/auth/forgot-password", h.ForgotPassword)
	r.GET("/auth/validate-reset-token/:token", h.ValidateResetToken)
	r.POST("/auth/reset-password/:token", h.ResetPassword)
	return r, sender
}

func do(r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func signupAndVerify(t *testing.T, r http.Handler, sender *captureSender, email, handle string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/auth/signup", gin.H{"user_id": handle, "email": email, "password": "secret1", "role": "user"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	code := sender.lastMatch(t, otpPattern)

	w = do(r, http.MethodPost, "/auth/verify-otp", gin.H{"email": email, "otp": code}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("verify: missing token")
	}
	return token
}

func TestSignupVerifyLoginValidate(t *testing.T) {
	r, sender := newTestRouter(t)
	signupAndVerify(t, r, sender, "bob@example.com", "bob")

	w := do(r, http.MethodPost, "/auth/login", gin.H{"email": "BOB@example.com", "password": "secret1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	token, _ := decode(t, w)["token"].(string)

	w = do(r, http.MethodGet, "/auth/validate", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", w.Code)
	}
	user, _ := decode(t, w)["user"].(map[string]any)
	if user["user_id"] != "bob" || user["role"] != "user" || user["is_verified"] != true {
		t.Fatalf("unexpected user %v", user)
	}

	if w := do(r, http.MethodGet, "/auth/validate", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("validate without token: expected 401, got %d", w.Code)
	}
}

func TestSignup_Errors(t *testing.T) {
	r, sender := newTestRouter(t)
	signupAndVerify(t, r, sender, "bob@example.com", "bob")

	cases := []struct {
		name   string
		body   any
		status int
		msg    string
	}{
		{"bad role", gin.H{"email": "x@example.com", "password": "secret1", "role": "root"}, http.StatusBadRequest, "Invalid role specified"},
		{"missing handle", gin.H{"email": "x@example.com", "password": "secret1", "role": "user"}, http.StatusBadRequest, "User ID is required for user role"},
		{"short password", gin.H{"user_id": "x", "email": "x@example.com", "password": "abc", "role": "user"}, http.StatusBadRequest, "Password must be at least 6 characters"},
		{"duplicate email", gin.H{"user_id": "x", "email": "bob@example.com", "password": "secret1", "role": "user"}, http.StatusConflict, "User already exists with this email"},
		{"duplicate handle", gin.H{"user_id": "bob", "email": "x@example.com", "password": "secret1", "role": "user"}, http.StatusConflict, "User ID already taken"},
		{"malformed email", gin.H{"user_id": "x", "email": "not-an-email", "password": "secret1", "role": "user"}, http.StatusBadRequest, "Please provide a valid email address"},
		{"missing fields", gin.H{"email": "x@example.com"}, http.StatusBadRequest, "Please provide all required fields"},
	}
	for _, tc := range cases {
		w := do(r, http.MethodPost, "/auth/signup", tc.body, "")
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, w.Code)
		}
		if got := decode(t, w)["error"]; got != tc.msg {
			t.Fatalf("%s: unexpected error %v", tc.name, got)
		}
	}
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodPost, "/auth/signup", gin.H{"email": "ann@example.com", "password": "secret1", "role": "admin"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d", w.Code)
	}
	w = do(r, http.MethodPost, "/auth/verify-otp", gin.H{"email": "ann@example.com", "otp": "abcdef"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decode(t, w)["error"]; got != "Invalid or expired OTP" {
		t.Fatalf("unexpected error %v", got)
	}

	w = do(r, http.MethodPost, "/auth/login", gin.H{"email": "ann@example.com", "password": "secret1"}, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("login unverified: expected 403, got %d", w.Code)
	}
}

func TestResendOTP_Throttled(t *testing.T) {
	r, _ := newTestRouter(t)
	do(r, http.MethodPost, "/auth/signup", gin.H{"email": "ann@example.com", "password": "secret1", "role": "admin"}, "")

	w := do(r, http.MethodPost, "/auth/resend-otp", gin.H{"email": "ann@example.com"}, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}

	w = do(r, http.MethodPost, "/auth/resend-otp", gin.H{"email": "ghost@example.com"}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown email: expected 404, got %d", w.Code)
	}
}

func TestCheckUserID(t *testing.T) {
	r, sender := newTestRouter(t)
	signupAndVerify(t, r, sender, "bob@example.com", "bob")

	if got := decode(t, do(r, http.MethodGet, "/auth/check-userid/bob", nil, ""))["exists"]; got != true {
		t.Fatalf("expected bob to exist, got %v", got)
	}
	if got := decode(t, do(r, http.MethodGet, "/auth/check-userid/alice", nil, ""))["exists"]; got != false {
		t.Fatalf("expected alice to be free, got %v", got)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	r, sender := newTestRouter(t)
	signupAndVerify(t, r, sender, "bob@example.com", "bob")

	w := do(r, http.MethodPost, "/auth/forgot-password", gin.H{"email": "ghost@example.com"}, "")
	if w.Code != http.StatusOK || decode(t, w)["message"] != authsvc.ResetRequestedMessage {
		t.Fatalf("ghost email: unexpected response %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/auth/forgot-password", gin.H{"email": "bob@example.com"}, "")
	if w.Code != http.StatusOK || decode(t, w)["message"] != authsvc.ResetRequestedMessage {
		t.Fatalf("forgot: unexpected response %d %s", w.Code, w.Body.String())
	}
	token := sender.lastMatch(t, resetPattern)

	for i := 0; i < 2; i++ {
		w = do(r, http.MethodGet, "/auth/validate-reset-token/"+token, nil, "")
		if w.Code != http.StatusOK || decode(t, w)["valid"] != true {
			t.Fatalf("validate #%d: unexpected response %d %s", i, w.Code, w.Body.String())
		}
	}

	w = do(r, http.MethodPost, "/auth/reset-password/"+token, gin.H{"password": "newpass1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/auth/validate-reset-token/"+token, nil, "")
	if w.Code != http.StatusBadRequest || decode(t, w)["valid"] != false {
		t.Fatalf("consumed token must be invalid, got %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodPost, "/auth/reset-password/"+token, gin.H{"password": "another1"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reuse: expected 400, got %d", w.Code)
	}

	if w := do(r, http.MethodPost, "/auth/login", gin.H{"email": "bob@example.com", "password": "secret1"}, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("old password: expected 401, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/auth/login", gin.H{"email": "bob@example.com", "password": "newpass1"}, ""); w.Code != http.StatusOK {
		t.Fatalf("new password: expected 200, got %d", w.Code)
	}
}
