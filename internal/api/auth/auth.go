package auth

import (
	"log/slog"
	"net/http"

	"invoicehub/internal/api/middleware"
	"invoicehub/internal/apperr"
	authsvc "invoicehub/internal/auth"

	"github.com/gin-gonic/gin"
)

// Handler 提供注册、登录与密码重置接口。
type Handler struct {
	svc    *authsvc.Service
	logger *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(svc *authsvc.Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

type signupRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

type verifyRequest struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type resetRequest struct {
	Password string `json:"password" binding:"required"`
}

var errBadBody = apperr.New(apperr.ErrInvalidInput, "Please provide all required fields")

// Signup 创建未验证账户并发送验证码。
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, h.logger, errBadBody)
		return
	}
	receipt, err := h.svc.Register(c.Request.Context(), authsvc.RegisterInput{
		Handle:   req.UserID,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// VerifyOTP 校验验证码并返回登录会话。
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, h.logger, errBadBody)
		return
	}
	session, err := h.svc.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ResendOTP 重新发送验证码。
func (h *Handler) ResendOTP(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, h.logger, errBadBody)
		return
	}
	if err := h.svc.ResendOTP(c.Request.Context(), req.Email); err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent to your email"})
}

// Login 校验用户并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, h.logger, errBadBody)
		return
	}
	session, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Validate 返回当前令牌对应的账户，需要挂在 Authenticate 之后。
func (h *Handler) Validate(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return
	}
	me, err := h.svc.Me(c.Request.Context(), claims)
	if err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": me})
}

// CheckUserID 查询用户 ID 是否已被占用，结果仅供参考。
func (h *Handler) CheckUserID(c *gin.Context) {
	free, err := h.svc.CheckHandleAvailability(c.Request.Context(), c.Param("userId"))
	if err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": !free})
}

// ForgotPassword 发起密码重置。无论账户是否存在都返回同样的提示。
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, h.logger, apperr.New(apperr.ErrInvalidInput, "Please provide a valid email address"))
		return
	}
	msg, err := h.svc.RequestReset(c.Request.Context(), req.Email)
	if err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// ValidateResetToken 检查重置令牌是否有效，不会消耗令牌。
func (h *Handler) ValidateResetToken(c *gin.Context) {
	valid, err := h.svc.ValidateResetToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "Invalid or expired token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// ResetPassword 使用重置令牌设置新密码。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, h.logger, apperr.New(apperr.ErrInvalidInput, "Password must be at least 6 characters"))
		return
	}
	if err := h.svc.ConsumeReset(c.Request.Context(), c.Param("token"), req.Password); err != nil {
		middleware.AbortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully. You can now login with your new password."})
}
