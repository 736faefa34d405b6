package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoicehub/internal/api/middleware"
	"invoicehub/internal/apperr"
	"invoicehub/internal/ledger"
	"invoicehub/internal/model"

	"github.com/gin-gonic/gin"
)

// multipart 表单字段本身预留的额外字节数。
const formOverheadBytes = 64 << 10

var (
	errNoFile       = apperr.New(apperr.ErrMissingAttachment, "No file uploaded")
	errFileType     = apperr.New(apperr.ErrInvalidInput, "Invalid file type. Only PDF, JPEG, and PNG are allowed.")
	errBadAmount    = apperr.New(apperr.ErrInvalidAmount, "Amounts must be whole numbers in minor currency units")
	errBadDueDate   = apperr.New(apperr.ErrInvalidInput, "due_at must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	errBadInvoiceID = apperr.New(apperr.ErrInvalidInput, "Invalid invoice id")
	errBadBody      = apperr.New(apperr.ErrInvalidInput, "Invalid request body")
	errNeedEmail    = apperr.New(apperr.ErrInvalidInput, "Email is required")
)

type invoiceResponse struct {
	ID            uint       `json:"id"`
	OwnerID       uint       `json:"owner_id"`
	Name          string     `json:"name"`
	Mobile        string     `json:"mobile"`
	Email         string     `json:"email"`
	CompanyName   string     `json:"company_name"`
	AmountPaid    int64      `json:"amount_paid"`
	PendingAmount int64      `json:"pending_amount"`
	TotalAmount   int64      `json:"total_amount"`
	Status        string     `json:"status"`
	FileRef       string     `json:"file_ref"`
	FileType      string     `json:"file_type"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toInvoiceResponse(inv *model.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:            inv.ID,
		OwnerID:       inv.OwnerID,
		Name:          inv.Name,
		Mobile:        inv.Mobile,
		Email:         inv.Email,
		CompanyName:   inv.CompanyName,
		AmountPaid:    inv.AmountPaid,
		PendingAmount: inv.PendingAmount,
		TotalAmount:   inv.TotalAmount,
		Status:        inv.Status,
		FileRef:       inv.FileRef,
		FileType:      inv.FileType,
		DueAt:         inv.DueAt,
		PaidAt:        inv.PaidAt,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
}

type payRequest struct {
	Email  string `json:"email"`
	Amount int64  `json:"amount"`
}

// bindPay 解析支付请求体。amount 不是整数时返回 errBadAmount。
func (s *Server) bindPay(c *gin.Context) (payRequest, bool) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "amount" {
			middleware.AbortWithError(c, s.logger, errBadAmount)
		} else {
			middleware.AbortWithError(c, s.logger, errBadBody)
		}
		return req, false
	}
	return req, true
}

type deleteRequest struct {
	Email string `json:"email"`
}

// handleCreateInvoice 接收 multipart 表单：客户信息、金额、状态与 file 附件。
func (s *Server) handleCreateInvoice(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	maxBytes := s.cfg.Storage.MaxUploadBytes
	if c.Request.ContentLength > maxBytes+formOverheadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+formOverheadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		middleware.AbortWithError(c, s.logger, errNoFile)
		return
	}
	if fh.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	in, err := parseCreateForm(c)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}

	contentType, err := sniffContentType(fh)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	if !model.AllowedFileTypes[contentType] {
		middleware.AbortWithError(c, s.logger, errFileType)
		return
	}

	ref, err := s.storeAttachment(c.Request.Context(), fh, contentType)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	in.File = ledger.Attachment{Ref: ref, ContentType: contentType}

	inv, err := s.ledger.Create(c.Request.Context(), caller.AccountID, in)
	if err != nil {
		if derr := s.files.Delete(context.WithoutCancel(c.Request.Context()), ref); derr != nil {
			s.logger.Warn("remove orphaned attachment failed", slog.String("ref", ref), slog.String("error", derr.Error()))
		}
		middleware.AbortWithError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Invoice created successfully",
		"invoice": toInvoiceResponse(inv),
	})
}

func parseCreateForm(c *gin.Context) (ledger.CreateInput, error) {
	in := ledger.CreateInput{
		Contact: ledger.Contact{
			Name:        c.PostForm("name"),
			Mobile:      c.PostForm("mobile"),
			Email:       c.PostForm("email"),
			CompanyName: c.PostForm("company_name"),
		},
		Status: strings.TrimSpace(c.PostForm("status")),
	}

	var err error
	if in.AmountPaid, err = parseAmount(c.PostForm("amount_paid")); err != nil {
		return in, err
	}
	if in.PendingAmount, err = parseAmount(c.PostForm("pending_amount")); err != nil {
		return in, err
	}
	if raw := strings.TrimSpace(c.PostForm("due_at")); raw != "" {
		due, err := parseDueDate(raw)
		if err != nil {
			return in, err
		}
		in.DueAt = &due
	}
	return in, nil
}

// parseAmount 解析最小货币单位的整数金额，空值视为 0。
func parseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errBadAmount
	}
	return v, nil
}

func parseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errBadDueDate
}

func sniffContentType(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	ct := http.DetectContentType(head[:n])
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct, nil
}

func (s *Server) storeAttachment(ctx context.Context, fh *multipart.FileHeader, contentType string) (string, error) {
	if s.files == nil {
		return "", errors.New("attachment storage not configured")
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.files.Put(ctx, contentType, f, fh.Size)
}

// handleListInvoices 管理员返回全部发票，普通用户只返回自己的发票。
func (s *Server) handleListInvoices(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	invoices, err := s.ledger.List(c.Request.Context(), caller)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	resp := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		resp = append(resp, toInvoiceResponse(&invoices[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSummary(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	summary, err := s.ledger.Summary(c.Request.Context(), caller)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := invoiceID(c, s.logger)
	if !ok {
		return
	}
	inv, err := s.ledger.Get(c.Request.Context(), caller, id)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(inv))
}

func (s *Server) handlePayByEmail(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	req, ok := s.bindPay(c)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		middleware.AbortWithError(c, s.logger, errNeedEmail)
		return
	}
	inv, err := s.ledger.Pay(c.Request.Context(), caller, req.Email, req.Amount)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(inv))
}

func (s *Server) handlePayByID(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := invoiceID(c, s.logger)
	if !ok {
		return
	}
	req, ok := s.bindPay(c)
	if !ok {
		return
	}
	inv, err := s.ledger.PayByID(c.Request.Context(), caller, id, req.Amount)
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(inv))
}

func (s *Server) handleDeleteInvoiceByEmail(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		middleware.AbortWithError(c, s.logger, errNeedEmail)
		return
	}
	if err := s.ledger.Delete(c.Request.Context(), caller, req.Email); err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Invoice deleted successfully"})
}

func (s *Server) handleDeleteInvoiceByID(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := invoiceID(c, s.logger)
	if !ok {
		return
	}
	if err := s.ledger.DeleteByID(c.Request.Context(), caller, id); err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Invoice deleted successfully"})
}

// handleSweepOverdue 立即执行一次逾期扫描（仅管理员）。
func (s *Server) handleSweepOverdue(c *gin.Context) {
	n, err := s.ledger.MarkOverdue(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func callerFrom(c *gin.Context) (ledger.Caller, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return ledger.Caller{}, false
	}
	return ledger.Caller{AccountID: claims.AccountID, Role: claims.Role}, true
}

func invoiceID(c *gin.Context, logger *slog.Logger) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		middleware.AbortWithError(c, logger, errBadInvoiceID)
		return 0, false
	}
	return uint(id), true
}
