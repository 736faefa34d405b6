package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	authapi "invoicehub/internal/api/auth"
	"invoicehub/internal/api/middleware"
	"invoicehub/internal/api/scheduler"
	"invoicehub/internal/auth"
	"invoicehub/internal/config"
	"invoicehub/internal/ledger"
	"invoicehub/internal/model"
	"invoicehub/internal/pkg/cooldown"
	"invoicehub/internal/pkg/notify"
	"invoicehub/internal/pkg/queue"
	"invoicehub/internal/pkg/ratelimit"
	"invoicehub/internal/pkg/storage"
	"invoicehub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// Server 封装了 API 服务所需的依赖和路由处理。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	router   *gin.Engine
	auth     *authapi.Handler
	tokens   middleware.TokenValidator
	limiter  middleware.Limiter
	ledger   *ledger.Ledger
	files    storage.Storage
	jobs     *queue.Queue
	sched    *scheduler.Scheduler
	invoices store.InvoiceStore
	rdb      *redis.Client
	stopJobs context.CancelFunc
	closers  []func() error
}

// Deps 是 Server 依赖的外部资源。Redis 为空时关闭限流与重置冷却。
type Deps struct {
	Accounts store.AccountStore
	Invoices store.InvoiceStore
	Sender   notify.Sender
	Files    storage.Storage
	Redis    *redis.Client
}

// NewServer 根据配置初始化 API 服务器。
//
// 它负责：
// 1. 打开存储（MySQL 或内存）
// 2. 连接 Redis（地址为空时跳过）
// 3. 创建邮件发送器与附件存储
// 4. 组装业务组件并注册路由
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var (
		accounts store.AccountStore
		invoices store.InvoiceStore
		closers  []func() error
	)
	if cfg.App.UseMemoryStore {
		mem := store.NewMemoryStore()
		accounts, invoices = mem, mem
		logger.Warn("using in-memory store, data will not survive restarts")
	} else {
		db, err := store.OpenMySQL(cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		accounts, invoices = db, db
		closers = append(closers, db.Close)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			closeAll(closers)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	} else {
		logger.Warn("redis disabled, rate limiting and reset cooldown are off")
	}

	files, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		closeAll(closers)
		return nil, err
	}

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	if !mailer.Configured() {
		logger.Warn("smtp not configured, emails will fail")
	}

	gin.SetMode(gin.ReleaseMode)
	s := New(cfg, logger, Deps{
		Accounts: accounts,
		Invoices: invoices,
		Sender:   mailer,
		Files:    files,
		Redis:    rdb,
	})
	s.closers = append(s.closers, closers...)
	return s, nil
}

// New 使用已打开的资源组装服务器。
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	issuer := auth.NewIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL, deps.Accounts)
	svc := auth.NewService(deps.Accounts, issuer, deps.Sender, auth.OptionsFromConfig(&cfg.Security, cfg.App.FrontendURL), logger)

	var limiter middleware.Limiter
	if deps.Redis != nil {
		svc.SetResetCooldown(cooldown.NewWindow(deps.Redis, "reset:cooldown:", cfg.Security.ResetCooldown))
		limiter = ratelimit.NewRedisRateLimiter(deps.Redis, logger, "ratelimit:", cfg.App.RateLimit, cfg.App.RateBurst)
	}

	jobs := queue.NewQueue(logger, cfg.App.ReceiptWorkers, cfg.App.QueueCapacity, 30*time.Second)
	l := ledger.New(deps.Invoices, logger).WithReceipts(jobs, deps.Sender)
	if deps.Files != nil {
		l.WithAttachments(deps.Files)
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.Storage.MaxUploadBytes
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   r,
		auth:     authapi.NewHandler(svc, logger),
		tokens:   issuer,
		limiter:  limiter,
		ledger:   l,
		files:    deps.Files,
		jobs:     jobs,
		sched:    scheduler.NewScheduler(l, logger, cfg.App.OverdueSweepInterval),
		invoices: deps.Invoices,
		rdb:      deps.Redis,
	}
	if deps.Redis != nil {
		s.closers = append(s.closers, deps.Redis.Close)
	}
	s.registerRoutes()
	return s
}

// Router 返回带 CORS 处理的 HTTP 处理器。
func (s *Server) Router() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.App.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start 启动回执队列与逾期扫描。ctx 取消后扫描停止；回执队列不随 ctx
// 取消，由 Shutdown 排空。
func (s *Server) Start(ctx context.Context) {
	jobsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopJobs = cancel
	s.jobs.Start(jobsCtx)
	if s.cfg.App.OverdueSweepInterval > 0 {
		s.sched.Start(ctx)
	}
}

// Shutdown 排空回执队列、等待扫描退出并关闭数据库与缓存连接。
// 调用前应已取消传给 Start 的 ctx，否则会一直等待扫描循环。
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.jobs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain receipt queue: %w", err))
	}
	if s.stopJobs != nil {
		s.stopJobs()
	}
	s.sched.Wait()
	if err := closeAll(s.closers); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	limited := middleware.RateLimit(s.limiter, s.logger)
	authenticated := middleware.Authenticate(s.tokens, s.logger)

	a := s.router.Group("/auth")
	a.POST("/signup", limited, s.auth.Signup)
	a.POST("/verify-otp", limited, s.auth.VerifyOTP)
	a.POST("/resend-otp", limited, s.auth.ResendOTP)
	a.POST("/login", limited, s.auth.Login)
	a.GET("/validate", authenticated, s.auth.Validate)
	a.GET("/check-userid/:userId", s.auth.CheckUserID)
	a.POST("/forgot-password", limited, s.auth.ForgotPassword)
	a.GET("/validate-reset-token/:token", s.auth.ValidateResetToken)
	a.POST("/reset-password/:token", limited, s.auth.ResetPassword)

	members := func(action string) gin.HandlerFunc {
		return middleware.RequireRole(action, model.RoleUser, model.RoleAdmin)
	}
	inv := s.router.Group("/invoices")
	inv.Use(authenticated)
	inv.GET("", members("list invoices"), s.handleListInvoices)
	inv.POST("", members("create invoices"), s.handleCreateInvoice)
	inv.DELETE("", members("delete invoices"), s.handleDeleteInvoiceByEmail)
	inv.GET("/summary", members("view the invoice summary"), s.handleSummary)
	inv.POST("/pay", members("pay invoices"), s.handlePayByEmail)
	inv.POST("/overdue/sweep", middleware.RequireRole("run the overdue sweep", model.RoleAdmin), s.handleSweepOverdue)
	inv.GET("/:id", members("view invoices"), s.handleGetInvoice)
	inv.POST("/:id/pay", members("pay invoices"), s.handlePayByID)
	inv.DELETE("/:id", members("delete invoices"), s.handleDeleteInvoiceByID)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.invoices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.invoices.Ping(ctx); err != nil {
		s.logger.Warn("health check: store unavailable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.logger.Warn("health check: redis unavailable", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
