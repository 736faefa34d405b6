package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Storage  StorageConfig  `json:"storage"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                  string        `json:"env"`                    // 运行环境: local / prod
	LogLevel             string        `json:"log_level"`              // 日志级别: debug / info / warn / error
	HTTPAddr             string        `json:"http_addr"`              // API 服务监听地址
	FrontendURL          string        `json:"frontend_url"`           // 前端地址，用于拼接重置密码链接
	CORSOrigins          []string      `json:"cors_origins"`           // 允许跨域的来源
	OverdueSweepInterval time.Duration `json:"overdue_sweep_interval"` // 逾期扫描间隔（如 "15m"，0 表示关闭）
	ReceiptWorkers       int           `json:"receipt_workers"`        // 回执邮件 worker 数
	QueueCapacity        int           `json:"queue_capacity"`         // 回执队列容量
	RateLimit            float64       `json:"rate_limit"`             // 认证接口限流速率（token/s）
	RateBurst            float64       `json:"rate_burst"`             // 限流桶容量
	UseMemoryStore       bool          `json:"use_memory_store"`       // 使用内存存储（本地调试）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置（Addr 为空表示不启用限流与冷却）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件发送配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// SecurityConfig 凭据相关配置。
type SecurityConfig struct {
	JWTSecret     string        `json:"jwt_secret"`      // JWT 签名密钥
	TokenTTL      time.Duration `json:"token_ttl"`       // 访问令牌有效期
	OTPTTL        time.Duration `json:"otp_ttl"`         // 验证码有效期
	OTPResendWait time.Duration `json:"otp_resend_wait"` // 验证码重发间隔
	ResetTokenTTL time.Duration `json:"reset_token_ttl"` // 重置令牌有效期
	ResetCooldown time.Duration `json:"reset_cooldown"`  // 同一邮箱重置请求冷却时间
	BcryptCost    int           `json:"bcrypt_cost"`     // bcrypt 成本
}

// StorageConfig 发票附件存储配置。
type StorageConfig struct {
	Driver         string `json:"driver"`           // local / s3
	LocalDir       string `json:"local_dir"`        // 本地存储目录
	MaxUploadBytes int64  `json:"max_upload_bytes"` // 单个附件最大字节数
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3Endpoint     string `json:"s3_endpoint"` // S3 兼容服务地址（为空使用 AWS 默认）
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
}

// Load 从 JSON 文件加载配置。
//
// 文件不存在时使用默认值；两种情况下环境变量都会覆盖最终结果。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate 检查生产环境下必须显式配置的字段。
func (c *Config) Validate() error {
	if c.App.Env == "prod" && c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("jwt_secret must be set in prod")
	}
	switch c.Storage.Driver {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("s3_bucket is required for s3 storage")
	}
	return nil
}

const defaultJWTSecret = "dev_secret_change_me"

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                  "local",
			LogLevel:             "info",
			HTTPAddr:             ":8080",
			FrontendURL:          "http://localhost:5173",
			CORSOrigins:          []string{"http://localhost:5173"},
			OverdueSweepInterval: 15 * time.Minute,
			ReceiptWorkers:       2,
			QueueCapacity:        100,
			RateLimit:            1,
			RateBurst:            10,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/invoicehub?parseTime=true&loc=UTC",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
			FromName: "Invoice Hub",
		},
		Security: SecurityConfig{
			JWTSecret:     defaultJWTSecret,
			TokenTTL:      24 * time.Hour,
			OTPTTL:        10 * time.Minute,
			OTPResendWait: time.Minute,
			ResetTokenTTL: time.Hour,
			ResetCooldown: time.Minute,
			BcryptCost:    10,
		},
		Storage: StorageConfig{
			Driver:         "local",
			LocalDir:       "uploads",
			MaxUploadBytes: 5 << 20,
			S3Region:       "us-east-1",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.FrontendURL == "" {
		cfg.App.FrontendURL = defaults.App.FrontendURL
	}
	if len(cfg.App.CORSOrigins) == 0 {
		cfg.App.CORSOrigins = defaults.App.CORSOrigins
	}
	if cfg.App.ReceiptWorkers == 0 {
		cfg.App.ReceiptWorkers = defaults.App.ReceiptWorkers
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = defaults.Email.FromName
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
	if cfg.Security.OTPTTL == 0 {
		cfg.Security.OTPTTL = defaults.Security.OTPTTL
	}
	if cfg.Security.OTPResendWait == 0 {
		cfg.Security.OTPResendWait = defaults.Security.OTPResendWait
	}
	if cfg.Security.ResetTokenTTL == 0 {
		cfg.Security.ResetTokenTTL = defaults.Security.ResetTokenTTL
	}
	if cfg.Security.ResetCooldown == 0 {
		cfg.Security.ResetCooldown = defaults.Security.ResetCooldown
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = defaults.Storage.LocalDir
	}
	if cfg.Storage.MaxUploadBytes == 0 {
		cfg.Storage.MaxUploadBytes = defaults.Storage.MaxUploadBytes
	}
	if cfg.Storage.S3Region == "" {
		cfg.Storage.S3Region = defaults.Storage.S3Region
	}
}

func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("db_host", "DB_HOST")
	_ = v.BindEnv("db_password", "DB_PASSWORD")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("smtp_pass", "SMTP_PASS")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("s3_secret_key", "S3_SECRET_KEY")

	if s := os.Getenv("APP_ENV"); s != "" {
		cfg.App.Env = s
	}
	if s := os.Getenv("APP_LOG_LEVEL"); s != "" {
		cfg.App.LogLevel = s
	}
	if s := os.Getenv("APP_HTTP_ADDR"); s != "" {
		cfg.App.HTTPAddr = s
	}
	if s := os.Getenv("FRONTEND_URL"); s != "" {
		cfg.App.FrontendURL = strings.TrimRight(s, "/")
	}
	if s := os.Getenv("CORS_ORIGINS"); s != "" {
		cfg.App.CORSOrigins = splitList(s)
	}
	if s := os.Getenv("APP_OVERDUE_SWEEP_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.App.OverdueSweepInterval = d
		}
	}
	if s := os.Getenv("APP_RECEIPT_WORKERS"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.App.ReceiptWorkers = i
		}
	}
	if s := os.Getenv("APP_QUEUE_CAPACITY"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if s := os.Getenv("APP_RATE_LIMIT"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if s := os.Getenv("APP_RATE_BURST"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if s := os.Getenv("APP_USE_MEMORY_STORE"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			cfg.App.UseMemoryStore = b
		}
	}

	if s := v.GetString("jwt_secret"); s != "" {
		cfg.Security.JWTSecret = s
	}
	if s := os.Getenv("TOKEN_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.Security.TokenTTL = d
		}
	}
	if s := os.Getenv("BCRYPT_COST"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.Security.BcryptCost = i
		}
	}

	if s := os.Getenv("DB_DSN"); s != "" {
		cfg.MySQL.DSN = s
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if host := v.GetString("db_host"); host != "" {
			port := os.Getenv("DB_PORT")
			if port == "" {
				port = portOf(parsed.Addr, "3306")
			}
			parsed.Addr = host + ":" + port
		} else if port := os.Getenv("DB_PORT"); port != "" {
			host := parsed.Addr
			if i := strings.Index(host, ":"); i >= 0 {
				host = host[:i]
			}
			parsed.Addr = host + ":" + port
		}
		if s := os.Getenv("DB_USER"); s != "" {
			parsed.User = s
		}
		if s := v.GetString("db_password"); s != "" {
			parsed.Passwd = s
		}
		if s := os.Getenv("DB_NAME"); s != "" {
			parsed.DBName = s
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if s, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.Redis.Addr = s
	}
	if s := v.GetString("redis_password"); s != "" {
		cfg.Redis.Password = s
	}

	if s := os.Getenv("SMTP_HOST"); s != "" {
		cfg.Email.SMTPHost = s
	}
	if s := os.Getenv("SMTP_PORT"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if s := os.Getenv("SMTP_USER"); s != "" {
		cfg.Email.SMTPUser = s
	}
	if s := v.GetString("smtp_pass"); s != "" {
		cfg.Email.SMTPPass = s
	}
	if s := os.Getenv("SMTP_FROM"); s != "" {
		cfg.Email.FromEmail = s
	}

	if s := os.Getenv("STORAGE_DRIVER"); s != "" {
		cfg.Storage.Driver = s
	}
	if s := os.Getenv("STORAGE_LOCAL_DIR"); s != "" {
		cfg.Storage.LocalDir = s
	}
	if s := os.Getenv("S3_BUCKET"); s != "" {
		cfg.Storage.S3Bucket = s
	}
	if s := os.Getenv("S3_REGION"); s != "" {
		cfg.Storage.S3Region = s
	}
	if s := os.Getenv("S3_ENDPOINT"); s != "" {
		cfg.Storage.S3Endpoint = s
	}
	if s := os.Getenv("S3_ACCESS_KEY"); s != "" {
		cfg.Storage.S3AccessKey = s
	}
	if s := v.GetString("s3_secret_key"); s != "" {
		cfg.Storage.S3SecretKey = s
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func portOf(addr, def string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMySQLDSN(dsn string) *mysql.Config {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil || dsn == "" {
		cfg := mysql.NewConfig()
		cfg.User = "root"
		cfg.Net = "tcp"
		cfg.Addr = "localhost:3306"
		cfg.DBName = "invoicehub"
		cfg.ParseTime = true
		return cfg
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		OverdueSweepInterval string `json:"overdue_sweep_interval"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.OverdueSweepInterval != "" {
		d, err := time.ParseDuration(aux.OverdueSweepInterval)
		if err != nil {
			return fmt.Errorf("invalid overdue_sweep_interval format: %w", err)
		}
		a.OverdueSweepInterval = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		OverdueSweepInterval string `json:"overdue_sweep_interval"`
		*Alias
	}{
		OverdueSweepInterval: a.OverdueSweepInterval.String(),
		Alias:                (*Alias)(&a),
	})
}

// UnmarshalJSON 支持 "10m" 形式的有效期字段。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		TokenTTL      string `json:"token_ttl"`
		OTPTTL        string `json:"otp_ttl"`
		OTPResendWait string `json:"otp_resend_wait"`
		ResetTokenTTL string `json:"reset_token_ttl"`
		ResetCooldown string `json:"reset_cooldown"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"token_ttl", aux.TokenTTL, &s.TokenTTL},
		{"otp_ttl", aux.OTPTTL, &s.OTPTTL},
		{"otp_resend_wait", aux.OTPResendWait, &s.OTPResendWait},
		{"reset_token_ttl", aux.ResetTokenTTL, &s.ResetTokenTTL},
		{"reset_cooldown", aux.ResetCooldown, &s.ResetCooldown},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// MarshalJSON 将有效期字段序列化为字符串。
func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	type Alias SecurityConfig
	return json.Marshal(&struct {
		TokenTTL      string `json:"token_ttl"`
		OTPTTL        string `json:"otp_ttl"`
		OTPResendWait string `json:"otp_resend_wait"`
		ResetTokenTTL string `json:"reset_token_ttl"`
		ResetCooldown string `json:"reset_cooldown"`
		*Alias
	}{
		TokenTTL:      s.TokenTTL.String(),
		OTPTTL:        s.OTPTTL.String(),
		OTPResendWait: s.OTPResendWait.String(),
		ResetTokenTTL: s.ResetTokenTTL.String(),
		ResetCooldown: s.ResetCooldown.String(),
		Alias:         (*Alias)(&s),
	})
}
