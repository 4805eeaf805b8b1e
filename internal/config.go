package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"http_server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	SLA      SLAConfig      `mapstructure:"sla"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Helpdesk HelpdeskConfig `mapstructure:"helpdesk"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"8080"`
	BaseURL           string        `mapstructure:"base_url" envconfig:"HTTP_BASE_URL"`
	AllowedOrigins    string        `mapstructure:"allowed_origins" envconfig:"HTTP_ALLOWED_ORIGINS"`
	OpenAPIFile       string        `mapstructure:"openapi_file" envconfig:"HTTP_OPENAPI_FILE" default:"api/openapi.yml"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`
	Source          string        `mapstructure:"source" envconfig:"DB_SOURCE"`
}

// RedisConfig enables cross-process application locks. An empty Addr keeps
// locking in-process.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" envconfig:"REDIS_ADDR"`
	DB       int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" envconfig:"REDIS_LOCK_TTL" default:"10s"`
	LockWait time.Duration `mapstructure:"lock_wait" envconfig:"REDIS_LOCK_WAIT" default:"3s"`
}

type SecurityConfig struct {
	JWTSecret            string        `mapstructure:"jwt_secret" envconfig:"JWT_SECRET"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" envconfig:"ACCESS_TOKEN_DURATION" default:"15m"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" envconfig:"REFRESH_TOKEN_DURATION" default:"168h"`
	ApprovalTokenSecret  string        `mapstructure:"approval_token_secret" envconfig:"APPROVAL_TOKEN_SECRET"`
	ApprovalTokenTTL     time.Duration `mapstructure:"approval_token_ttl" envconfig:"APPROVAL_TOKEN_TTL" default:"72h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" envconfig:"BCRYPT_COST" default:"10"`
	HelpdeskCallbackKey  string        `mapstructure:"helpdesk_callback_key" envconfig:"HELPDESK_CALLBACK_KEY"`
}

type LoggingConfig struct {
	Env    string `mapstructure:"env" envconfig:"APP_ENV" default:"development"`
	Level  string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"text"`
}

type WorkflowConfig struct {
	NumberPrefix              string        `mapstructure:"number_prefix" envconfig:"WORKFLOW_NUMBER_PREFIX" default:"LA"`
	SequentialLevels          bool          `mapstructure:"sequential_levels" envconfig:"WORKFLOW_SEQUENTIAL_LEVELS" default:"true"`
	DefaultNoApprovalRequired bool          `mapstructure:"default_no_approval_required" envconfig:"WORKFLOW_DEFAULT_NO_APPROVAL_REQUIRED" default:"false"`
	ReturnLeadWindow          time.Duration `mapstructure:"return_lead_window" envconfig:"WORKFLOW_RETURN_LEAD_WINDOW" default:"48h"`
	RulesFile                 string        `mapstructure:"rules_file" envconfig:"WORKFLOW_RULES_FILE" default:"config/rules.yml"`
	RulesSource               string        `mapstructure:"rules_source" envconfig:"WORKFLOW_RULES_SOURCE" default:"file"`
}

type SLAConfig struct {
	ResponseHours        int           `mapstructure:"response_hours" envconfig:"SLA_RESPONSE_HOURS" default:"8"`
	ResolutionHours      int           `mapstructure:"resolution_hours" envconfig:"SLA_RESOLUTION_HOURS" default:"48"`
	Mode                 string        `mapstructure:"mode" envconfig:"SLA_MODE" default:"business_hours"`
	RiskThresholdPercent int           `mapstructure:"risk_threshold_percent" envconfig:"SLA_RISK_THRESHOLD_PERCENT" default:"75"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval" envconfig:"SLA_SWEEP_INTERVAL" default:"1m"`
	SweepConcurrency     int           `mapstructure:"sweep_concurrency" envconfig:"SLA_SWEEP_CONCURRENCY" default:"8"`
}

type CalendarConfig struct {
	Timezone    string   `mapstructure:"timezone" envconfig:"CALENDAR_TIMEZONE" default:"UTC"`
	OpenTime    string   `mapstructure:"open_time" envconfig:"CALENDAR_OPEN_TIME" default:"08:00"`
	CloseTime   string   `mapstructure:"close_time" envconfig:"CALENDAR_CLOSE_TIME" default:"17:00"`
	WorkingDays []string `mapstructure:"working_days" envconfig:"CALENDAR_WORKING_DAYS" default:"mon,tue,wed,thu,fri"`
	Holidays    []string `mapstructure:"holidays" envconfig:"CALENDAR_HOLIDAYS"`
	File        string   `mapstructure:"file" envconfig:"CALENDAR_FILE"`
}

type HelpdeskConfig struct {
	BaseURL      string        `mapstructure:"base_url" envconfig:"HELPDESK_BASE_URL"`
	APIKey       string        `mapstructure:"api_key" envconfig:"HELPDESK_API_KEY"`
	Timeout      time.Duration `mapstructure:"timeout" envconfig:"HELPDESK_TIMEOUT" default:"10s"`
	MaxWorkers   int           `mapstructure:"max_workers" envconfig:"HELPDESK_MAX_WORKERS" default:"4"`
	JobQueueSize int           `mapstructure:"job_queue_size" envconfig:"HELPDESK_JOB_QUEUE_SIZE" default:"100"`
	MaxAttempts  int           `mapstructure:"max_attempts" envconfig:"HELPDESK_MAX_ATTEMPTS" default:"3"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" envconfig:"HELPDESK_RETRY_BACKOFF" default:"1s"`
	CallbackURL  string        `mapstructure:"callback_url" envconfig:"HELPDESK_CALLBACK_URL"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	BatchSize    int           `mapstructure:"batch_size" envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	MaxAttempts  int           `mapstructure:"max_attempts" envconfig:"OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// LoadConfigFromEnv fills the configuration from environment variables, reading
// an optional .env file first.
func LoadConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values left by a partial config file.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.OpenAPIFile == "" {
		c.Server.OpenAPIFile = "api/openapi.yml"
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 10 * time.Second
	}
	if c.Redis.LockWait <= 0 {
		c.Redis.LockWait = 3 * time.Second
	}
	if c.Security.AccessTokenDuration <= 0 {
		c.Security.AccessTokenDuration = 15 * time.Minute
	}
	if c.Security.RefreshTokenDuration <= 0 {
		c.Security.RefreshTokenDuration = 7 * 24 * time.Hour
	}
	if c.Security.ApprovalTokenTTL <= 0 {
		c.Security.ApprovalTokenTTL = 72 * time.Hour
	}
	if c.Security.BCryptCost == 0 {
		c.Security.BCryptCost = 10
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "development"
	}
	if c.Workflow.NumberPrefix == "" {
		c.Workflow.NumberPrefix = "LA"
	}
	if c.Workflow.ReturnLeadWindow <= 0 {
		c.Workflow.ReturnLeadWindow = 48 * time.Hour
	}
	if c.Workflow.RulesSource == "" {
		c.Workflow.RulesSource = "file"
	}
	if c.SLA.Mode == "" {
		c.SLA.Mode = "business_hours"
	}
	if c.SLA.RiskThresholdPercent == 0 {
		c.SLA.RiskThresholdPercent = 75
	}
	if c.SLA.SweepInterval <= 0 {
		c.SLA.SweepInterval = time.Minute
	}
	if c.SLA.SweepConcurrency <= 0 {
		c.SLA.SweepConcurrency = 8
	}
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = "UTC"
	}
	if c.Calendar.OpenTime == "" {
		c.Calendar.OpenTime = "08:00"
	}
	if c.Calendar.CloseTime == "" {
		c.Calendar.CloseTime = "17:00"
	}
	if len(c.Calendar.WorkingDays) == 0 {
		c.Calendar.WorkingDays = []string{"mon", "tue", "wed", "thu", "fri"}
	}
	if c.Helpdesk.Timeout <= 0 {
		c.Helpdesk.Timeout = 10 * time.Second
	}
	if c.Helpdesk.MaxAttempts <= 0 {
		c.Helpdesk.MaxAttempts = 3
	}
	if c.Helpdesk.RetryBackoff <= 0 {
		c.Helpdesk.RetryBackoff = time.Second
	}
	if c.Outbox.PollInterval <= 0 {
		c.Outbox.PollInterval = 2 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxAttempts <= 0 {
		c.Outbox.MaxAttempts = 10
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Workflow.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("workflow config: %v", err))
	}

	if err := c.SLA.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("sla config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if len(c.ApprovalTokenSecret) < 32 {
		return errors.New("approval_token_secret must be at least 32 characters")
	}
	if c.BCryptCost < 4 || c.BCryptCost > 15 {
		return errors.New("bcrypt_cost must be between 4 and 15")
	}
	return nil
}

func (c *WorkflowConfig) Validate() error {
	if len(c.NumberPrefix) != 2 {
		return errors.New("number_prefix must be two letters")
	}
	switch c.RulesSource {
	case "file":
		if c.RulesFile == "" {
			return errors.New("rules_file is required when rules_source is file")
		}
	case "database":
	default:
		return fmt.Errorf("unknown rules_source %q", c.RulesSource)
	}
	return nil
}

func (c *SLAConfig) Validate() error {
	if c.ResponseHours <= 0 || c.ResolutionHours <= 0 {
		return errors.New("response_hours and resolution_hours must be positive")
	}
	if c.Mode != "wall_clock" && c.Mode != "business_hours" {
		return fmt.Errorf("unknown sla mode %q", c.Mode)
	}
	if c.RiskThresholdPercent <= 0 || c.RiskThresholdPercent > 100 {
		return errors.New("risk_threshold_percent must be within 1..100")
	}
	return nil
}
