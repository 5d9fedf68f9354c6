package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	AMGBaseURL           string        `mapstructure:"AMG_BASE_URL"`
	AMGUsername          string        `mapstructure:"AMG_API_USERNAME"`
	AMGPassword          string        `mapstructure:"AMG_API_PASSWORD"`
	AMGTestPolicyMatch   string        `mapstructure:"AMG_TEST_POLICY_MATCH"`
	AMGTimeout           time.Duration `mapstructure:"AMG_TIMEOUT"`
	AMGRetryMax          int           `mapstructure:"AMG_RETRY_MAX"`
	AMGContractScanPages int           `mapstructure:"AMG_CONTRACT_SCAN_PAGES"`
	AMGContractPageSize  int           `mapstructure:"AMG_CONTRACT_PAGE_SIZE"`

	HoloMode        string `mapstructure:"HOLO_MODE"`
	HoloPaymentURL  string `mapstructure:"HOLO_PAYMENT_URL"`
	HoloMerchantID  string `mapstructure:"HOLO_MERCHANT_ID"`
	HoloCurrency    string `mapstructure:"HOLO_CURRENCY"`
	FrontendBaseURL string `mapstructure:"FRONTEND_BASE_URL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AdminTokenSecret string `mapstructure:"ADMIN_TOKEN_SECRET"`
	AdminTokenIssuer string `mapstructure:"ADMIN_TOKEN_ISSUER"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	SyncBatchSize int           `mapstructure:"SYNC_BATCH_SIZE"`
	SyncAuto      bool          `mapstructure:"SYNC_AUTO"`
	SyncMaxAge    time.Duration `mapstructure:"SYNC_MAX_AGE"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var defaults = map[string]interface{}{
	"PORT":                    "3001",
	"ENV":                     "development",
	"AMG_BASE_URL":            "https://test.amg.km",
	"AMG_TEST_POLICY_MATCH":   "TEST",
	"AMG_TIMEOUT":             "15s",
	"AMG_RETRY_MAX":           2,
	"AMG_CONTRACT_SCAN_PAGES": 0,
	"AMG_CONTRACT_PAGE_SIZE":  1000,
	"HOLO_MODE":               "test",
	"HOLO_CURRENCY":           "KMF",
	"FRONTEND_BASE_URL":       "http://localhost:8080",
	"DB_MAX_CONNS":            10,
	"DB_MIN_CONNS":            1,
	"ADMIN_TOKEN_ISSUER":      "amg-portal",
	"CORS_ORIGINS":            "*",
	"REQUEST_TIMEOUT":         "45s",
	"BODY_LIMIT":              "1M",
	"RATE_LIMIT_RPS":          5,
	"RATE_LIMIT_BURST":        10,
	"SYNC_BATCH_SIZE":         1000,
	"SYNC_AUTO":               false,
	"SYNC_MAX_AGE":            "24h",
}

// Keys without a default still need an explicit binding for Unmarshal.
var unset = []string{
	"AMG_API_USERNAME",
	"AMG_API_PASSWORD",
	"HOLO_PAYMENT_URL",
	"HOLO_MERCHANT_ID",
	"DATABASE_URL",
	"ADMIN_TOKEN_SECRET",
	"TLS_ENABLED",
	"TLS_CERT_FILE",
	"TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		_ = v.BindEnv(key)
	}
	for _, key := range unset {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.AMGBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AMGBaseURL), "/")
	cfg.FrontendBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendBaseURL), "/")
	cfg.HoloMode = strings.ToLower(strings.TrimSpace(cfg.HoloMode))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasDatabase reports whether the contract cache, the sync job and the
// notification log are enabled.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// HasAdmin reports whether the operator routes can verify tokens.
func (c *Config) HasAdmin() bool {
	return c.AdminTokenSecret != ""
}

// HoloProductionReady reports whether production payments can be initiated.
// Missing values are not fatal at startup: init-payment answers 500 instead.
func (c *Config) HoloProductionReady() bool {
	return c.HoloPaymentURL != "" && c.HoloMerchantID != ""
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "test", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, test, staging or production, got %q", c.Env)
	}

	u, err := url.Parse(c.AMGBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AMG_BASE_URL must be an absolute url, got %q", c.AMGBaseURL)
	}
	if c.AMGTimeout <= 0 {
		return fmt.Errorf("AMG_TIMEOUT must be positive, got %s", c.AMGTimeout)
	}
	if c.AMGRetryMax < 0 {
		return fmt.Errorf("AMG_RETRY_MAX must not be negative, got %d", c.AMGRetryMax)
	}
	if c.AMGContractScanPages < 0 {
		return fmt.Errorf("AMG_CONTRACT_SCAN_PAGES must not be negative, got %d", c.AMGContractScanPages)
	}
	if c.AMGContractPageSize <= 0 {
		return fmt.Errorf("AMG_CONTRACT_PAGE_SIZE must be positive, got %d", c.AMGContractPageSize)
	}
	if c.IsProduction() && (c.AMGUsername == "" || c.AMGPassword == "") {
		return fmt.Errorf("AMG_API_USERNAME and AMG_API_PASSWORD are required in production")
	}

	if c.HoloMode != "test" && c.HoloMode != "production" {
		return fmt.Errorf("HOLO_MODE must be test or production, got %q", c.HoloMode)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}

	if c.HasDatabase() {
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns)
		}
		if c.SyncBatchSize <= 0 {
			return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", c.SyncBatchSize)
		}
	}
	if c.SyncAuto && !c.HasDatabase() {
		return fmt.Errorf("SYNC_AUTO requires DATABASE_URL")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
