package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr          string `yaml:"addr"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Orders struct {
		TTLMinutes        int `yaml:"ttl_minutes"`
		LockTTLSeconds    int `yaml:"lock_ttl_seconds"`
		StreamPollSeconds int `yaml:"stream_poll_seconds"`
		// ProviderTTLHours bounds how long a charged order may stay pending
		// upstream. Negative disables sweep-side expiry.
		ProviderTTLHours int `yaml:"provider_ttl_hours"`
	} `yaml:"orders"`
	Settlement struct {
		BaseCurrency string `yaml:"base_currency"`
		Currency     string `yaml:"currency"`
		Decimals     int32  `yaml:"decimals"`
	} `yaml:"settlement"`
	FX struct {
		Provider               string             `yaml:"provider"`
		APIURL                 string             `yaml:"api_url"`
		ManualRates            map[string]float64 `yaml:"manual_rates"`
		RefreshIntervalMinutes int                `yaml:"refresh_interval_minutes"`
		MaxStalenessHours      int                `yaml:"max_staleness_hours"`
		RedisKey               string             `yaml:"redis_key"`
	} `yaml:"fx"`
	Gateway struct {
		Active         string `yaml:"active"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxAttempts    int    `yaml:"max_attempts"`
		Midtrans       struct {
			ServerKey string `yaml:"server_key"`
			SnapURL   string `yaml:"snap_url"`
			APIURL    string `yaml:"api_url"`
			FinishURL string `yaml:"finish_url"`
		} `yaml:"midtrans"`
		Stripe struct {
			SecretKey     string `yaml:"secret_key"`
			WebhookSecret string `yaml:"webhook_secret"`
			APIURL        string `yaml:"api_url"`
			SuccessURL    string `yaml:"success_url"`
			CancelURL     string `yaml:"cancel_url"`
		} `yaml:"stripe"`
	} `yaml:"gateway"`
	Checkout struct {
		SuccessURL string `yaml:"success_url"`
		PendingURL string `yaml:"pending_url"`
		FailureURL string `yaml:"failure_url"`
	} `yaml:"checkout"`
	Licenses struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"licenses"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`
	Storage struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"storage"`
	RateLimit struct {
		StatusRPS   float64 `yaml:"status_rps"`
		StatusBurst int     `yaml:"status_burst"`
	} `yaml:"rate_limit"`
	Worker struct {
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
		StaleAfterMinutes    int `yaml:"stale_after_minutes"`
		SweepBatch           int `yaml:"sweep_batch"`
	} `yaml:"worker"`
}

func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Settlement.Currency == "" {
		return nil, errors.New("settlement.currency is required")
	}
	switch cfg.Gateway.Active {
	case "", "manual", "midtrans", "stripe":
	default:
		return nil, errors.New("gateway.active must be one of manual, midtrans, stripe")
	}
	return &cfg, nil
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.FX.RefreshIntervalMinutes) * time.Minute
}

func (c *Config) MaxStaleness() time.Duration {
	return time.Duration(c.FX.MaxStalenessHours) * time.Hour
}

func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Orders.TTLMinutes) * time.Minute
}

func (c *Config) ProviderTTL() time.Duration {
	if c.Orders.ProviderTTLHours < 0 {
		return 0
	}
	return time.Duration(c.Orders.ProviderTTLHours) * time.Hour
}

func applyDefaults(cfg *Config) {
	if cfg.Settlement.BaseCurrency == "" {
		cfg.Settlement.BaseCurrency = "USD"
	}
	cfg.Settlement.Currency = strings.ToUpper(cfg.Settlement.Currency)
	if cfg.Orders.TTLMinutes <= 0 {
		cfg.Orders.TTLMinutes = 3 * 24 * 60
	}
	if cfg.Orders.LockTTLSeconds <= 0 {
		cfg.Orders.LockTTLSeconds = 15
	}
	if cfg.Orders.StreamPollSeconds <= 0 {
		cfg.Orders.StreamPollSeconds = 5
	}
	if cfg.Orders.ProviderTTLHours == 0 {
		cfg.Orders.ProviderTTLHours = 48
	}
	if cfg.FX.Provider == "" {
		cfg.FX.Provider = "manual"
	}
	if cfg.FX.RefreshIntervalMinutes <= 0 {
		cfg.FX.RefreshIntervalMinutes = 60
	}
	if cfg.FX.RedisKey == "" {
		cfg.FX.RedisKey = "fx:snapshot"
	}
	if cfg.Gateway.TimeoutSeconds <= 0 {
		cfg.Gateway.TimeoutSeconds = 10
	}
	if cfg.Gateway.MaxAttempts <= 0 {
		cfg.Gateway.MaxAttempts = 3
	}
	if cfg.Licenses.Prefix == "" {
		cfg.Licenses.Prefix = "AGE"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.RateLimit.StatusRPS <= 0 {
		cfg.RateLimit.StatusRPS = 2
	}
	if cfg.RateLimit.StatusBurst <= 0 {
		cfg.RateLimit.StatusBurst = 5
	}
	if cfg.Worker.SweepIntervalSeconds <= 0 {
		cfg.Worker.SweepIntervalSeconds = 60
	}
	if cfg.Worker.StaleAfterMinutes <= 0 {
		cfg.Worker.StaleAfterMinutes = 10
	}
	if cfg.Worker.SweepBatch <= 0 {
		cfg.Worker.SweepBatch = 100
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Server.PublicBaseURL = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ORDER_TTL_MINUTES"); v != "" {
		cfg.Orders.TTLMinutes = atoiOr(cfg.Orders.TTLMinutes, v)
	}
	if v := os.Getenv("PROVIDER_TTL_HOURS"); v != "" {
		cfg.Orders.ProviderTTLHours = atoiOr(cfg.Orders.ProviderTTLHours, v)
	}
	if v := os.Getenv("SETTLEMENT_CURRENCY"); v != "" {
		cfg.Settlement.Currency = v
	}
	if v := os.Getenv("FX_PROVIDER"); v != "" {
		cfg.FX.Provider = v
	}
	if v := os.Getenv("FX_API_URL"); v != "" {
		cfg.FX.APIURL = v
	}
	if v := os.Getenv("FX_REFRESH_INTERVAL_MINUTES"); v != "" {
		cfg.FX.RefreshIntervalMinutes = atoiOr(cfg.FX.RefreshIntervalMinutes, v)
	}
	if v := os.Getenv("FX_MAX_STALENESS_HOURS"); v != "" {
		cfg.FX.MaxStalenessHours = atoiOr(cfg.FX.MaxStalenessHours, v)
	}
	if v := os.Getenv("FX_MANUAL_RATES"); v != "" {
		cfg.FX.ManualRates = parseRates(cfg.FX.ManualRates, v)
	}
	if v := os.Getenv("GATEWAY_ACTIVE"); v != "" {
		cfg.Gateway.Active = v
	}
	if v := os.Getenv("GATEWAY_TIMEOUT_SECONDS"); v != "" {
		cfg.Gateway.TimeoutSeconds = atoiOr(cfg.Gateway.TimeoutSeconds, v)
	}
	if v := os.Getenv("MIDTRANS_SERVER_KEY"); v != "" {
		cfg.Gateway.Midtrans.ServerKey = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.Gateway.Stripe.SecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Gateway.Stripe.WebhookSecret = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
}

// parseRates reads "IDR=15000,EUR=0.92".
func parseRates(fallback map[string]float64, v string) map[string]float64 {
	out := map[string]float64{}
	for _, pair := range splitCommaList(v) {
		code, val, ok := strings.Cut(pair, "=")
		if !ok {
			return fallback
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fallback
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = f
	}
	return out
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
