// README: Config loader with env defaults for HTTP, storage, messaging, pricing and lifecycle policy.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type PricingConfig struct {
	BasePrice int64
	PerKmRate int64
	// DownpaymentFraction is the share of the total due up front for scheduled bookings.
	DownpaymentFraction float64
	// DownpaymentRounding is the unit the downpayment is rounded to (1 = whole rupiah).
	DownpaymentRounding int64
}

type LifecycleConfig struct {
	DPWindow                 time.Duration
	FinalPaymentLead         time.Duration
	EmergencyGrace           time.Duration
	EmergencyUnpaidComplete  bool
	AutoConfirmOnDownpayment bool
	PaymentTTL               time.Duration
}

type WorkerConfig struct {
	ExpiryTick     time.Duration
	DispatchTick   time.Duration
	ReminderWindow time.Duration
}

type Config struct {
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr     string
		Password string
		LockTTL  time.Duration
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	Auth struct {
		JWTSecret     string
		CallbackToken string
	}
	Maps struct {
		APIKey string
	}
	Log struct {
		Level string
		Dev   bool
	}
	Pricing   PricingConfig
	Lifecycle LifecycleConfig
	Workers   WorkerConfig
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ShutdownTimeout = 15 * time.Second
	cfg.Redis.LockTTL = 10 * time.Second
	cfg.Kafka.Topic = "booking-events"
	cfg.Log.Level = "info"
	cfg.Pricing = PricingConfig{
		BasePrice:           500000,
		PerKmRate:           5000,
		DownpaymentFraction: 0.3,
		DownpaymentRounding: 1000,
	}
	cfg.Lifecycle = LifecycleConfig{
		DPWindow:                 24 * time.Hour,
		FinalPaymentLead:         2 * time.Hour,
		EmergencyGrace:           72 * time.Hour,
		EmergencyUnpaidComplete:  true,
		AutoConfirmOnDownpayment: true,
		PaymentTTL:               24 * time.Hour,
	}
	cfg.Workers = WorkerConfig{
		ExpiryTick:     time.Minute,
		DispatchTick:   10 * time.Second,
		ReminderWindow: 6 * time.Hour,
	}
	return cfg
}

func Load() (Config, error) {
	cfg := Default()
	var errs []error

	cfg.HTTP.Addr = envOrDefault("AMB_HTTP_ADDR", cfg.HTTP.Addr)
	setDuration(&cfg.HTTP.ShutdownTimeout, "AMB_HTTP_SHUTDOWN_TIMEOUT", &errs)
	cfg.DB.DSN = os.Getenv("AMB_DB_DSN")
	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("AMB_REDIS_ADDR"))
	cfg.Redis.Password = os.Getenv("AMB_REDIS_PASSWORD")
	setDuration(&cfg.Redis.LockTTL, "AMB_LOCK_TTL", &errs)
	if v := os.Getenv("AMB_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitAndTrim(v)
	}
	cfg.Kafka.Topic = envOrDefault("AMB_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Auth.JWTSecret = os.Getenv("AMB_JWT_SECRET")
	cfg.Auth.CallbackToken = os.Getenv("AMB_CALLBACK_TOKEN")
	cfg.Maps.APIKey = os.Getenv("AMB_MAPS_API_KEY")
	cfg.Log.Level = strings.ToLower(envOrDefault("AMB_LOG_LEVEL", cfg.Log.Level))
	setBool(&cfg.Log.Dev, "AMB_LOG_DEV", &errs)

	setInt64(&cfg.Pricing.BasePrice, "AMB_BASE_PRICE", &errs)
	setInt64(&cfg.Pricing.PerKmRate, "AMB_PER_KM_RATE", &errs)
	setFloat(&cfg.Pricing.DownpaymentFraction, "AMB_DOWNPAYMENT_FRACTION", &errs)
	setInt64(&cfg.Pricing.DownpaymentRounding, "AMB_DOWNPAYMENT_ROUNDING", &errs)

	setDuration(&cfg.Lifecycle.DPWindow, "AMB_DP_WINDOW", &errs)
	setDuration(&cfg.Lifecycle.FinalPaymentLead, "AMB_FINAL_PAYMENT_LEAD", &errs)
	setDuration(&cfg.Lifecycle.EmergencyGrace, "AMB_EMERGENCY_GRACE", &errs)
	setBool(&cfg.Lifecycle.EmergencyUnpaidComplete, "AMB_EMERGENCY_UNPAID_COMPLETION", &errs)
	setBool(&cfg.Lifecycle.AutoConfirmOnDownpayment, "AMB_AUTO_CONFIRM", &errs)
	setDuration(&cfg.Lifecycle.PaymentTTL, "AMB_PAYMENT_TTL", &errs)

	setDuration(&cfg.Workers.ExpiryTick, "AMB_EXPIRY_TICK", &errs)
	setDuration(&cfg.Workers.DispatchTick, "AMB_DISPATCH_TICK", &errs)
	setDuration(&cfg.Workers.ReminderWindow, "AMB_REMINDER_WINDOW", &errs)

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	if c.Pricing.BasePrice < 0 || c.Pricing.PerKmRate < 0 {
		errs = append(errs, errors.New("prices must be >= 0"))
	}
	if c.Pricing.DownpaymentFraction <= 0 || c.Pricing.DownpaymentFraction >= 1 {
		errs = append(errs, errors.New("AMB_DOWNPAYMENT_FRACTION must be in (0,1)"))
	}
	if c.Pricing.DownpaymentRounding < 1 {
		errs = append(errs, errors.New("AMB_DOWNPAYMENT_ROUNDING must be >= 1"))
	}
	if c.Workers.ExpiryTick <= 0 || c.Workers.DispatchTick <= 0 {
		errs = append(errs, errors.New("worker ticks must be > 0"))
	}
	return errs
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func setDuration(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setInt64(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = n
	}
}

func setFloat(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setBool(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
