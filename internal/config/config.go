package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration, read from the environment.
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	OTPSalt     string

	// OTP issuance and verification tuning.
	OTPTTL           time.Duration // challenge lifetime
	OTPRequestLimit  int           // max code requests per phone per window
	OTPRequestWindow time.Duration
	LockoutThreshold int           // failed attempts before a subject locks
	LockoutDuration  time.Duration

	SessionTokenTTL time.Duration // phone-bound credential lifetime
	AdminTokenTTL   time.Duration

	// Optional collaborators.
	RedisAddr   string // enables the redis-backed request limiter when set
	SMSProvider string // "twilio" or empty for the logging mock
	TwilioSID   string
	TwilioToken string
	TwilioFrom  string
	GeoEndpoint string // ip-api style JSON endpoint; default http://ip-api.com/json
}

// Load reads configuration from environment variables. DATABASE_URL,
// JWT_SECRET and OTP_SALT are required; everything else has defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             "8080",
		OTPTTL:           300 * time.Second,
		OTPRequestLimit:  5,
		OTPRequestWindow: time.Hour,
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		SessionTokenTTL:  12 * time.Hour,
		AdminTokenTTL:    8 * time.Hour,
		GeoEndpoint:      "http://ip-api.com/json",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg.OTPSalt = os.Getenv("OTP_SALT")
	if cfg.OTPSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if v := os.Getenv("OTP_TTL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid OTP_TTL_SECONDS %q", v)
		}
		cfg.OTPTTL = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("OTP_REQUEST_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid OTP_REQUEST_LIMIT %q", v)
		}
		cfg.OTPRequestLimit = n
	}

	if v := os.Getenv("OTP_MAX_FAILED"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid OTP_MAX_FAILED %q", v)
		}
		cfg.LockoutThreshold = n
	}

	if v := os.Getenv("OTP_LOCK_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid OTP_LOCK_MINUTES %q", v)
		}
		cfg.LockoutDuration = time.Duration(n) * time.Minute
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.SMSProvider = os.Getenv("SMS_PROVIDER")
	cfg.TwilioSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.TwilioFrom = os.Getenv("TWILIO_FROM")
	if v := os.Getenv("GEO_ENDPOINT"); v != "" {
		cfg.GeoEndpoint = v
	}

	return cfg, nil
}
