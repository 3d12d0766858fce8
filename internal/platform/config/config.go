// Package config loads the service configuration from an optional dotenv
// file and USHER_-prefixed process variables, with environment-aware
// defaults. Durations use a deliberately small grammar (see ParseDuration)
// so an operator typo like "10min" fails loudly instead of parsing as
// something surprising.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"usher/internal/platform/environment"
)

// DevSigningKey is the well-known placeholder baked into development
// deployments. Hardened environments refuse to sign with it.
const DevSigningKey = "dev-secret-key-change-in-production"

const envPrefix = "USHER_"

// Config is the root of all service configuration.
type Config struct {
	Environment string
	Server      Server
	Token       Token
	OTP         OTP
	Refresh     Refresh
	Email       Email
	Rate        Rate
	Suspension  Suspension
	Redis       Redis
	Cleanup     Cleanup
	Audit       Audit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Token configures access token minting.
type Token struct {
	SigningKey string
	TTL        time.Duration
	Issuer     string
	Audience   string
}

// OTP configures one-time code challenges.
type OTP struct {
	TTL    time.Duration
	Digits int
	// Bypass is a fixed code accepted without a live challenge. It is only
	// honored in non-production environments; empty disables it entirely.
	Bypass string
}

// Refresh configures refresh token lifetime.
type Refresh struct {
	TTL time.Duration
}

// Email configures out-of-band code delivery.
type Email struct {
	Timeout time.Duration
	From    string
}

// Limit is one rate-limit counter: at most MaxPerWindow events per Window.
type Limit struct {
	MaxPerWindow int
	Window       time.Duration
}

// Rate holds the two independent challenge-request counters.
type Rate struct {
	Identity Limit
	Origin   Limit
}

// Suspension configures the consecutive-failure lockout.
type Suspension struct {
	Threshold int
	Lockout   time.Duration
}

// Redis configures the optional shared store. Empty URL keeps the
// process-local in-memory stores.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Cleanup configures the background reaper for expired refresh tokens.
type Cleanup struct {
	Interval time.Duration
}

// Audit configures the audit event publisher.
type Audit struct {
	Buffer int
}

// Load reads configuration from the dotenv file at path (skipped when the
// file does not exist) and then from USHER_* process variables, which win.
// USHER_OTP_TTL becomes the key "otp.ttl" and so on.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), dotenv.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{
		Environment: str(k, "environment", "development"),
	}

	var err error
	load := func(dst *time.Duration, key string, fallback time.Duration) {
		if err != nil {
			return
		}
		*dst, err = dur(k, key, fallback)
	}

	cfg.Server.Addr = str(k, "server.addr", ":8080")
	load(&cfg.Server.ShutdownTimeout, "server.shutdown.timeout", 10*time.Second)

	cfg.Token.SigningKey = str(k, "token.secret", DevSigningKey)
	cfg.Token.Issuer = str(k, "token.issuer", "usher")
	cfg.Token.Audience = str(k, "token.audience", "usher")
	load(&cfg.Token.TTL, "token.ttl", 2*time.Hour)

	cfg.OTP.Digits = num(k, "otp.digits", 6)
	cfg.OTP.Bypass = str(k, "otp.bypass", "")
	load(&cfg.OTP.TTL, "otp.ttl", 10*time.Minute)

	load(&cfg.Refresh.TTL, "refresh.ttl", 30*24*time.Hour)

	cfg.Email.From = str(k, "email.from", "no-reply@usher.local")
	load(&cfg.Email.Timeout, "email.timeout", 10*time.Second)

	defaults := rateDefaults(cfg.Environment)
	cfg.Rate.Identity.MaxPerWindow = num(k, "rate.identity.max", defaults.Identity.MaxPerWindow)
	load(&cfg.Rate.Identity.Window, "rate.identity.window", defaults.Identity.Window)
	cfg.Rate.Origin.MaxPerWindow = num(k, "rate.origin.max", defaults.Origin.MaxPerWindow)
	load(&cfg.Rate.Origin.Window, "rate.origin.window", defaults.Origin.Window)

	cfg.Suspension.Threshold = num(k, "suspension.threshold", 5)
	load(&cfg.Suspension.Lockout, "suspension.lockout", 5*time.Minute)

	cfg.Redis.URL = str(k, "redis.url", "")
	cfg.Redis.PoolSize = num(k, "redis.pool", 10)
	cfg.Redis.MinIdleConns = num(k, "redis.idle", 2)
	load(&cfg.Redis.DialTimeout, "redis.dial.timeout", 5*time.Second)
	load(&cfg.Redis.ReadTimeout, "redis.read.timeout", 3*time.Second)
	load(&cfg.Redis.WriteTimeout, "redis.write.timeout", 3*time.Second)

	load(&cfg.Cleanup.Interval, "cleanup.interval", 5*time.Minute)

	cfg.Audit.Buffer = num(k, "audit.buffer", 256)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// rateDefaults loosens the challenge-request limits outside production so
// local development and test suites do not trip them. The limiter itself
// always runs; only the thresholds differ.
func rateDefaults(envName string) Rate {
	if environment.IsNonProduction(envName) {
		return Rate{
			Identity: Limit{MaxPerWindow: 100, Window: time.Minute},
			Origin:   Limit{MaxPerWindow: 1000, Window: time.Minute},
		}
	}
	return Rate{
		Identity: Limit{MaxPerWindow: 5, Window: 10 * time.Minute},
		Origin:   Limit{MaxPerWindow: 50, Window: 10 * time.Minute},
	}
}

func str(k *koanf.Koanf, key, fallback string) string {
	v := k.Get(key)
	if v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func num(k *koanf.Koanf, key string, fallback int) int {
	switch v := k.Get(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func dur(k *koanf.Koanf, key string, fallback time.Duration) (time.Duration, error) {
	v := k.Get(key)
	if v == nil {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return fallback, nil
	}
	d, err := ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config %s: %w", key, err)
	}
	return d, nil
}

// ParseDuration parses the configuration duration grammar: a non-negative
// integer immediately followed by exactly one unit, one of "s", "m", "h",
// or "d" (a day is 24 hours). Compound forms like "1h30m" and sub-second
// units are rejected.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 {
		return 0, fmt.Errorf("duration %q: want <integer><unit>", raw)
	}

	digits := s[:len(s)-1]
	var n int64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("duration %q: want <integer><unit>", raw)
		}
		n = n*10 + int64(c-'0')
		if n > 1<<40 {
			return 0, fmt.Errorf("duration %q: too large", raw)
		}
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("duration %q: unit must be one of s, m, h, d", raw)
	}

	if n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("duration %q: too large", raw)
	}
	return time.Duration(n) * unit, nil
}
