package goLogin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goLogin/events"
	"github.com/MrEthical07/goLogin/internal/guard"
	"github.com/MrEthical07/goLogin/password"
)

// FailurePolicy decides how login admission behaves while the counter
// store is unreachable. There is no default: Validate rejects PolicyUnset.
type FailurePolicy = guard.FailurePolicy

const (
	PolicyUnset = guard.PolicyUnset
	// FailOpen admits logins and logs a warning while counters are down.
	FailOpen = guard.FailOpen
	// FailClosed denies logins and treats every user as locked while
	// counters are down.
	FailClosed = guard.FailClosed
)

// Config is the complete engine configuration. Start from DefaultConfig and
// set Security.CounterFailurePolicy before building.
type Config struct {
	KeyPrefix string
	Admission AdmissionConfig
	Lockout   LockoutConfig
	Token     TokenConfig
	Password  PasswordConfig
	Challenge ChallengeConfig
	Account   AccountConfig
	Events    EventsConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
ADMISSION CONFIG
====================================
*/

// AdmissionConfig bounds failed attempts per client IP and per email.
type AdmissionConfig struct {
	IPMaxAttempts    int
	IPWindow         time.Duration
	EmailMaxAttempts int
	EmailWindow      time.Duration
}

// LockoutConfig locks a user after Threshold failed password checks inside
// Window. The lock lasts Duration.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures access JWTs and opaque refresh tokens.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Algorithm      string // "argon2id" (default) or "bcrypt"
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	BcryptCost     int
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

// ChallengeConfig sets lifetimes of password-reset and email-verification
// secrets.
type ChallengeConfig struct {
	ResetTTL        time.Duration
	VerificationTTL time.Duration
}

// AccountConfig covers registration.
type AccountConfig struct {
	DefaultRole string
}

/*
====================================
EVENTS CONFIG
====================================
*/

type EventsConfig struct {
	Enabled            bool
	BufferSize         int
	DropIfFull         bool
	PublishTimeout     time.Duration
	MaxPublishAttempts int
	RetryBackoff       time.Duration
	MaxRetryBackoff    time.Duration
	// DrainTimeout bounds how long Engine.Close waits on undelivered events.
	DrainTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	// CounterTimeout bounds each counter store call on the login path.
	CounterTimeout time.Duration
	// StoreTimeout bounds each credential store call.
	StoreTimeout         time.Duration
	CounterFailurePolicy FailurePolicy
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a config with every default filled in except the
// counter failure policy.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	argon := password.DefaultConfig()
	return Config{
		KeyPrefix: "gl",
		Admission: AdmissionConfig{
			IPMaxAttempts:    20,
			IPWindow:         60 * time.Second,
			EmailMaxAttempts: 10,
			EmailWindow:      900 * time.Second,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    900 * time.Second,
			Duration:  900 * time.Second,
		},
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    14 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "gologin",
		},
		Password: PasswordConfig{
			Algorithm:      password.AlgorithmArgon2id,
			Memory:         argon.Memory,
			Time:           argon.Time,
			Parallelism:    argon.Parallelism,
			SaltLength:     argon.SaltLength,
			KeyLength:      argon.KeyLength,
			BcryptCost:     password.DefaultBcryptCost,
			MinLength:      8,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Challenge: ChallengeConfig{
			ResetTTL:        15 * time.Minute,
			VerificationTTL: 24 * time.Hour,
		},
		Account: AccountConfig{
			DefaultRole: "user",
		},
		Events: EventsConfig{
			Enabled:            true,
			BufferSize:         1024,
			DropIfFull:         true,
			PublishTimeout:     5 * time.Second,
			MaxPublishAttempts: 5,
			RetryBackoff:       100 * time.Millisecond,
			MaxRetryBackoff:    5 * time.Second,
			DrainTimeout:       5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			CounterTimeout:       50 * time.Millisecond,
			StoreTimeout:         3 * time.Second,
			CounterFailurePolicy: PolicyUnset,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c Config) guardConfig() guard.Config {
	return guard.Config{
		KeyPrefix:        c.KeyPrefix,
		IPMaxAttempts:    c.Admission.IPMaxAttempts,
		IPWindow:         c.Admission.IPWindow,
		EmailMaxAttempts: c.Admission.EmailMaxAttempts,
		EmailWindow:      c.Admission.EmailWindow,
		LockoutThreshold: c.Lockout.Threshold,
		LockoutWindow:    c.Lockout.Window,
		LockoutDuration:  c.Lockout.Duration,
		CounterTimeout:   c.Security.CounterTimeout,
		FailurePolicy:    c.Security.CounterFailurePolicy,
	}
}

func (c Config) argonConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c Config) publisherConfig() events.Config {
	return events.Config{
		BufferSize:      c.Events.BufferSize,
		DropIfFull:      c.Events.DropIfFull,
		PublishTimeout:  c.Events.PublishTimeout,
		MaxAttempts:     c.Events.MaxPublishAttempts,
		RetryBackoff:    c.Events.RetryBackoff,
		MaxRetryBackoff: c.Events.MaxRetryBackoff,
		DrainTimeout:    c.Events.DrainTimeout,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found. All returned
// errors wrap ErrValidation.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.KeyPrefix) == "" {
		return errors.New("KeyPrefix must not be empty")
	}

	// Admission and lockout
	if c.Admission.IPMaxAttempts <= 0 || c.Admission.EmailMaxAttempts <= 0 {
		return errors.New("Admission max attempts must be > 0")
	}
	if c.Admission.IPWindow <= 0 || c.Admission.EmailWindow <= 0 {
		return errors.New("Admission windows must be > 0")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("Lockout Window and Duration must be > 0")
	}

	// Tokens
	if c.Token.AccessTTL < 10*time.Minute || c.Token.AccessTTL > 15*time.Minute {
		return errors.New("Token AccessTTL must be between 10m and 15m")
	}
	if c.Token.RefreshTTL < 7*24*time.Hour || c.Token.RefreshTTL > 30*24*time.Hour {
		return errors.New("Token RefreshTTL must be between 7 and 30 days")
	}
	switch c.Token.SigningMethod {
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported Token SigningMethod")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}

	// Password
	switch c.Password.Algorithm {
	case password.AlgorithmArgon2id, password.AlgorithmBcrypt:
	default:
		return errors.New("unsupported Password Algorithm")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Challenges
	if c.Challenge.ResetTTL <= 0 || c.Challenge.VerificationTTL <= 0 {
		return errors.New("Challenge TTLs must be > 0")
	}

	// Events
	if c.Events.Enabled {
		if c.Events.BufferSize <= 0 {
			return errors.New("Events BufferSize must be > 0")
		}
		if c.Events.MaxPublishAttempts <= 0 {
			return errors.New("Events MaxPublishAttempts must be > 0")
		}
		if c.Events.PublishTimeout <= 0 {
			return errors.New("Events PublishTimeout must be > 0")
		}
		if c.Events.DrainTimeout < 0 {
			return errors.New("Events DrainTimeout must be >= 0")
		}
	}

	// Security
	if c.Security.CounterTimeout <= 0 || c.Security.CounterTimeout > time.Second {
		return errors.New("Security CounterTimeout must be in (0, 1s]")
	}
	if c.Security.StoreTimeout <= 0 {
		return errors.New("Security StoreTimeout must be > 0")
	}
	switch c.Security.CounterFailurePolicy {
	case FailOpen, FailClosed:
	default:
		return errors.New("Security CounterFailurePolicy must be set to FailOpen or FailClosed")
	}

	return nil
}
