package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrExpired is returned by ParseAccess for well-formed, correctly signed
	// tokens whose exp lies in the past.
	ErrExpired = errors.New("access token expired")
	// ErrInvalid covers every other parse or verification failure.
	ErrInvalid = errors.New("access token invalid")
)

// Config holds signing keys and validation rules.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	// VerifyKeys maps kid to verification key during key rotation.
	VerifyKeys map[string][]byte
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Manager signs and verifies access tokens.
type Manager struct {
	config Config
}

// AccessClaims is the access-token payload.
type AccessClaims struct {
	UID   string   `json:"uid"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 16 {
			return nil, errors.New("hs256 requires a secret of at least 16 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// TTL returns the configured access-token lifetime.
func (j *Manager) TTL() time.Duration {
	return j.config.AccessTTL
}

// CreateAccess signs a new access token for uid carrying roles. It returns the
// compact token and its expiry.
func (j *Manager) CreateAccess(uid string, roles []string) (string, time.Time, error) {
	now := j.config.Now()
	exp := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		UID:   uid,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.signKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseAccess verifies signature, algorithm, issuer, audience and expiry.
// Failures map to [ErrExpired] or [ErrInvalid].
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, j.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.UID == "" {
		return nil, ErrInvalid
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
	}
	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(j.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.verifyKeyFrom(key)
	}
	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, errors.New("unknown kid")
	}

	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) method() jwt.SigningMethod {
	if j.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (j *Manager) signKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) verifyKeyFrom(key []byte) (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

// parseEdPrivateKey accepts raw 64-byte keys or PEM (PKCS#8).
func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
