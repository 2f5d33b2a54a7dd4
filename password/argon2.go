package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	// maxMemoryKB caps parameters read back from stored hashes so a forged
	// row cannot make a single verification allocate gigabytes.
	maxMemoryKB uint32 = 1024 * 1024
	argon2ID           = "argon2id"
)

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the argon2id parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes passwords with argon2id and encodes them as PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
type Argon2 struct {
	config Config
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a new salted hash. Raw string bytes are used as given, with no
// Unicode normalization.
func (a *Argon2) Hash(plaintext string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plaintext), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares plaintext against storedHash. Unparseable hashes still pay
// for one derivation with the configured parameters and return false.
func (a *Argon2) Verify(plaintext, storedHash string) bool {
	parsed, err := parsePHC(storedHash)
	if err != nil {
		burn := make([]byte, a.config.SaltLength)
		_ = argon2.IDKey([]byte(plaintext), burn, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)
		return false
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.hash)),
	)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1
}

// NeedsUpgrade reports whether storedHash was produced with weaker
// parameters than the current config.
func (a *Argon2) NeedsUpgrade(storedHash string) bool {
	parsed, err := parsePHC(storedHash)
	if err != nil {
		return true
	}
	return a.config.Memory > parsed.memory ||
		a.config.Time > parsed.time ||
		a.config.Parallelism > parsed.parallelism ||
		a.config.KeyLength != uint32(len(parsed.hash))
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return nil, errors.New("invalid argon2id hash")
	}

	if v, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v=")); err != nil || !strings.HasPrefix(parts[2], "v=") || v != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	out := &phc{}
	if err := out.parseParams(parts[3]); err != nil {
		return nil, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	hash, err := decodeB64(parts[5])
	if err != nil || len(hash) < int(minKeyLength) {
		return nil, errors.New("invalid hash")
	}
	out.salt, out.hash = salt, hash
	return out, nil
}

func (p *phc) parseParams(part string) error {
	seen := 0
	for _, pair := range strings.Split(part, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return errors.New("invalid parameter entry")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid parameter %s", k)
		}
		switch k {
		case "m":
			if n < uint64(minMemoryKB) || n > uint64(maxMemoryKB) {
				return errors.New("memory parameter out of range")
			}
			p.memory = uint32(n)
		case "t":
			if n < uint64(minTimeCost) {
				return errors.New("time parameter out of range")
			}
			p.time = uint32(n)
		case "p":
			if n < uint64(minParallelism) || n > 255 {
				return errors.New("parallelism parameter out of range")
			}
			p.parallelism = uint8(n)
		default:
			return errors.New("unsupported parameter")
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return errors.New("missing parameters")
	}
	return nil
}

// decodeB64 accepts both unpadded (PHC standard) and padded encodings.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}
