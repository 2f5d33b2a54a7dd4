// Package challenge stores single-use secrets for password reset and email
// verification in Redis. Only the SHA-256 of a secret is used as key; the
// value is the owning user id.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goLogin/internal"
	"github.com/redis/go-redis/v9"
)

// Kind separates challenge namespaces.
type Kind string

const (
	KindPasswordReset     Kind = "pwreset"
	KindEmailVerification Kind = "emailverify"
)

var (
	// ErrInvalid covers unknown, expired, malformed and already-used secrets.
	ErrInvalid = errors.New("challenge invalid or expired")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("challenge store unavailable")
)

// Store issues and consumes challenges.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store writing under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gl"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) secretKey(kind Kind, hash string) string {
	return s.prefix + ":ch:" + string(kind) + ":" + hash
}

func (s *Store) userKey(kind Kind, userID string) string {
	return s.prefix + ":ch:" + string(kind) + ":u:" + userID
}

// Issue creates a new secret for userID and invalidates any earlier
// outstanding secret of the same kind.
func (s *Store) Issue(ctx context.Context, kind Kind, userID string, ttl time.Duration) (string, error) {
	secret, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	hash, err := internal.HashOpaqueToken(secret)
	if err != nil {
		return "", err
	}

	userKey := s.userKey(kind, userID)
	previous, err := s.redis.Get(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" {
			pipe.Del(ctx, s.secretKey(kind, previous))
		}
		pipe.Set(ctx, s.secretKey(kind, hash), userID, ttl)
		pipe.Set(ctx, userKey, hash, ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return secret, nil
}

// Consume validates secret and deletes it, returning the owning user id.
// Concurrent consumers of one secret see exactly one success.
func (s *Store) Consume(ctx context.Context, kind Kind, secret string) (string, error) {
	hash, err := internal.HashOpaqueToken(secret)
	if err != nil {
		return "", ErrInvalid
	}
	key := s.secretKey(kind, hash)

	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		var userID string
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			v, err := tx.Get(ctx, key).Result()
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, s.userKey(kind, v))
				return nil
			})
			if err != nil {
				return err
			}
			userID = v
			return nil
		}, key)

		switch {
		case err == nil:
			return userID, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return "", ErrInvalid
		default:
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return "", ErrInvalid
}
