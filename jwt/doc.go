// Package jwt signs and verifies short-lived access tokens (Ed25519 or
// HS256). Verification is stateless: revocation is handled by keeping the
// access TTL short and rotating refresh tokens server-side.
package jwt
