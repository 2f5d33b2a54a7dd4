// Package internal holds helpers private to goLogin: opaque secret
// generation and hashing.
//
// # Sub-packages
//
//   - guard: admission windows and account lockout on counter.Store
//   - tokens: refresh-token issuance, rotation and revocation
//   - challenge: single-use password-reset and email-verification secrets
//   - logging: zap logger construction for the binaries
package internal
