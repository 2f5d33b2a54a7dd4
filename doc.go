// Package goLogin is a credential lifecycle engine: login with admission
// windows and account lockout, JWT access tokens, rotating opaque refresh
// tokens with reuse detection, and login events for an idempotent audit
// trail.
//
// Engine methods are safe to call from multiple goroutines once built with
// [Builder.Build].
//
// # Architecture boundaries
//
// goLogin is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Counters live behind counter.Store, durable records
// behind credential.Store, and events leave through events.Stream. The
// audit package consumes those events on the other side.
//
// # What this package must NOT do
//
//   - Tell a caller why a login failed. Every denial is ErrAuthenticationDenied.
//   - Return a token pair before the refresh row is committed.
//   - Block a request on event delivery.
//   - Log passwords, refresh secrets, or access tokens.
//
// # Failure policy
//
// Counter store outages are handled by Security.CounterFailurePolicy, which
// has no default. FailOpen admits logins and logs. FailClosed denies them.
// Credential store failures always fail the request.
package goLogin
