// Package middleware adapts goLogin.Engine to net/http.
//
//   - [RequireAccess] validates the bearer access token and stores its claims
//     in the request context.
//   - [RequireRole] rejects requests whose claims lack a role.
//   - [ClientInfo] copies the caller's IP and User-Agent into the context
//     the Engine reads them from.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly. Validation is the Engine's job.
//   - Touch any store.
//   - Tell the client why a token was rejected.
package middleware
