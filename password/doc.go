// Package password hashes and verifies user passwords.
//
// Two schemes ship: [Argon2] (argon2id, PHC string format) and [Bcrypt].
// Both satisfy [Hasher]. Verification never returns an error: a malformed
// or foreign stored hash simply fails to match, after spending comparable
// work so the caller's timing does not reveal why.
//
// Password policy (minimum length and so on) belongs to the caller.
package password
