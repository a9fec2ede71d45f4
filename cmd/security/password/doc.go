// Package password provides password hashing and verification for Parley.
//
// It implements Argon2id hashing with a PHC-style encoded string format:
// - Configurable Argon2id parameters (via environment variables)
// - Password policy validation
// - Strict hash decoding, with anti-DoS bounds on attacker-supplied hashes
//
// Hash strings are treated as untrusted input during Verify and are validated
// before any key derivation happens.
package password
