// Package session implements cookie-backed sessions for Parley.
//
// A session is an opaque random token handed to the client in an HttpOnly
// cookie; the server stores only the token's hash. Validation is a hash
// lookup plus active checks (not expired, not revoked).
package session
