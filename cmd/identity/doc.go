// Package identity holds Parley's user model: registration drafts, account
// creation, credential storage, and lookups for the auth layer.
package identity
