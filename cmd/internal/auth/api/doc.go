// Package api exposes Parley's authentication HTTP surface: the two-step
// registration flow, login/logout, and the session guard used by the
// protected chat routes.
package api
